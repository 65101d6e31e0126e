package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		zones:                  4,
		deviceID:               1,
		logFormat:              "text",
		logLevel:               "info",
		cacheStaleSeconds:      600,
		cacheRefreshInterval:   300 * time.Second,
		sseHeartbeatInterval:   30 * time.Second,
		sseMaxSubscribersPerIP: 10,
		sseMaxSubscribers:      100,
		commandTimeoutSeconds:  30,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected a valid default config, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cases := []func(*appConfig){
		func(c *appConfig) { c.logFormat = "xml" },
		func(c *appConfig) { c.logLevel = "verbose" },
		func(c *appConfig) { c.zones = 0 },
		func(c *appConfig) { c.zones = 9 },
		func(c *appConfig) { c.deviceID = 0 },
		func(c *appConfig) { c.deviceID = 256 },
		func(c *appConfig) { c.cacheStaleSeconds = 0 },
		func(c *appConfig) { c.cacheRefreshInterval = 0 },
		func(c *appConfig) { c.sseHeartbeatInterval = 0 },
		func(c *appConfig) { c.sseMaxSubscribersPerIP = 0 },
		func(c *appConfig) { c.sseMaxSubscribers = 0 },
		func(c *appConfig) { c.commandTimeoutSeconds = 0 },
		func(c *appConfig) { c.commandTimeoutSeconds = 2 },
	}
	for i, mutate := range cases {
		c := validConfig()
		mutate(c)
		if err := c.validate(); err == nil {
			t.Fatalf("case %d: expected a validation error", i)
		}
	}
}

func TestValidateAcceptsCommandTimeoutAtTheFloor(t *testing.T) {
	c := validConfig()
	c.commandTimeoutSeconds = 5
	if err := c.validate(); err != nil {
		t.Fatalf("5s command timeout should be the accepted floor, got %v", err)
	}
}

func TestZoneNameListSplitsAndTrims(t *testing.T) {
	c := &appConfig{zoneNames: " Living Room , Bedroom ,Office"}
	got := c.zoneNameList()
	want := []string{"Living Room", "Bedroom", "Office"}
	if len(got) != len(want) {
		t.Fatalf("zoneNameList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("zoneNameList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestZoneNameListEmptyReturnsNil(t *testing.T) {
	c := &appConfig{}
	if got := c.zoneNameList(); got != nil {
		t.Fatalf("expected nil for an empty zone-names string, got %v", got)
	}
}

func TestParseBoolLoose(t *testing.T) {
	cases := []struct {
		in       string
		fallback bool
		want     bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"0", true, false},
		{"false", true, false},
		{"no", true, false},
		{"off", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tc := range cases {
		if got := parseBoolLoose(tc.in, tc.fallback); got != tc.want {
			t.Fatalf("parseBoolLoose(%q, %v) = %v, want %v", tc.in, tc.fallback, got, tc.want)
		}
	}
}

func TestApplyEnvOverridesFillsUnsetFields(t *testing.T) {
	t.Setenv("CZ_CONNECT", "192.168.1.50:8899")
	t.Setenv("CZ_ZONES", "6")
	t.Setenv("CACHE_REFRESH_INTERVAL", "45")
	t.Setenv("ENABLE_SSE", "false")

	c := validConfig()
	c.sseEnable = true
	if err := applyEnvOverrides(c, map[string]struct{}{}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if c.connect != "192.168.1.50:8899" {
		t.Fatalf("connect = %q", c.connect)
	}
	if c.zones != 6 {
		t.Fatalf("zones = %d, want 6", c.zones)
	}
	if c.cacheRefreshInterval != 45*time.Second {
		t.Fatalf("cacheRefreshInterval = %v, want 45s (bare seconds form)", c.cacheRefreshInterval)
	}
	if c.sseEnable {
		t.Fatalf("sseEnable should be false after ENABLE_SSE=false")
	}
}

func TestApplyEnvOverridesNeverOverridesAnExplicitFlag(t *testing.T) {
	t.Setenv("CZ_ZONES", "8")
	c := validConfig()
	c.zones = 2
	if err := applyEnvOverrides(c, map[string]struct{}{"zones": {}}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if c.zones != 2 {
		t.Fatalf("an explicitly set flag must win over the environment: zones = %d, want 2", c.zones)
	}
}

func TestApplyEnvOverridesCombinesHTTPHostAndPort(t *testing.T) {
	t.Setenv("HTTP_HOST", "10.0.0.5")
	t.Setenv("HTTP_PORT", "9090")
	c := validConfig()
	if err := applyEnvOverrides(c, map[string]struct{}{}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if c.listenAddr != "10.0.0.5:9090" {
		t.Fatalf("listenAddr = %q, want 10.0.0.5:9090", c.listenAddr)
	}
}

func TestApplyEnvOverridesRejectsUnparsableIntegers(t *testing.T) {
	t.Setenv("CZ_ZONES", "not-a-number")
	c := validConfig()
	if err := applyEnvOverrides(c, map[string]struct{}{}); err == nil {
		t.Fatalf("expected an error for a non-numeric CZ_ZONES")
	}
}
