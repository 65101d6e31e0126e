package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	connect   string
	zones     int
	zoneNames string
	deviceID  int

	listenAddr  string
	logFormat   string
	logLevel    string
	metricsAddr string

	mqttEnable     bool
	mqttBroker     string
	mqttClientID   string
	mqttUsername   string
	mqttPassword   string
	mqttTopicPrefix string

	cacheEnable         bool
	cacheStaleSeconds   int64
	cacheDBPath         string
	cacheRefreshInterval time.Duration

	sseEnable               bool
	sseHeartbeatInterval    time.Duration
	sseMaxSubscribersPerIP  int
	sseMaxSubscribers       int

	commandTimeoutSeconds int

	mdnsEnable bool
	mdnsName   string

	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}

	connect := flag.String("connect", "", "Bus endpoint: host:port (TCP) or a serial device path")
	zones := flag.Int("zones", 4, "Number of zones (1-8)")
	zoneNames := flag.String("zone-names", "", "Comma-separated zone display names")
	deviceID := flag.Int("id", 1, "Our device id on the bus, used as the source of every request (1-255)")

	listen := flag.String("listen", ":8080", "HTTP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9100); empty disables")

	mqttEnable := flag.Bool("mqtt-enable", false, "Publish status snapshots to MQTT")
	mqttBroker := flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	mqttClientID := flag.String("mqtt-client-id", "cz2gate", "MQTT client id")
	mqttUsername := flag.String("mqtt-username", "", "MQTT username")
	mqttPassword := flag.String("mqtt-password", "", "MQTT password")
	mqttTopicPrefix := flag.String("mqtt-topic-prefix", "cz2gate", "MQTT topic prefix")

	cacheEnable := flag.Bool("enable-cache", true, "Serve the /cache/stats and /cache/clear HTTP routes (the state cache itself always runs)")
	cacheStaleSeconds := flag.Int64("cache-stale-seconds", 600, "Seconds after which a cached snapshot is considered stale")
	cacheDBPath := flag.String("cache-db-path", "cz2gate_cache.db", "Path to the cache's single-row SQLite database")
	cacheRefreshInterval := flag.Duration("cache-refresh-interval", 300*time.Second, "Background refresh cadence")

	sseEnable := flag.Bool("enable-sse", true, "Enable the /events SSE stream and its HTTP routes")
	sseHeartbeatInterval := flag.Duration("sse-heartbeat-interval", 30*time.Second, "SSE heartbeat ping interval")
	sseMaxSubscribersPerIP := flag.Int("sse-max-subscribers-per-ip", 10, "Maximum simultaneous SSE subscribers per client IP")
	sseMaxSubscribers := flag.Int("sse-max-subscribers", 100, "Maximum simultaneous SSE subscribers, total")

	commandTimeoutSeconds := flag.Int("command-timeout-seconds", 30, "Timeout applied to a single ExecuteCommand call")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the HTTP endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default cz2gate-<hostname>)")

	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.connect = *connect
	cfg.zones = *zones
	cfg.zoneNames = *zoneNames
	cfg.deviceID = *deviceID
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.mqttEnable = *mqttEnable
	cfg.mqttBroker = *mqttBroker
	cfg.mqttClientID = *mqttClientID
	cfg.mqttUsername = *mqttUsername
	cfg.mqttPassword = *mqttPassword
	cfg.mqttTopicPrefix = *mqttTopicPrefix
	cfg.cacheEnable = *cacheEnable
	cfg.cacheStaleSeconds = *cacheStaleSeconds
	cfg.cacheDBPath = *cacheDBPath
	cfg.cacheRefreshInterval = *cacheRefreshInterval
	cfg.sseEnable = *sseEnable
	cfg.sseHeartbeatInterval = *sseHeartbeatInterval
	cfg.sseMaxSubscribersPerIP = *sseMaxSubscribersPerIP
	cfg.sseMaxSubscribers = *sseMaxSubscribers
	cfg.commandTimeoutSeconds = *commandTimeoutSeconds
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs range/shape checks only; it never touches the bus
// or the filesystem.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.zones < 1 || c.zones > 8 {
		return fmt.Errorf("zones must be in [1, 8] (got %d)", c.zones)
	}
	if c.deviceID < 1 || c.deviceID > 255 {
		return fmt.Errorf("id must be in [1, 255] (got %d)", c.deviceID)
	}
	if c.cacheStaleSeconds <= 0 {
		return fmt.Errorf("cache-stale-seconds must be > 0")
	}
	if c.cacheRefreshInterval <= 0 {
		return fmt.Errorf("cache-refresh-interval must be > 0")
	}
	if c.sseHeartbeatInterval <= 0 {
		return fmt.Errorf("sse-heartbeat-interval must be > 0")
	}
	if c.sseMaxSubscribersPerIP <= 0 || c.sseMaxSubscribers <= 0 {
		return fmt.Errorf("sse subscriber limits must be > 0")
	}
	if c.commandTimeoutSeconds < 5 {
		return fmt.Errorf("command-timeout-seconds must be >= 5")
	}
	return nil
}

// zoneNameList splits the comma-separated zone-names flag/env value.
func (c *appConfig) zoneNameList() []string {
	if c.zoneNames == "" {
		return nil
	}
	parts := strings.Split(c.zoneNames, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// applyEnvOverrides maps the environment variables named in the
// external interface section onto cfg, unless the corresponding flag
// was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if _, ok := set["connect"]; !ok {
		if v, ok := get("CZ_CONNECT"); ok && v != "" {
			c.connect = v
		}
	}
	if _, ok := set["zones"]; !ok {
		if v, ok := get("CZ_ZONES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.zones = n
			} else {
				setErr(fmt.Errorf("invalid CZ_ZONES: %w", err))
			}
		}
	}
	if _, ok := set["zone-names"]; !ok {
		if v, ok := get("CZ_ZONE_NAMES"); ok {
			c.zoneNames = v
		}
	}
	if _, ok := set["id"]; !ok {
		if v, ok := get("CZ_ID"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.deviceID = n
			} else {
				setErr(fmt.Errorf("invalid CZ_ID: %w", err))
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		host, hasHost := get("HTTP_HOST")
		port, hasPort := get("HTTP_PORT")
		if hasHost || hasPort {
			if host == "" {
				host = "0.0.0.0"
			}
			if port == "" {
				port = "8080"
			}
			c.listenAddr = host + ":" + port
		}
	}
	if _, ok := set["mqtt-enable"]; !ok {
		if v, ok := get("MQTT_ENABLE"); ok && v != "" {
			c.mqttEnable = parseBoolLoose(v, c.mqttEnable)
		}
	}
	if _, ok := set["mqtt-broker"]; !ok {
		if v, ok := get("MQTT_BROKER"); ok && v != "" {
			c.mqttBroker = v
		}
	}
	if _, ok := set["mqtt-client-id"]; !ok {
		if v, ok := get("MQTT_CLIENT_ID"); ok && v != "" {
			c.mqttClientID = v
		}
	}
	if _, ok := set["mqtt-username"]; !ok {
		if v, ok := get("MQTT_USERNAME"); ok {
			c.mqttUsername = v
		}
	}
	if _, ok := set["mqtt-password"]; !ok {
		if v, ok := get("MQTT_PASSWORD"); ok {
			c.mqttPassword = v
		}
	}
	if _, ok := set["mqtt-topic-prefix"]; !ok {
		if v, ok := get("MQTT_TOPIC_PREFIX"); ok && v != "" {
			c.mqttTopicPrefix = v
		}
	}
	if _, ok := set["enable-cache"]; !ok {
		if v, ok := get("ENABLE_CACHE"); ok && v != "" {
			c.cacheEnable = parseBoolLoose(v, c.cacheEnable)
		}
	}
	if _, ok := set["cache-stale-seconds"]; !ok {
		if v, ok := get("CACHE_STALE_SECONDS"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				c.cacheStaleSeconds = n
			} else {
				setErr(fmt.Errorf("invalid CACHE_STALE_SECONDS: %w", err))
			}
		}
	}
	if _, ok := set["cache-db-path"]; !ok {
		if v, ok := get("CACHE_DB_PATH"); ok && v != "" {
			c.cacheDBPath = v
		}
	}
	if _, ok := set["cache-refresh-interval"]; !ok {
		if v, ok := get("CACHE_REFRESH_INTERVAL"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.cacheRefreshInterval = time.Duration(n) * time.Second
			} else if d, err := time.ParseDuration(v); err == nil {
				c.cacheRefreshInterval = d
			} else {
				setErr(fmt.Errorf("invalid CACHE_REFRESH_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["enable-sse"]; !ok {
		if v, ok := get("ENABLE_SSE"); ok && v != "" {
			c.sseEnable = parseBoolLoose(v, c.sseEnable)
		}
	}
	if _, ok := set["sse-heartbeat-interval"]; !ok {
		if v, ok := get("SSE_HEARTBEAT_INTERVAL"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.sseHeartbeatInterval = time.Duration(n) * time.Second
			} else if d, err := time.ParseDuration(v); err == nil {
				c.sseHeartbeatInterval = d
			} else {
				setErr(fmt.Errorf("invalid SSE_HEARTBEAT_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["sse-max-subscribers-per-ip"]; !ok {
		if v, ok := get("SSE_MAX_SUBSCRIBERS_PER_IP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.sseMaxSubscribersPerIP = n
			} else {
				setErr(fmt.Errorf("invalid SSE_MAX_SUBSCRIBERS_PER_IP: %w", err))
			}
		}
	}
	if _, ok := set["command-timeout-seconds"]; !ok {
		if v, ok := get("COMMAND_TIMEOUT_SECONDS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.commandTimeoutSeconds = n
			} else {
				setErr(fmt.Errorf("invalid COMMAND_TIMEOUT_SECONDS: %w", err))
			}
		}
	}
	return firstErr
}

func parseBoolLoose(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
