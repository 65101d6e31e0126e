// Package model holds the decoded controller state shapes shared by the
// bus client, the cache, the HVAC service, and the HTTP/MQTT adapters.
package model

import (
	"strconv"
	"time"
)

// SystemMode enumerates the controller's operating mode.
type SystemMode string

const (
	ModeHeat  SystemMode = "Heat"
	ModeCool  SystemMode = "Cool"
	ModeAuto  SystemMode = "Auto"
	ModeEHeat SystemMode = "EHeat"
	ModeOff   SystemMode = "Off"
)

// FanMode enumerates the controller's fan mode.
type FanMode string

const (
	FanAuto FanMode = "Auto"
	FanOn   FanMode = "On"
)

// ZoneStatus is the decoded per-zone state.
type ZoneStatus struct {
	ZoneID         int  `json:"zone_id"`
	Temperature    int  `json:"temperature"`
	DamperPosition int  `json:"damper_position"`
	CoolSetpoint   int  `json:"cool_setpoint"`
	HeatSetpoint   int  `json:"heat_setpoint"`
	Temporary      bool `json:"temporary"`
	Hold           bool `json:"hold"`
	Out            bool `json:"out"`
}

// SystemStatus is the full decoded controller snapshot.
type SystemStatus struct {
	SystemTime      string       `json:"system_time"`
	SystemMode      SystemMode   `json:"system_mode"`
	EffectiveMode   SystemMode   `json:"effective_mode"`
	FanMode         FanMode      `json:"fan_mode"`
	FanState        string       `json:"fan_state"`
	ActiveState     string       `json:"active_state"`
	AllMode         bool         `json:"all_mode"`
	OutsideTemp     int          `json:"outside_temp"`
	AirHandlerTemp  int          `json:"air_handler_temp"`
	Zone1Humidity   int          `json:"zone1_humidity"`
	CompressorStage1 bool        `json:"compressor_stage_1"`
	CompressorStage2 bool        `json:"compressor_stage_2"`
	AuxHeatStage1    bool        `json:"aux_heat_stage_1"`
	AuxHeatStage2    bool        `json:"aux_heat_stage_2"`
	Humidify         bool        `json:"humidify"`
	Dehumidify       bool        `json:"dehumidify"`
	ReversingValve   bool        `json:"reversing_valve"`
	Raw              string      `json:"raw,omitempty"`
	Zones            []ZoneStatus `json:"zones"`
}

// Empty returns the fixed zero snapshot served by the cache when no
// status has ever been recorded.
func Empty(zoneCount int) SystemStatus {
	zones := make([]ZoneStatus, zoneCount)
	for i := range zones {
		zones[i] = ZoneStatus{ZoneID: i + 1}
	}
	return SystemStatus{
		SystemMode:    ModeOff,
		EffectiveMode: ModeOff,
		FanMode:       FanAuto,
		FanState:      "Off",
		ActiveState:   "Cool Off",
		Zones:         zones,
	}
}

// ToFlat renders the legacy flat payload shape: all_mode as 0/1,
// damper_position as a string, and a top-level unix `time` field.
func (s SystemStatus) ToFlat(includeRaw bool, now time.Time) map[string]any {
	flat := map[string]any{
		"system_time":       s.SystemTime,
		"system_mode":       string(s.SystemMode),
		"effective_mode":    string(s.EffectiveMode),
		"fan_mode":          string(s.FanMode),
		"fan_state":         s.FanState,
		"active_state":      s.ActiveState,
		"all_mode":          boolToInt(s.AllMode),
		"outside_temp":      s.OutsideTemp,
		"air_handler_temp":  s.AirHandlerTemp,
		"zone1_humidity":    s.Zone1Humidity,
		"compressor_stage_1": s.CompressorStage1,
		"compressor_stage_2": s.CompressorStage2,
		"aux_heat_stage_1":   s.AuxHeatStage1,
		"aux_heat_stage_2":   s.AuxHeatStage2,
		"humidify":           s.Humidify,
		"dehumidify":         s.Dehumidify,
		"reversing_valve":    s.ReversingValve,
		"time":               int(now.Unix()),
	}
	if includeRaw && s.Raw != "" {
		flat["raw"] = s.Raw
	}
	zones := make([]map[string]any, len(s.Zones))
	for i, z := range s.Zones {
		zones[i] = map[string]any{
			"zone_id":         z.ZoneID,
			"temperature":     z.Temperature,
			"damper_position": strconv.Itoa(z.DamperPosition),
			"cool_setpoint":   z.CoolSetpoint,
			"heat_setpoint":   z.HeatSetpoint,
			"temporary":       z.Temporary,
			"hold":            z.Hold,
			"out":             z.Out,
		}
	}
	flat["zones"] = zones
	return flat
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CacheMeta describes the freshness and provenance of a cached snapshot.
type CacheMeta struct {
	Connected     bool    `json:"connected"`
	LastUpdateTS  int64   `json:"last_update_ts"`
	StaleAfterSec int64   `json:"stale_after_sec"`
	Source        string  `json:"source"`
	Version       uint64  `json:"version"`
	Error         string  `json:"error,omitempty"`
}

// Source tags used when writing cache updates.
const (
	SourceInit        = "init"
	SourceLoaded      = "loaded"
	SourceAuto        = "auto"
	SourceAutoRefresh = "auto_refresh"
	SourceForce       = "force"
	SourceCommand     = "command"
	SourceError       = "error"
	SourceConnect     = "connect"
	SourceDisconnect  = "disconnect"
)

// IsStale reports whether the snapshot described by meta should be
// considered unreliable at instant now.
func (m CacheMeta) IsStale(now time.Time) bool {
	if m.LastUpdateTS == 0 || !m.Connected {
		return true
	}
	return now.Unix()-m.LastUpdateTS > m.StaleAfterSec
}
