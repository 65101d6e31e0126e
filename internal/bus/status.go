package bus

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/model"
)

var systemModeMap = map[byte]model.SystemMode{
	0: model.ModeHeat,
	1: model.ModeCool,
	2: model.ModeAuto,
	3: model.ModeEHeat,
	4: model.ModeOff,
}

var fanModeMap = map[byte]model.FanMode{
	0: model.FanAuto,
	1: model.FanOn,
}

var weekdayMap = map[byte]string{0: "Sun", 1: "Mon", 2: "Tue", 3: "Wed", 4: "Thu", 5: "Fri", 6: "Sat"}

// GetStatusData runs the ordered read sequence against the controller
// and decodes the result into a SystemStatus.
func (c *Client) GetStatusData(includeRaw bool) (model.SystemStatus, error) {
	rows := make(map[string][]byte, len(ReadQueries))
	for _, query := range ReadQueries {
		table, row, err := splitQuery(query)
		if err != nil {
			return model.SystemStatus{}, err
		}
		frame, err := c.ReadRow(table, table, row)
		if err != nil {
			return model.SystemStatus{}, err
		}
		rows[query] = frame.Data
	}

	status, err := c.decodeStatus(rows)
	if err != nil {
		return model.SystemStatus{}, err
	}
	if includeRaw {
		status.Raw = buildRawBlob(rows)
	}
	return status, nil
}

func splitQuery(query string) (table, row byte, err error) {
	parts := strings.SplitN(query, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: malformed read query %q", errs.ErrInternal, query)
	}
	t, err1 := strconv.Atoi(parts[0])
	r, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: malformed read query %q", errs.ErrInternal, query)
	}
	return byte(t), byte(r), nil
}

// safeByte returns row[i], or 0 with a log line if i is out of range.
func (c *Client) safeByte(row []byte, i int, query string) byte {
	if i < 0 || i >= len(row) {
		c.log.Warn("status_decode_short_row", "query", query, "index", i, "len", len(row))
		return 0
	}
	return row[i]
}

func decodeTemp(b4, b5, b7 byte) int {
	if b4 == 0 && b5 == 0 {
		return int(b7)
	}
	raw := int(b4)<<8 | int(b5)
	q := raw / 16
	if b4 > 0x80 {
		q -= 4096
	}
	return q
}

func (c *Client) decodeStatus(rows map[string][]byte) (model.SystemStatus, error) {
	get := func(query string) []byte { return rows[query] }
	at := func(query string, i int) byte { return c.safeByte(get(query), i, query) }

	day := at("1.18", 3)
	hour := at("1.18", 4)
	minute := at("1.18", 5)
	ampm := "am"
	if hour >= 12 {
		ampm = "pm"
	}
	displayHour := hour
	switch {
	case hour == 0:
		displayHour = 12
	case hour > 12:
		displayHour = hour - 12
	}
	weekday, ok := weekdayMap[day]
	if !ok {
		weekday = "Unk"
	}
	systemTime := fmt.Sprintf("%s %02d:%02d%s", weekday, displayHour, minute, ampm)

	sModeRaw := at("1.12", 4)
	eModeRaw := at("1.12", 6)
	sMode, ok := systemModeMap[sModeRaw]
	if !ok {
		sMode = model.ModeOff
	}
	eMode, ok := systemModeMap[eModeRaw]
	if !ok {
		eMode = model.ModeOff
	}

	fanModeRaw := (at("1.17", 3) >> 2) & 1
	fanMode, ok := fanModeMap[fanModeRaw]
	if !ok {
		fanMode = model.FanAuto
	}

	panel := at("9.5", 3)
	compressorStage1 := panel&0x01 != 0
	compressorStage2 := panel&0x02 != 0
	auxHeatStage1 := panel&0x04 != 0
	auxHeatStage2 := panel&0x08 != 0
	reversingValve := panel&0x10 != 0
	fanOn := panel&0x20 != 0
	humidify := panel&0x40 != 0
	dehumidify := panel&0x80 != 0
	compressorOn := compressorStage1 || compressorStage2
	auxHeatOn := auxHeatStage1 || auxHeatStage2

	activeState := "Cool Off"
	if eMode == model.ModeHeat || eMode == model.ModeEHeat {
		activeState = "Heat Off"
	}
	if compressorOn {
		activeState = "Cool On"
		if eMode == model.ModeHeat || eMode == model.ModeEHeat {
			activeState = "Heat On"
		}
	}
	if auxHeatOn {
		activeState += " [AUX]"
	}

	fanState := "Off"
	if fanOn {
		fanState = "On"
	}

	// outside_temp's fallback byte is b[7] of the same panel-data row.
	outsideTemp := decodeTemp(at("9.3", 4), at("9.3", 5), at("9.3", 7))

	status := model.SystemStatus{
		SystemTime:       systemTime,
		SystemMode:       sMode,
		EffectiveMode:    eMode,
		FanMode:          fanMode,
		FanState:         fanState,
		ActiveState:      activeState,
		AllMode:          at("1.12", 15) != 0,
		OutsideTemp:      outsideTemp,
		AirHandlerTemp:   int(at("9.3", 6)),
		Zone1Humidity:    int(at("1.9", 4)),
		CompressorStage1: compressorStage1,
		CompressorStage2: compressorStage2,
		AuxHeatStage1:    auxHeatStage1,
		AuxHeatStage2:    auxHeatStage2,
		Humidify:         humidify,
		Dehumidify:       dehumidify,
		ReversingValve:   reversingValve,
		Zones:            make([]model.ZoneStatus, c.zoneCount),
	}

	for i := 0; i < c.zoneCount; i++ {
		bit := byte(1 << uint(i))
		damperRaw := at("9.4", i+3)
		damper := 0
		if damperRaw > 0 {
			damper = roundDivide(int(damperRaw)*100, 15)
		}
		status.Zones[i] = model.ZoneStatus{
			ZoneID:         i + 1,
			DamperPosition: damper,
			CoolSetpoint:   int(at("1.16", i+3)),
			HeatSetpoint:   int(at("1.16", i+11)),
			Temperature:    int(at("1.24", i+3)),
			Temporary:      at("1.12", 9)&bit != 0,
			Hold:           at("1.12", 10)&bit != 0,
			Out:            at("1.12", 12)&bit != 0,
		}
	}

	// All-mode propagation: a non-zero source zone's setpoints/flags
	// replace every other zone's.
	src := int(at("1.12", 15))
	if src >= 1 && src <= c.zoneCount {
		donor := status.Zones[src-1]
		for i := range status.Zones {
			if i == src-1 {
				continue
			}
			status.Zones[i].CoolSetpoint = donor.CoolSetpoint
			status.Zones[i].HeatSetpoint = donor.HeatSetpoint
			status.Zones[i].Temporary = donor.Temporary
			status.Zones[i].Hold = donor.Hold
			status.Zones[i].Out = donor.Out
		}
	}

	return status, nil
}

// roundDivide rounds num/den to the nearest integer, half away from zero.
func roundDivide(num, den int) int {
	if den == 0 {
		return 0
	}
	if num < 0 {
		return -((-num + den/2) / den)
	}
	return (num + den/2) / den
}

// buildRawBlob concatenates the raw rows in ascending (table,row)
// order, each prefixed by a single length byte, and base64-encodes
// the result.
func buildRawBlob(rows map[string][]byte) string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, ri, _ := splitQuery(keys[i])
		tj, rj, _ := splitQuery(keys[j])
		if ti != tj {
			return ti < tj
		}
		return ri < rj
	})

	var out []byte
	for _, k := range keys {
		row := rows[k]
		length := len(row)
		if length > 255 {
			length = 255
		}
		out = append(out, byte(length))
		out = append(out, row[:length]...)
	}
	return base64.StdEncoding.EncodeToString(out)
}
