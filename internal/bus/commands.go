package bus

import (
	"fmt"

	"github.com/kstaniek/cz2gate/internal/model"
)

// reverseMode finds the raw byte for a SystemMode; unknown modes fall
// back to Off's raw value (4), matching the controller's Off default.
func reverseMode(mode model.SystemMode) byte {
	for raw, m := range systemModeMap {
		if m == mode {
			return raw
		}
	}
	return 4
}

func reverseFan(mode model.FanMode) byte {
	for raw, m := range fanModeMap {
		if m == mode {
			return raw
		}
	}
	return 0
}

// SetSystemMode reads row 1.1.12, patches the mode byte and/or the
// all-zones flag, and writes it back.
func (c *Client) SetSystemMode(mode *model.SystemMode, allZonesMode *bool) error {
	if mode == nil && allZonesMode == nil {
		return nil
	}
	frame, err := c.ReadRow(1, 1, 12)
	if err != nil {
		return err
	}
	if len(frame.Data) < 16 {
		return fmt.Errorf("row 1.1.12 too short: %d bytes", len(frame.Data))
	}
	payload := append([]byte(nil), frame.Data[3:]...)
	if mode != nil {
		payload[4-3] = reverseMode(*mode)
	}
	if allZonesMode != nil {
		if *allZonesMode {
			payload[15-3] = 1
		} else {
			payload[15-3] = 0
		}
	}
	return c.WriteRow(1, 1, 12, payload)
}

// SetFanMode reads row 1.1.17, patches bit 2 of byte 3, and writes it back.
func (c *Client) SetFanMode(mode model.FanMode) error {
	frame, err := c.ReadRow(1, 1, 17)
	if err != nil {
		return err
	}
	if len(frame.Data) < 4 {
		return fmt.Errorf("row 1.1.17 too short: %d bytes", len(frame.Data))
	}
	payload := append([]byte(nil), frame.Data[3:]...)
	fanVal := reverseFan(mode)
	payload[0] = (payload[0] &^ (1 << 2)) | (fanVal << 2)
	return c.WriteRow(1, 1, 17, payload)
}

// ZoneSetpointArgs carries the optional per-zone write arguments for
// SetZoneSetpoints; nil fields are left untouched.
type ZoneSetpointArgs struct {
	Heat      *int
	Cool      *int
	Temporary *bool
	Hold      *bool
	Out       *bool
}

// SetZoneSetpoints reads rows 1.1.12 and 1.1.16 once, patches the
// requested zones' bits/bytes, and writes both rows back.
func (c *Client) SetZoneSetpoints(zones []int, args ZoneSetpointArgs) error {
	row12, err := c.ReadRow(1, 1, 12)
	if err != nil {
		return err
	}
	row16, err := c.ReadRow(1, 1, 16)
	if err != nil {
		return err
	}
	if len(row12.Data) < 13 || len(row16.Data) < 19 {
		return fmt.Errorf("row 1.1.12/1.1.16 too short")
	}
	data12 := append([]byte(nil), row12.Data[3:]...)
	data16 := append([]byte(nil), row16.Data[3:]...)

	for _, zoneID := range zones {
		if zoneID < 1 || zoneID > c.zoneCount {
			continue
		}
		zIdx := zoneID - 1
		bit := byte(1 << uint(zIdx))

		if args.Heat != nil {
			data16[11+zIdx-3] = byte(*args.Heat)
		}
		if args.Cool != nil {
			data16[3+zIdx-3] = byte(*args.Cool)
		}
		if args.Temporary != nil {
			data12[9-3] = patchBit(data12[9-3], bit, *args.Temporary)
		}
		if args.Hold != nil {
			data12[10-3] = patchBit(data12[10-3], bit, *args.Hold)
		}
		if args.Out != nil {
			data12[12-3] = patchBit(data12[12-3], bit, *args.Out)
		}
	}

	if err := c.WriteRow(1, 1, 12, data12); err != nil {
		return err
	}
	return c.WriteRow(1, 1, 16, data16)
}

func patchBit(b, bit byte, set bool) byte {
	if set {
		return b | bit
	}
	return b &^ bit
}
