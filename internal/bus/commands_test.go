package bus

import (
	"testing"

	"github.com/kstaniek/cz2gate/internal/model"
	"github.com/kstaniek/cz2gate/internal/protocol"
)

// writeAckReply builds the reply a controller sends after accepting a
// write: a FuncReply frame whose first data byte is the status code 0.
func writeAckReply(deviceID, source byte) []byte {
	return rowReply(deviceID, source, []byte{0})
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestSetSystemModePatchesModeAndAllZonesByte(t *testing.T) {
	const deviceID = 9
	ft := &fakeTransport{reads: [][]byte{
		rowReply(deviceID, 1, buildRow(1, 12, 16, map[int]byte{4: 4})), // read: currently Off
		writeAckReply(deviceID, 1),
	}}
	withFakeDial(t, ft)

	c := NewClient("fake", deviceID, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mode := model.ModeCool
	if err := c.SetSystemMode(&mode, boolPtr(true)); err != nil {
		t.Fatalf("SetSystemMode: %v", err)
	}
	if len(ft.writes) != 2 {
		t.Fatalf("expected 2 writes (read + write), got %d", len(ft.writes))
	}
	written := ft.writes[1]
	frame, _, ok := protocol.Scan(written)
	if !ok {
		t.Fatalf("could not parse the write frame")
	}
	// data = [0,table,row, payload...]; payload[4-3]=mode, payload[15-3]=all-zones flag.
	if frame.Data[3+1] != reverseMode(model.ModeCool) {
		t.Fatalf("mode byte not patched: %+v", frame.Data)
	}
	if frame.Data[3+12] != 1 {
		t.Fatalf("all-zones flag not patched: %+v", frame.Data)
	}
}

func TestSetSystemModeNoopWhenNoArgsGiven(t *testing.T) {
	ft := &fakeTransport{}
	withFakeDial(t, ft)
	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.SetSystemMode(nil, nil); err != nil {
		t.Fatalf("SetSystemMode(nil,nil): %v", err)
	}
	if len(ft.writes) != 0 {
		t.Fatalf("expected no bus traffic for a no-op call, got %d writes", len(ft.writes))
	}
}

func TestSetFanModePatchesBit2(t *testing.T) {
	const deviceID = 9
	ft := &fakeTransport{reads: [][]byte{
		rowReply(deviceID, 1, buildRow(1, 17, 4, map[int]byte{3: 0xF3})), // bit2 currently 0
		writeAckReply(deviceID, 1),
	}}
	withFakeDial(t, ft)

	c := NewClient("fake", deviceID, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.SetFanMode(model.FanOn); err != nil {
		t.Fatalf("SetFanMode: %v", err)
	}
	written := ft.writes[1]
	frame, _, ok := protocol.Scan(written)
	if !ok {
		t.Fatalf("could not parse the write frame")
	}
	if frame.Data[3] != 0xF7 {
		t.Fatalf("fan bit not patched: got %#x, want %#x", frame.Data[3], byte(0xF7))
	}
}

func TestSetZoneSetpointsPatchesRequestedZonesOnly(t *testing.T) {
	const deviceID = 9
	ft := &fakeTransport{reads: [][]byte{
		rowReply(deviceID, 1, buildRow(1, 12, 16, map[int]byte{})),
		rowReply(deviceID, 1, buildRow(1, 16, 19, map[int]byte{3: 70, 11: 65, 4: 71, 12: 66})),
		writeAckReply(deviceID, 1),
		writeAckReply(deviceID, 1),
	}}
	withFakeDial(t, ft)

	c := NewClient("fake", deviceID, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	args := ZoneSetpointArgs{Heat: intPtr(68), Cool: intPtr(74), Hold: boolPtr(true)}
	if err := c.SetZoneSetpoints([]int{1}, args); err != nil {
		t.Fatalf("SetZoneSetpoints: %v", err)
	}
	if len(ft.writes) != 4 {
		t.Fatalf("expected 2 reads + 2 writes (row 12, row 16), got %d writes", len(ft.writes))
	}

	row12Write, _, _ := protocol.Scan(ft.writes[2])
	if row12Write.Data[10] == 0 {
		t.Fatalf("hold bit for zone 1 was not set: %+v", row12Write.Data)
	}

	row16Write, _, _ := protocol.Scan(ft.writes[3])
	// zone 1: cool at offset 3, heat at offset 11 (absolute, counting the
	// 3-byte address prefix the write frame carries like the read reply).
	if row16Write.Data[3] != 74 {
		t.Fatalf("zone 1 cool setpoint not patched: got %d, want 74", row16Write.Data[3])
	}
	if row16Write.Data[11] != 68 {
		t.Fatalf("zone 1 heat setpoint not patched: got %d, want 68", row16Write.Data[11])
	}
	// zone 2 must be untouched.
	if row16Write.Data[4] != 71 || row16Write.Data[12] != 66 {
		t.Fatalf("zone 2 setpoints were modified: %+v", row16Write.Data)
	}
}

func TestSetZoneSetpointsIgnoresOutOfRangeZoneIDs(t *testing.T) {
	const deviceID = 9
	ft := &fakeTransport{reads: [][]byte{
		rowReply(deviceID, 1, buildRow(1, 12, 16, map[int]byte{})),
		rowReply(deviceID, 1, buildRow(1, 16, 19, map[int]byte{})),
		writeAckReply(deviceID, 1),
		writeAckReply(deviceID, 1),
	}}
	withFakeDial(t, ft)

	c := NewClient("fake", deviceID, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.SetZoneSetpoints([]int{0, 5, 99}, ZoneSetpointArgs{Heat: intPtr(70)}); err != nil {
		t.Fatalf("SetZoneSetpoints: %v", err)
	}
	row16Write, _, _ := protocol.Scan(ft.writes[3])
	for _, b := range row16Write.Data[3:] {
		if b != 0 {
			t.Fatalf("out-of-range zone ids must leave every byte untouched: %+v", row16Write.Data)
		}
	}
}
