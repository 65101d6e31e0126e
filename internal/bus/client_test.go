package bus

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/protocol"
)

// fakeTransport is an in-memory Transport double: Read serves scripted
// chunks (or blocks/errors as configured), Write records every frame sent.
type fakeTransport struct {
	mu       sync.Mutex
	reads    [][]byte
	readErrs []error
	writes   [][]byte
	closed   bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(f.reads) == 0 {
		return 0, io.EOF
	}
	chunk := f.reads[0]
	f.reads = f.reads[1:]
	return copy(p, chunk), nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error { return nil }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func withFakeDial(t *testing.T, transport *fakeTransport) {
	t.Helper()
	origDial := dialFn
	origSleep := sleepFn
	dialFn = func(string) (Transport, error) { return transport, nil }
	sleepFn = func(time.Duration) {}
	t.Cleanup(func() {
		dialFn = origDial
		sleepFn = origSleep
	})
}

func TestGetFrameAccumulatesAcrossReads(t *testing.T) {
	wire, err := protocol.Build(9, 1, protocol.FuncReply, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ft := &fakeTransport{reads: [][]byte{wire[:4], wire[4:]}}
	withFakeDial(t, ft)

	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frame, err := c.GetFrame()
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if frame.Destination != 9 || frame.Function != protocol.FuncReply {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestGetFrameAbortsAfterRepeatedZeroReads(t *testing.T) {
	ft := &fakeTransport{}
	for i := 0; i < maxZeroReads+1; i++ {
		ft.readErrs = append(ft.readErrs, timeoutErr{})
	}
	withFakeDial(t, ft)

	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.GetFrame()
	if !errs.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport after repeated empty reads, got %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("client should disconnect after aborting")
	}
}

// A transport error during the reply scan closes the connection (per
// readChunk's contract); since SendWithReply's retry loop does not
// itself reconnect (that is the HVAC service's job, once per command),
// every subsequent attempt also fails "not connected" — so the retry
// loop exhausts all attempts and returns the last ErrTransport rather
// than ever succeeding. This pins that division of responsibility down.
func TestSendWithReplyRetriesOnlyTransportErrors(t *testing.T) {
	ft := &fakeTransport{readErrs: []error{errors.New("broken pipe")}}
	withFakeDial(t, ft)

	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.SendWithReply(1, protocol.FuncRead, []byte{0, 1, 12})
	if !errs.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport after retry exhaustion, got %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("client should remain disconnected after a transport failure")
	}
}

func TestSendWithReplyProtocolErrorNotRetried(t *testing.T) {
	errReply, err := protocol.Build(9, 7, protocol.FuncError, []byte{0x01})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ft := &fakeTransport{reads: [][]byte{errReply}}
	withFakeDial(t, ft)

	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err = c.SendWithReply(1, protocol.FuncRead, []byte{0, 1, 12})
	if !errs.Is(err, errs.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for a FuncError reply, got %v", err)
	}
	if len(ft.writes) != 1 {
		t.Fatalf("protocol errors must not be retried: wrote %d times, want 1", len(ft.writes))
	}
}

func TestSendWithReplyEchoChecksReadReplies(t *testing.T) {
	mismatched, _ := protocol.Build(9, 7, protocol.FuncReply, []byte{0, 9, 99, 0xAA})
	matched, _ := protocol.Build(9, 7, protocol.FuncReply, []byte{0, 1, 12, 0xBB})
	ft := &fakeTransport{reads: [][]byte{mismatched, matched}}
	withFakeDial(t, ft)

	c := NewClient("fake", 9, 4)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frame, err := c.SendWithReply(1, protocol.FuncRead, []byte{0, 1, 12})
	if err != nil {
		t.Fatalf("SendWithReply: %v", err)
	}
	if frame.Data[2] != 12 {
		t.Fatalf("expected the echo-matched reply (row 12), got %+v", frame.Data)
	}
}
