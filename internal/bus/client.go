// Package bus implements the HVAC bus client: transport lifecycle,
// request/reply correlation with retry, row read-modify-write, and
// derivation of a SystemStatus from a fixed sequence of row reads.
package bus

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/metrics"
	"github.com/kstaniek/cz2gate/internal/protocol"
)

// sleepFn allows tests to intercept retry backoff sleeps.
var sleepFn = time.Sleep

// dialFn allows tests to substitute a fake transport.
var dialFn = Dial

// Client owns one bidirectional transport to the controller and
// speaks the ComfortZone II request/reply protocol over it. It is not
// safe for concurrent use; callers serialize access via a higher-level
// lock (the HVAC service's bus lock).
type Client struct {
	endpoint  string
	deviceID  byte
	zoneCount int
	log       *slog.Logger

	transport Transport
	buf       []byte
}

// NewClient constructs a bus client for the given endpoint
// (`host:port` or a serial device path), our device id on the bus,
// and the configured zone count (1..8).
func NewClient(endpoint string, deviceID byte, zoneCount int) *Client {
	return &Client{
		endpoint:  endpoint,
		deviceID:  deviceID,
		zoneCount: zoneCount,
		log:       logging.ForComponent("bus"),
	}
}

// Connect opens the transport if not already connected.
func (c *Client) Connect() error {
	if c.IsConnected() {
		return nil
	}
	c.log.Info("bus_connect", "endpoint", c.endpoint)
	t, err := dialFn(c.endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	c.transport = t
	c.buf = c.buf[:0]
	metrics.IncBusReconnect()
	c.log.Info("bus_connected", "endpoint", c.endpoint)
	return nil
}

// Close is idempotent; IsConnected returns false afterward.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.buf = nil
	return err
}

func (c *Client) IsConnected() bool { return c.transport != nil }

// readChunk performs one soft-timeout read. A timeout returns zero
// bytes and a nil error (caller resumes); any other error invalidates
// the connection.
func (c *Client) readChunk() ([]byte, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("%w: not connected", errs.ErrTransport)
	}
	_ = c.transport.SetReadDeadline(time.Now().Add(readSoftTimeout))
	buf := make([]byte, protocol.MaxMessageSize)
	n, err := c.transport.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		_ = c.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	return buf[:n], nil
}

// GetFrame maintains an internal byte accumulator, reading until the
// codec scans a complete valid frame out of it.
func (c *Client) GetFrame() (protocol.Frame, error) {
	zeroReads := 0
	for {
		if f, n, ok := protocol.Scan(c.buf); ok {
			c.buf = append([]byte(nil), c.buf[n:]...)
			metrics.IncFrameRx()
			return f, nil
		}

		chunk, err := c.readChunk()
		if err != nil {
			return protocol.Frame{}, err
		}
		if len(chunk) == 0 {
			zeroReads++
			if zeroReads >= maxZeroReads {
				_ = c.Close()
				return protocol.Frame{}, fmt.Errorf("%w: connection aborted after %d empty reads", errs.ErrTransport, maxZeroReads)
			}
			continue
		}
		zeroReads = 0
		c.buf = append(c.buf, chunk...)
		if len(c.buf) > accumulatorOverflowFactor*protocol.MaxMessageSize {
			tail := append([]byte(nil), c.buf[len(c.buf)-protocol.MaxMessageSize:]...)
			c.buf = tail
		}
	}
}

// SendWithReply writes a request frame and waits for our reply, retrying
// up to retryAttempts times spaced by retryWait, but only for transport
// errors; protocol errors and timeouts surface immediately.
func (c *Client) SendWithReply(dest byte, function protocol.Function, data []byte) (protocol.Frame, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		frame, err := c.sendWithReplyOnce(dest, function, data)
		if err == nil {
			return frame, nil
		}
		lastErr = err
		if !errs.Is(err, errs.ErrTransport) {
			return protocol.Frame{}, err
		}
		if attempt < retryAttempts-1 {
			metrics.IncBusRetry()
			sleepFn(retryWait)
		}
	}
	return protocol.Frame{}, lastErr
}

func (c *Client) sendWithReplyOnce(dest byte, function protocol.Function, data []byte) (protocol.Frame, error) {
	msg, err := protocol.Build(dest, c.deviceID, function, data)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %v", errs.ErrProtocol, err)
	}
	if err := c.write(msg); err != nil {
		return protocol.Frame{}, err
	}
	sleepFn(replySettleDelay)

	for i := 0; i < replyScanFrames; i++ {
		reply, err := c.GetFrame()
		if err != nil {
			return protocol.Frame{}, err
		}
		if reply.Destination != c.deviceID {
			continue
		}
		if reply.Function == protocol.FuncError {
			return protocol.Frame{}, fmt.Errorf("%w: error reply received: %v", errs.ErrProtocol, reply.Data)
		}
		if reply.Function != protocol.FuncReply {
			continue
		}
		if function == protocol.FuncRead && len(data) >= 3 && len(reply.Data) >= 3 {
			if bytes.Equal(reply.Data[:3], data[:3]) {
				return reply, nil
			}
			continue
		}
		return reply, nil
	}
	return protocol.Frame{}, fmt.Errorf("%w: no valid reply received", errs.ErrTimeout)
}

func (c *Client) write(msg []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: not connected", errs.ErrTransport)
	}
	if _, err := c.transport.Write(msg); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	metrics.IncFrameTx()
	return nil
}

// ReadRow reads one controller row, returning the full reply payload
// (3-byte echoed address prefix followed by row bytes).
func (c *Client) ReadRow(dest, table, row byte) (protocol.Frame, error) {
	return c.SendWithReply(dest, protocol.FuncRead, []byte{0, table, row})
}

// WriteRow writes payload to one controller row; the reply's first
// byte must be zero or the write is considered to have failed.
func (c *Client) WriteRow(dest, table, row byte, payload []byte) error {
	full := make([]byte, 0, 3+len(payload))
	full = append(full, 0, table, row)
	full = append(full, payload...)
	reply, err := c.SendWithReply(dest, protocol.FuncWrite, full)
	if err != nil {
		return err
	}
	if len(reply.Data) == 0 || reply.Data[0] != 0 {
		return fmt.Errorf("%w: write failed with reply code %v", errs.ErrProtocol, reply.Data)
	}
	return nil
}
