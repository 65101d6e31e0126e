package bus

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Transport abstracts the bidirectional byte link to the controller,
// either a TCP bridge or a direct serial port, in the shape of the
// teacher's internal/serial.Port interface (kept deliberately narrow
// so tests can substitute an in-memory pipe).
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// tcpTransport wraps a *net.TCPConn; deadlines are supported natively.
type tcpTransport struct {
	conn *net.TCPConn
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpTransport) Close() error                { return t.conn.Close() }
func (t *tcpTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// serialTransport wraps tarm/serial.Port. The driver has no per-call
// deadline API; SetReadDeadline is a no-op and the configured
// ReadTimeout governs blocking reads instead.
type serialTransport struct {
	port *serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error)            { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error)           { return s.port.Write(p) }
func (s *serialTransport) Close() error                          { return s.port.Close() }
func (s *serialTransport) SetReadDeadline(_ time.Time) error     { return nil }

// isSerialEndpoint mirrors the original client's `":" in connect_str`
// split: any endpoint without a colon is treated as a serial device path.
func isSerialEndpoint(endpoint string) bool {
	return !strings.Contains(endpoint, ":")
}

// Dial opens the configured endpoint, parsing `host:port` for TCP and
// any colon-free string as a serial device path at 9600-8N1, per the
// Connect() contract.
func Dial(endpoint string) (Transport, error) {
	if isSerialEndpoint(endpoint) {
		cfg := &serial.Config{Name: endpoint, Baud: 9600, ReadTimeout: readSoftTimeout}
		port, err := serial.OpenPort(cfg)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", endpoint, err)
		}
		return &serialTransport{port: port}, nil
	}

	host, portStr, ok := strings.Cut(endpoint, ":")
	if !ok || host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: expected host:port", endpoint)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid endpoint %q: port out of range", endpoint)
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	raw, err := dialer.Dial("tcp", net.JoinHostPort(host, portStr))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		_ = raw.Close()
		return nil, fmt.Errorf("dial %s: not a tcp connection", endpoint)
	}
	_ = tcpConn.SetNoDelay(true)
	_ = tcpConn.SetKeepAlive(true)
	return &tcpTransport{conn: tcpConn}, nil
}
