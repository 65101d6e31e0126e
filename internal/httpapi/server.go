// Package httpapi exposes the HVAC service, cache, and event manager
// over HTTP: the REST control surface, the SSE event stream, and the
// operational endpoints (health, cache stats, sse stats). The lifecycle
// wrapper here is adapted from the teacher's internal/server.Server
// (functional options, a readiness channel, a context-bounded Shutdown
// that logs a summary) with the raw-TCP accept loop replaced by
// net/http's own connection handling.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kstaniek/cz2gate/internal/cache"
	"github.com/kstaniek/cz2gate/internal/events"
	"github.com/kstaniek/cz2gate/internal/hvac"
	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/mqttpub"
)

// Server wraps an *http.Server with the composition root's dependencies
// and a readiness signal the caller can wait on before advertising the
// service (e.g. over mDNS).
type Server struct {
	listenAddr string
	log        *slog.Logger

	hvacSvc   *hvac.Service
	cacheRef  *cache.Cache
	eventsMgr *events.Manager
	mqttPub   *mqttpub.Publisher

	zoneCount    int
	sseEnabled   bool
	cacheRoutesEnabled bool

	httpServer *http.Server
	listener   net.Listener

	readyOnce sync.Once
	readyCh   chan struct{}
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithListenAddr sets the TCP address to bind, e.g. ":8080".
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) { s.listenAddr = addr }
}

// WithHVACService binds the HVAC service handlers dispatch to.
func WithHVACService(svc *hvac.Service) ServerOption {
	return func(s *Server) { s.hvacSvc = svc }
}

// WithCache binds the state cache handlers read from.
func WithCache(c *cache.Cache) ServerOption {
	return func(s *Server) { s.cacheRef = c }
}

// WithEvents binds the SSE subscriber manager.
func WithEvents(m *events.Manager) ServerOption {
	return func(s *Server) { s.eventsMgr = m }
}

// WithMQTT binds the MQTT publisher. No handler reads it (/health does
// not report MQTT state); publishing is driven by the composition
// root's cache subscription, not by the HTTP layer.
func WithMQTT(p *mqttpub.Publisher) ServerOption {
	return func(s *Server) { s.mqttPub = p }
}

// WithZoneCount sets the number of zones, used to validate zone_id path
// parameters without consulting the bus.
func WithZoneCount(n int) ServerOption {
	return func(s *Server) { s.zoneCount = n }
}

// WithSSEEnabled toggles whether /events and /sse/stats are served or
// answer 404 (feature disabled).
func WithSSEEnabled(enabled bool) ServerOption {
	return func(s *Server) { s.sseEnabled = enabled }
}

// WithCacheRoutesEnabled toggles whether /cache/stats and /cache/clear
// are served or answer 404.
func WithCacheRoutesEnabled(enabled bool) ServerOption {
	return func(s *Server) { s.cacheRoutesEnabled = enabled }
}

// NewServer constructs a Server from options, defaulting to :8080.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		listenAddr:         ":8080",
		log:                logging.ForComponent("httpapi"),
		zoneCount:          4,
		sseEnabled:         true,
		cacheRoutesEnabled: true,
		readyCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the bound address; valid only once Ready has fired.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddr
	}
	return s.listener.Addr().String()
}

// Ready closes once the listener is bound and accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve binds the listener and runs the HTTP server until ctx is
// cancelled or the server itself errors. Context cancellation triggers
// a background Close of the underlying listener; the caller should
// prefer Shutdown for a graceful drain.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.readyOnce.Do(func() { close(s.readyCh) })
	s.log.Info("http_listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests bounded by ctx, then logs a
// summary in the teacher's shutdown_summary idiom.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	start := time.Now()
	err := s.httpServer.Shutdown(ctx)
	s.log.Info("http_shutdown_summary", "duration", time.Since(start), "error", err)
	return err
}
