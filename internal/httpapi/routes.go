package httpapi

import (
	"net/http"
	"strconv"

	"github.com/kstaniek/cz2gate/internal/metrics"
)

// routes wires the Go 1.22+ method+pattern ServeMux to the handlers.
// No third-party router is used: net/http's own pattern matching
// covers every route this surface needs, and the bus/cache/event
// layers underneath are where the real domain logic lives.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("POST /system/mode", s.handleSetSystemMode)
	mux.HandleFunc("POST /system/fan", s.handleSetFanMode)
	mux.HandleFunc("POST /zones/{zone_id}/temperature", s.handleZoneTemperature)
	mux.HandleFunc("POST /zones/batch/temperature", s.handleBatchZoneTemperature)
	mux.HandleFunc("POST /zones/{zone_id}/hold", s.handleZoneHold)
	mux.HandleFunc("GET /status/live", s.handleStatusLive)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /sse/stats", s.handleSSEStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withRequestMetrics(mux)
}

// withRequestMetrics records every request by route pattern and status
// class, mirroring the teacher's per-connection counters.
func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		recordHTTPRequest(r.Pattern, rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush delegates to the underlying writer's http.Flusher so SSE
// streams survive the metrics wrapper instead of buffering forever.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController (and type assertions like
// w.(http.Flusher)) see through to the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func recordHTTPRequest(pattern string, status int) {
	if pattern == "" {
		pattern = "unmatched"
	}
	metrics.IncHTTPRequest(pattern, strconv.Itoa(status/100)+"xx")
}
