// Package metrics exposes Prometheus counters/gauges for the gateway and
// a small HTTP mux serving /metrics and /ready, grounded on the teacher's
// own metrics package but retargeted at bus/cache/SSE/HTTP concerns.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BusFramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_frames_rx_total",
		Help: "Total wire frames scanned off the HVAC bus.",
	})
	BusFramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_frames_tx_total",
		Help: "Total wire frames written to the HVAC bus.",
	})
	BusFramesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_frames_malformed_total",
		Help: "Total candidate frames rejected during frame scanning for a CRC mismatch.",
	})
	BusRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_retries_total",
		Help: "Total SendWithReply retry attempts due to transport errors.",
	})
	BusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_reconnects_total",
		Help: "Total successful bus transport connects.",
	})
	CacheVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_version",
		Help: "Current state cache version counter.",
	})
	CacheAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_age_seconds",
		Help: "Seconds since the cache last received a real status update.",
	})
	CacheSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_subscribers",
		Help: "Current number of cache update subscribers.",
	})
	CacheDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_subscriber_dropped_total",
		Help: "Total cache updates dropped due to a full subscriber queue.",
	})
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sse_subscribers",
		Help: "Current number of connected SSE subscribers.",
	})
	SSEBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sse_broadcasts_total",
		Help: "Total events broadcast to SSE subscribers (sum across subscribers).",
	})
	SSEDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sse_dropped_total",
		Help: "Total events dropped due to a full subscriber queue.",
	})
	SSERejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sse_rejected_total",
		Help: "Total subscribe attempts rejected by admission control.",
	})
	MQTTPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publishes_total",
		Help: "Total successful MQTT status publishes.",
	})
	MQTTPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_errors_total",
		Help: "Total failed MQTT status publishes.",
	})
	MQTTDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publish_dropped_total",
		Help: "Total status snapshots dropped because the publish queue was full.",
	})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "class"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTransport  = "transport"
	ErrProtocol   = "protocol"
	ErrTimeout    = "timeout"
	ErrPersist    = "persist"
	ErrMQTT       = "mqtt"
	ErrValidation = "validation"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		log := logging.ForComponent("metrics")
		log.Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping Prometheus in-process.
var (
	localBusRx        uint64
	localBusTx        uint64
	localBusMalformed uint64
	localBusRetries   uint64
	localCacheVersion uint64
	localSSESubs      uint64
	localSSEDrops     uint64
	localMQTTPubs     uint64
	localErrors       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BusRx        uint64
	BusTx        uint64
	BusMalformed uint64
	BusRetries   uint64
	CacheVersion uint64
	SSESubs      uint64
	SSEDrops     uint64
	MQTTPubs     uint64
	Errors       uint64
}

func Snap() Snapshot {
	return Snapshot{
		BusRx:        atomic.LoadUint64(&localBusRx),
		BusTx:        atomic.LoadUint64(&localBusTx),
		BusMalformed: atomic.LoadUint64(&localBusMalformed),
		BusRetries:   atomic.LoadUint64(&localBusRetries),
		CacheVersion: atomic.LoadUint64(&localCacheVersion),
		SSESubs:      atomic.LoadUint64(&localSSESubs),
		SSEDrops:     atomic.LoadUint64(&localSSEDrops),
		MQTTPubs:     atomic.LoadUint64(&localMQTTPubs),
		Errors:       atomic.LoadUint64(&localErrors),
	}
}

func IncFrameRx() {
	BusFramesRx.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncFrameTx() {
	BusFramesTx.Inc()
	atomic.AddUint64(&localBusTx, 1)
}

func IncFrameMalformed() {
	BusFramesMalformed.Inc()
	atomic.AddUint64(&localBusMalformed, 1)
}

func IncBusRetry() {
	BusRetries.Inc()
	atomic.AddUint64(&localBusRetries, 1)
}

func IncBusReconnect() { BusReconnects.Inc() }

func SetCacheVersion(v uint64) {
	CacheVersion.Set(float64(v))
	atomic.StoreUint64(&localCacheVersion, v)
}

func SetCacheAge(seconds float64) { CacheAgeSeconds.Set(seconds) }

func SetCacheSubscribers(n int) { CacheSubscribers.Set(float64(n)) }

func SetSSESubscribers(n int) {
	SSESubscribers.Set(float64(n))
	atomic.StoreUint64(&localSSESubs, uint64(n))
}

func IncSSEBroadcast(n int) { SSEBroadcasts.Add(float64(n)) }

func IncSSEDrop() {
	SSEDropped.Inc()
	atomic.AddUint64(&localSSEDrops, 1)
}

func IncSSERejected() { SSERejected.Inc() }

func IncCacheDrop() { CacheDropped.Inc() }

func IncMQTTDrop() { MQTTDropped.Inc() }

func IncMQTTPublish() {
	MQTTPublishes.Inc()
	atomic.AddUint64(&localMQTTPubs, 1)
}

func IncMQTTPublishError() { MQTTPublishErrors.Inc() }

func IncHTTPRequest(route, class string) { HTTPRequests.WithLabelValues(route, class).Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTransport, ErrProtocol, ErrTimeout, ErrPersist, ErrMQTT, ErrValidation} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
