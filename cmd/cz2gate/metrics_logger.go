package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/cz2gate/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"bus_rx", snap.BusRx,
					"bus_tx", snap.BusTx,
					"bus_malformed", snap.BusMalformed,
					"bus_retries", snap.BusRetries,
					"cache_version", snap.CacheVersion,
					"sse_subscribers", snap.SSESubs,
					"sse_drops", snap.SSEDrops,
					"mqtt_publishes", snap.MQTTPubs,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
