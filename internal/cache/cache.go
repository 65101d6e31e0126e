// Package cache implements the single-writer, many-reader state
// cache: a versioned SystemStatus snapshot with a durable single-row
// backing store and bounded-queue subscriber fan-out, grounded on the
// teacher's internal/hub registry-locking shape.
package cache

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/metrics"
	"github.com/kstaniek/cz2gate/internal/model"
)

// Update is what a subscriber receives: a snapshot and its metadata.
// Status is nil when no status has ever been recorded.
type Update struct {
	Status *model.SystemStatus
	Meta   model.CacheMeta
}

const subscriberQueueCap = 10

// nowFn allows tests to control the clock.
var nowFn = time.Now

// Cache is the single in-memory record plus its durable snapshot.
//
// mu is a single RWMutex standing in for the spec's separate
// writer/reader locks: Lock() gives the writer exclusion required
// across Update/Clear/SetConnectionStatus/persist/fan-out, RLock()
// gives the concurrent-reader access Get/GetStats need, and Go's
// RWMutex already guarantees writers never interleave with readers.
type Cache struct {
	mu sync.RWMutex

	status *model.SystemStatus
	meta   model.CacheMeta

	zoneCount     int
	staleAfterSec int64

	db *sql.DB

	subMu sync.Mutex
	subs  map[chan Update]struct{}

	log *slog.Logger
}

// Options configure a new Cache.
type Options struct {
	DBPath        string
	ZoneCount     int
	StaleAfterSec int64
}

// New constructs a Cache, loading any prior persisted state from
// Options.DBPath. A load failure starts fresh and is logged, never
// returned as an error.
func New(opts Options) (*Cache, error) {
	c := &Cache{
		zoneCount:     opts.ZoneCount,
		staleAfterSec: opts.StaleAfterSec,
		subs:          make(map[chan Update]struct{}),
		log:           logging.ForComponent("cache"),
		meta:          model.CacheMeta{StaleAfterSec: opts.StaleAfterSec, Source: model.SourceInit},
	}

	db, err := openDB(opts.DBPath)
	if err != nil {
		return nil, err
	}
	c.db = db

	if status, meta, ok := loadRow(db); ok {
		meta.Source = model.SourceLoaded
		meta.StaleAfterSec = opts.StaleAfterSec
		c.status = status
		c.meta = meta
		c.log.Info("cache_loaded", "version", meta.Version, "connected", meta.Connected)
	} else {
		c.log.Info("cache_fresh")
	}
	metrics.SetCacheVersion(c.meta.Version)
	return c, nil
}

// Get returns a stable copy of the current snapshot and metadata. If
// no status has ever been recorded, a fixed empty snapshot is returned.
func (c *Cache) Get() (model.SystemStatus, model.CacheMeta) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == nil {
		return model.Empty(c.zoneCount), c.meta
	}
	return *c.status, c.meta
}

// Update bumps the version, sets connected = (status != nil), sets
// last_update_ts to now only when status is present, persists, and
// fans out to subscribers.
func (c *Cache) Update(status *model.SystemStatus, source string, errMsg string) {
	c.mu.Lock()
	c.meta.Version++
	c.meta.Connected = status != nil
	c.meta.Source = source
	c.meta.Error = errMsg
	if status != nil {
		c.meta.LastUpdateTS = nowFn().Unix()
	}
	c.status = status
	meta := c.meta
	c.mu.Unlock()

	c.persistAndNotify(status, meta)
}

// SetConnectionStatus updates connection fields and bumps version
// without touching last_update_ts, so staleness keeps firing until
// real data arrives.
func (c *Cache) SetConnectionStatus(connected bool, source string, errMsg string) {
	c.mu.Lock()
	c.meta.Version++
	c.meta.Connected = connected
	c.meta.Source = source
	c.meta.Error = errMsg
	status := c.status
	meta := c.meta
	c.mu.Unlock()

	c.persistAndNotify(status, meta)
}

// Clear resets to initial meta and no status.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.meta = model.CacheMeta{StaleAfterSec: c.staleAfterSec, Source: model.SourceInit, Version: c.meta.Version + 1}
	c.status = nil
	meta := c.meta
	c.mu.Unlock()

	c.persistAndNotify(nil, meta)
}

func (c *Cache) persistAndNotify(status *model.SystemStatus, meta model.CacheMeta) {
	metrics.SetCacheVersion(meta.Version)
	if meta.LastUpdateTS != 0 {
		metrics.SetCacheAge(float64(nowFn().Unix() - meta.LastUpdateTS))
	}
	if err := persistRow(c.db, status, meta, float64(nowFn().Unix())); err != nil {
		c.log.Warn("cache_persist_error", "error", err)
	}
	c.notify(Update{Status: status, Meta: meta})
}

// Subscribe registers a bounded queue and immediately enqueues the
// current snapshot.
func (c *Cache) Subscribe() chan Update {
	ch := make(chan Update, subscriberQueueCap)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	n := len(c.subs)
	c.subMu.Unlock()
	metrics.SetCacheSubscribers(n)

	status, meta := c.Get()
	var s *model.SystemStatus
	if c.hasStatus() {
		s = &status
	}
	select {
	case ch <- Update{Status: s, Meta: meta}:
	default:
	}
	return ch
}

func (c *Cache) hasStatus() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status != nil
}

// Unsubscribe removes a previously subscribed queue.
func (c *Cache) Unsubscribe(ch chan Update) {
	c.subMu.Lock()
	delete(c.subs, ch)
	n := len(c.subs)
	c.subMu.Unlock()
	metrics.SetCacheSubscribers(n)
}

// notify fans updates out non-blockingly; a full subscriber queue
// drops this update for that subscriber only.
func (c *Cache) notify(u Update) {
	c.subMu.Lock()
	chans := make([]chan Update, 0, len(c.subs))
	for ch := range c.subs {
		chans = append(chans, ch)
	}
	c.subMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- u:
		default:
			metrics.IncCacheDrop()
		}
	}
}

// Stats mirrors GetStats() from the spec.
type Stats struct {
	HasData         bool    `json:"has_data"`
	Version         uint64  `json:"version"`
	Connected       bool    `json:"connected"`
	IsStale         bool    `json:"is_stale"`
	LastUpdateTS    int64   `json:"last_update_ts"`
	AgeSeconds      float64 `json:"age_seconds"`
	Source          string  `json:"source"`
	SubscriberCount int     `json:"subscriber_count"`
	Error           string  `json:"error,omitempty"`
}

// GetStats reports a read-locked snapshot of cache health.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	status := c.status
	meta := c.meta
	c.mu.RUnlock()

	c.subMu.Lock()
	subCount := len(c.subs)
	c.subMu.Unlock()

	now := nowFn()
	age := 0.0
	if meta.LastUpdateTS != 0 {
		age = now.Sub(time.Unix(meta.LastUpdateTS, 0)).Seconds()
	}
	return Stats{
		HasData:         status != nil,
		Version:         meta.Version,
		Connected:       meta.Connected,
		IsStale:         meta.IsStale(now),
		LastUpdateTS:    meta.LastUpdateTS,
		AgeSeconds:      age,
		Source:          meta.Source,
		SubscriberCount: subCount,
		Error:           meta.Error,
	}
}

// IsStale reports the cache's current staleness predicate.
func (c *Cache) IsStale() bool {
	c.mu.RLock()
	meta := c.meta
	c.mu.RUnlock()
	return meta.IsStale(nowFn())
}

// HasRaw reports whether the current snapshot, if any, carries a raw blob.
func (c *Cache) HasRaw() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status != nil && c.status.Raw != ""
}

// Close releases the backing database handle.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
