package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kstaniek/cz2gate/internal/model"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := New(Options{DBPath: dbPath, ZoneCount: 4, StaleAfterSec: 120})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetReturnsEmptySnapshotBeforeFirstUpdate(t *testing.T) {
	c := newTestCache(t)
	status, meta := c.Get()
	if meta.Version != 0 || meta.Connected {
		t.Fatalf("fresh cache should be unconnected at version 0, got %+v", meta)
	}
	if len(status.Zones) != 4 {
		t.Fatalf("Empty snapshot should carry 4 zones, got %d", len(status.Zones))
	}
}

func TestUpdateBumpsVersionAndSetsLastUpdateOnlyWithStatus(t *testing.T) {
	c := newTestCache(t)
	fixedNow := time.Unix(1_700_000_000, 0)
	nowFn = func() time.Time { return fixedNow }
	t.Cleanup(func() { nowFn = time.Now })

	status := model.Empty(4)
	c.Update(&status, model.SourceAuto, "")
	_, meta := c.Get()
	if meta.Version != 1 {
		t.Fatalf("Version = %d, want 1", meta.Version)
	}
	if !meta.Connected {
		t.Fatalf("Connected should be true when status is non-nil")
	}
	if meta.LastUpdateTS != fixedNow.Unix() {
		t.Fatalf("LastUpdateTS = %d, want %d", meta.LastUpdateTS, fixedNow.Unix())
	}

	// A connection-status-only update (status=nil) must bump version and
	// flip Connected, but never touch LastUpdateTS — preserving the last
	// good reading's staleness clock.
	c.SetConnectionStatus(false, model.SourceDisconnect, "bus lost")
	_, meta2 := c.Get()
	if meta2.Version != 2 {
		t.Fatalf("Version = %d, want 2", meta2.Version)
	}
	if meta2.Connected {
		t.Fatalf("Connected should be false after SetConnectionStatus(false, ...)")
	}
	if meta2.LastUpdateTS != fixedNow.Unix() {
		t.Fatalf("LastUpdateTS must be preserved across a connection-only update, got %d", meta2.LastUpdateTS)
	}
}

func TestClearResetsToInitialMetaButKeepsVersionMonotonic(t *testing.T) {
	c := newTestCache(t)
	status := model.Empty(4)
	c.Update(&status, model.SourceAuto, "")
	c.Clear()

	got, meta := c.Get()
	if meta.Version != 2 {
		t.Fatalf("Version = %d, want 2 (init=0, update=1, clear=2)", meta.Version)
	}
	if meta.Source != model.SourceInit {
		t.Fatalf("Source = %q, want %q after Clear", meta.Source, model.SourceInit)
	}
	if len(got.Zones) != 4 {
		t.Fatalf("Get should still return an empty-shaped snapshot, got %+v", got)
	}
}

func TestSubscribeDeliversCurrentSnapshotImmediately(t *testing.T) {
	c := newTestCache(t)
	status := model.Empty(4)
	c.Update(&status, model.SourceAuto, "")

	ch := c.Subscribe()
	defer c.Unsubscribe(ch)

	select {
	case u := <-ch:
		if u.Status == nil {
			t.Fatalf("expected the current status to be replayed to a new subscriber")
		}
	default:
		t.Fatalf("expected an immediate replay on Subscribe")
	}
}

func TestNotifyDropsOnFullSubscriberQueueWithoutBlocking(t *testing.T) {
	c := newTestCache(t)
	ch := c.Subscribe()
	defer c.Unsubscribe(ch)

	// Drain the initial replay, then saturate the bounded queue.
	<-ch
	for i := 0; i < subscriberQueueCap; i++ {
		status := model.Empty(4)
		c.Update(&status, model.SourceAuto, "")
	}
	// One more update beyond capacity must not block this goroutine.
	done := make(chan struct{})
	go func() {
		status := model.Empty(4)
		c.Update(&status, model.SourceAuto, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Update blocked on a full subscriber queue instead of dropping")
	}
}

func TestIsStaleReflectsMetaPredicate(t *testing.T) {
	c := newTestCache(t)
	if !c.IsStale() {
		t.Fatalf("an unconnected, never-updated cache must report stale")
	}
	status := model.Empty(4)
	nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	t.Cleanup(func() { nowFn = time.Now })
	c.Update(&status, model.SourceAuto, "")
	if c.IsStale() {
		t.Fatalf("a just-updated connected cache must not be stale")
	}
}

func TestPersistedSnapshotSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c1, err := New(Options{DBPath: dbPath, ZoneCount: 4, StaleAfterSec: 120})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status := model.Empty(4)
	status.Zones[0].Temperature = 71
	c1.Update(&status, model.SourceAuto, "")
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := New(Options{DBPath: dbPath, ZoneCount: 4, StaleAfterSec: 120})
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer c2.Close()

	got, meta := c2.Get()
	if meta.Source != model.SourceLoaded {
		t.Fatalf("Source = %q, want %q after reload", meta.Source, model.SourceLoaded)
	}
	if got.Zones[0].Temperature != 71 {
		t.Fatalf("reloaded zone temperature = %d, want 71", got.Zones[0].Temperature)
	}
}
