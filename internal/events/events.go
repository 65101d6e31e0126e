// Package events implements the server-sent-event-style fan-out
// manager: per-subscriber bounded queues, admission control, heartbeat,
// and a merged stream of subscriber and cache events, grounded on the
// teacher's internal/hub registry-locking shape and generalized to the
// admission/heartbeat/lifecycle semantics of the original sse.py.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/cz2gate/internal/cache"
	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/metrics"
)

// EventType enumerates the kinds of events a subscriber can receive.
type EventType string

const (
	EventState EventType = "state"
	EventDelta EventType = "delta"
	EventPing  EventType = "ping"
	EventError EventType = "error"
	EventResult EventType = "result"
	EventMeta  EventType = "meta"
)

const subscriberQueueCap = 50

// Event is one item delivered to a subscriber's stream. Terminate is
// set on the sentinel used to unwind a Stream during manager shutdown.
type Event struct {
	ID        uint64
	Type      EventType
	Data      any
	Terminate bool
}

// Subscriber tracks one connected client.
type Subscriber struct {
	ID          string
	IPAddress   string
	UserAgent   string
	ConnectedAt time.Time

	queue chan Event

	lastPing    atomic.Int64
	updateCount atomic.Int64
	errorCount  atomic.Int64
	lastEventID atomic.Uint64
}

// Manager owns the subscriber registry and the heartbeat loop.
type Manager struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	byIP     map[string]map[string]struct{}
	maxTotal int
	maxPerIP int

	heartbeatInterval time.Duration
	eventID           atomic.Uint64

	cache *cache.Cache
	log   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configure a new Manager.
type Options struct {
	MaxTotalSubscribers int
	MaxSubscribersPerIP int
	HeartbeatInterval   time.Duration
}

// New constructs a Manager bound to the state cache whose updates it
// relays to subscribers.
func New(c *cache.Cache, opts Options) *Manager {
	if opts.MaxTotalSubscribers <= 0 {
		opts.MaxTotalSubscribers = 100
	}
	if opts.MaxSubscribersPerIP <= 0 {
		opts.MaxSubscribersPerIP = 10
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Manager{
		subs:              make(map[string]*Subscriber),
		byIP:              make(map[string]map[string]struct{}),
		maxTotal:          opts.MaxTotalSubscribers,
		maxPerIP:          opts.MaxSubscribersPerIP,
		heartbeatInterval: opts.HeartbeatInterval,
		cache:             c,
		log:               logging.ForComponent("events"),
	}
}

// Start launches the heartbeat loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.heartbeatLoop(ctx)
}

// Stop sends every subscriber a termination sentinel and clears the registry.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscriber)
	m.byIP = make(map[string]map[string]struct{})
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- Event{Terminate: true}:
		default:
		}
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Broadcast(EventPing, nil)
			now := time.Now().Unix()
			for _, s := range m.snapshot() {
				s.lastPing.Store(now)
			}
		}
	}
}

func (m *Manager) nextEventID() uint64 { return m.eventID.Add(1) }

// Subscribe admits a new subscriber unless global or per-IP limits are
// exceeded, in which case it fails with errs.ErrResourceExhausted.
func (m *Manager) Subscribe(ipAddress, userAgent string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subs) >= m.maxTotal {
		metrics.IncSSERejected()
		return nil, fmt.Errorf("%w: subscriber limit reached", errs.ErrResourceExhausted)
	}
	if len(m.byIP[ipAddress]) >= m.maxPerIP {
		metrics.IncSSERejected()
		return nil, fmt.Errorf("%w: per-ip subscriber limit reached", errs.ErrResourceExhausted)
	}

	s := &Subscriber{
		ID:          newSubscriberID(),
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		queue:       make(chan Event, subscriberQueueCap),
	}
	m.subs[s.ID] = s
	if m.byIP[ipAddress] == nil {
		m.byIP[ipAddress] = make(map[string]struct{})
	}
	m.byIP[ipAddress][s.ID] = struct{}{}
	metrics.SetSSESubscribers(len(m.subs))
	return s, nil
}

// Unsubscribe deregisters a subscriber and cleans up the IP index.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return
	}
	delete(m.subs, id)
	if ips := m.byIP[s.IPAddress]; ips != nil {
		delete(ips, id)
		if len(ips) == 0 {
			delete(m.byIP, s.IPAddress)
		}
	}
	metrics.SetSSESubscribers(len(m.subs))
}

func (m *Manager) snapshot() []*Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out
}

// Broadcast enqueues an event to every subscriber, non-blockingly;
// a full queue drops the event for that subscriber only.
func (m *Manager) Broadcast(eventType EventType, data any) Event {
	ev := Event{ID: m.nextEventID(), Type: eventType, Data: data}
	subs := m.snapshot()
	for _, s := range subs {
		select {
		case s.queue <- ev:
			s.updateCount.Add(1)
		default:
			s.errorCount.Add(1)
			metrics.IncSSEDrop()
		}
	}
	metrics.IncSSEBroadcast(len(subs))
	return ev
}

// SendTo enqueues an event to a single subscriber.
func (m *Manager) SendTo(id string, eventType EventType, data any) error {
	m.mu.RLock()
	s, ok := m.subs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: subscriber %s", errs.ErrNotFound, id)
	}
	ev := Event{ID: m.nextEventID(), Type: eventType, Data: data}
	select {
	case s.queue <- ev:
		s.updateCount.Add(1)
	default:
		s.errorCount.Add(1)
		metrics.IncSSEDrop()
		return fmt.Errorf("%w: subscriber queue full", errs.ErrResourceExhausted)
	}
	return nil
}

// Stats summarizes manager health for GET /sse/stats.
type Stats struct {
	SubscriberCount int `json:"subscriber_count"`
	MaxTotal        int `json:"max_subscribers"`
	MaxPerIP        int `json:"max_subscribers_per_ip"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{SubscriberCount: len(m.subs), MaxTotal: m.maxTotal, MaxPerIP: m.maxPerIP}
}

// Stream yields an initial state event with the current cache snapshot,
// then merges the subscriber's direct queue with the cache's update
// queue, pushing every event to out until ctx is cancelled or a
// termination sentinel arrives. The subscriber and the cache
// subscription are both released on return.
func (m *Manager) Stream(ctx context.Context, s *Subscriber, out chan<- Event) {
	defer m.Unsubscribe(s.ID)

	status, meta := m.cache.Get()
	select {
	case out <- Event{ID: m.nextEventID(), Type: EventState, Data: map[string]any{"status": status, "meta": meta}}:
	case <-ctx.Done():
		return
	}

	cacheCh := m.cache.Subscribe()
	defer m.cache.Unsubscribe(cacheCh)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.queue:
			if !ok || ev.Terminate {
				return
			}
			s.lastEventID.Store(ev.ID)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		case u, ok := <-cacheCh:
			if !ok {
				return
			}
			ev := Event{ID: m.nextEventID(), Type: EventDelta, Data: map[string]any{"status": u.Status, "meta": u.Meta}}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

var subscriberSeq atomic.Uint64

// newSubscriberID generates a process-unique subscriber id; no need
// for a UUID library here since ids are never compared across restarts.
func newSubscriberID() string {
	return fmt.Sprintf("sub-%d-%d", time.Now().UnixNano(), subscriberSeq.Add(1))
}
