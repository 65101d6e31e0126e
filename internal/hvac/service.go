// Package hvac implements the HVAC service: bus-access serialization,
// connect/execute/disconnect lifecycle per operation, the periodic
// refresh loop, and coalescing of bus reads into the shared cache.
package hvac

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/cz2gate/internal/bus"
	"github.com/kstaniek/cz2gate/internal/cache"
	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/logging"
	"github.com/kstaniek/cz2gate/internal/metrics"
	"github.com/kstaniek/cz2gate/internal/model"
)

const refreshWarmup = 5 * time.Second

// BusClient is the subset of *bus.Client the service depends on,
// narrow enough for tests to substitute a fake.
type BusClient interface {
	Connect() error
	Close() error
	GetStatusData(includeRaw bool) (model.SystemStatus, error)
	SetSystemMode(mode *model.SystemMode, allZonesMode *bool) error
	SetFanMode(mode model.FanMode) error
	SetZoneSetpoints(zones []int, args bus.ZoneSetpointArgs) error
}

// Command is a single write operation dispatched through ExecuteCommand.
type Command struct {
	Op           string
	Mode         *model.SystemMode
	AllZonesMode *bool
	FanMode      *model.FanMode
	Zones        []int
	ZoneArgs     bus.ZoneSetpointArgs
}

const (
	OpSetSystemMode    = "set_system_mode"
	OpSetFanMode       = "set_fan_mode"
	OpSetZoneSetpoints = "set_zone_setpoints"
)

// Options configure a new Service.
type Options struct {
	RefreshInterval time.Duration
	CommandTimeout  time.Duration
}

// Service owns the single bus lock and the background refresh loop.
type Service struct {
	client BusClient
	cache  *cache.Cache
	log    *slog.Logger

	busLock sync.Mutex

	refreshInterval time.Duration
	commandTimeout  time.Duration

	consecutiveErrors atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Service bound to client and cache.
func New(client BusClient, c *cache.Cache, opts Options) *Service {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 300 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	return &Service{
		client:          client,
		cache:           c,
		log:             logging.ForComponent("hvac"),
		refreshInterval: opts.RefreshInterval,
		commandTimeout:  opts.CommandTimeout,
	}
}

// Start launches the background refresh loop. It returns immediately;
// the loop runs until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.refreshLoop(ctx)
}

// Stop cancels the refresh loop and waits for it (and any in-flight
// command goroutine) to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// ErrorCount reports the current consecutive-failure count, surfaced
// as a health metric by the caller.
func (s *Service) ErrorCount() int64 { return s.consecutiveErrors.Load() }

// GetStatus returns the cached snapshot unless forced or stale (or the
// cache lacks a raw blob the caller asked for), in which case it
// refreshes from the bus first.
func (s *Service) GetStatus(forceRefresh, includeRaw bool) (model.SystemStatus, model.CacheMeta, error) {
	if !forceRefresh {
		status, meta := s.cache.Get()
		if !meta.IsStale(time.Now()) && (!includeRaw || status.Raw != "") {
			return status, meta, nil
		}
	}

	source := model.SourceAuto
	if forceRefresh {
		source = model.SourceForce
	}
	if err := s.refreshOnce(source, includeRaw); err != nil {
		return model.SystemStatus{}, model.CacheMeta{}, err
	}
	status, meta := s.cache.Get()
	return status, meta, nil
}

// ExecuteCommand acquires the bus lock, dispatches the write, reads
// back the full status, and updates the cache, all bounded by the
// configured command timeout.
func (s *Service) ExecuteCommand(ctx context.Context, cmd Command) (model.SystemStatus, model.CacheMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	type outcome struct {
		status model.SystemStatus
		err    error
	}
	done := make(chan outcome, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		status, err := s.runCommand(cmd)
		done <- outcome{status, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return model.SystemStatus{}, model.CacheMeta{}, o.err
		}
		_, meta := s.cache.Get()
		return o.status, meta, nil
	case <-ctx.Done():
		s.cache.SetConnectionStatus(false, model.SourceError, "command timed out")
		return model.SystemStatus{}, model.CacheMeta{}, fmt.Errorf("%w: command exceeded %s", errs.ErrTimeout, s.commandTimeout)
	}
}

func (s *Service) runCommand(cmd Command) (model.SystemStatus, error) {
	s.busLock.Lock()
	defer s.busLock.Unlock()

	if err := s.client.Connect(); err != nil {
		s.recordFailure(err)
		return model.SystemStatus{}, err
	}
	defer func() { _ = s.client.Close() }()

	if err := dispatch(s.client, cmd); err != nil {
		s.recordFailure(err)
		return model.SystemStatus{}, err
	}

	status, err := s.client.GetStatusData(false)
	if err != nil {
		s.recordFailure(err)
		return model.SystemStatus{}, err
	}

	s.cache.Update(&status, model.SourceCommand, "")
	s.resetErrors()
	return status, nil
}

func dispatch(client BusClient, cmd Command) error {
	switch cmd.Op {
	case OpSetSystemMode:
		return client.SetSystemMode(cmd.Mode, cmd.AllZonesMode)
	case OpSetFanMode:
		if cmd.FanMode == nil {
			return fmt.Errorf("%w: fan mode required", errs.ErrValidation)
		}
		return client.SetFanMode(*cmd.FanMode)
	case OpSetZoneSetpoints:
		return client.SetZoneSetpoints(cmd.Zones, cmd.ZoneArgs)
	default:
		return fmt.Errorf("%w: unknown command %q", errs.ErrValidation, cmd.Op)
	}
}

// refreshOnce runs one connect/read/disconnect cycle and updates the
// cache, tagging the write with source.
func (s *Service) refreshOnce(source string, includeRaw bool) error {
	s.busLock.Lock()
	defer s.busLock.Unlock()

	if err := s.client.Connect(); err != nil {
		s.recordFailure(err)
		return err
	}
	defer func() { _ = s.client.Close() }()

	status, err := s.client.GetStatusData(includeRaw)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	s.cache.Update(&status, source, "")
	s.resetErrors()
	return nil
}

// recordFailure preserves the prior last-good snapshot (per the error
// handling design: connected flips false, error populated, status
// untouched) and tracks the consecutive-error count for refresh backoff.
func (s *Service) recordFailure(err error) {
	s.consecutiveErrors.Add(1)
	metrics.IncError(classify(err))
	s.cache.SetConnectionStatus(false, model.SourceError, err.Error())
}

func (s *Service) resetErrors() { s.consecutiveErrors.Store(0) }

func classify(err error) string {
	switch {
	case errs.Is(err, errs.ErrTransport):
		return metrics.ErrTransport
	case errs.Is(err, errs.ErrProtocol):
		return metrics.ErrProtocol
	case errs.Is(err, errs.ErrTimeout):
		return metrics.ErrTimeout
	default:
		return metrics.ErrValidation
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-time.After(refreshWarmup):
	case <-ctx.Done():
		return
	}

	for {
		if err := s.refreshOnce(model.SourceAutoRefresh, false); err != nil {
			s.log.Warn("refresh_failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.refreshInterval):
		}

		if n := s.consecutiveErrors.Load(); n > 0 {
			backoff := time.Duration(math.Min(math.Pow(2, float64(n)), 300)) * time.Second
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}
