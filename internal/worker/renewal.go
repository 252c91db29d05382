// Package worker contains the background renewal scheduler.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	scanerrors "github.com/market-scanner/internal/errors"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/types"
)

// RenewalRunner performs one guarded catalog reload
type RenewalRunner interface {
	RunRenewal(ctx context.Context, kind types.CatalogKind, minRatio float64) (*types.Snapshot, error)
}

// RenewalState is the scheduler lifecycle state
type RenewalState string

const (
	// StateIdle means the scheduler has not been started
	StateIdle RenewalState = "idle"
	// StateWaiting means the scheduler is between renewals
	StateWaiting RenewalState = "waiting"
	// StateRunning means a renewal is in flight
	StateRunning RenewalState = "running"
)

// RenewalScheduler periodically reloads the catalog so published snapshots
// never age past the renewal interval. It polls on a short ticker and decides
// each tick whether the interval has elapsed; a renewal whose result shrinks
// below the acceptance ratio leaves the previous snapshot in place and the
// clock unadvanced, so the next tick retries.
type RenewalScheduler struct {
	runner       RenewalRunner
	kind         types.CatalogKind
	interval     time.Duration
	pollInterval time.Duration
	initialDelay time.Duration
	minRatio     float64
	log          *logging.Logger

	mu          sync.RWMutex
	running     bool
	state       RenewalState
	startedAt   time.Time
	lastPoll    time.Time
	lastRenewal time.Time
	lastError   string

	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

// RenewalSchedulerConfig holds configuration for a renewal scheduler
type RenewalSchedulerConfig struct {
	Runner       RenewalRunner
	Kind         types.CatalogKind
	Interval     time.Duration
	PollInterval time.Duration
	InitialDelay time.Duration
	MinRatio     float64
	// LastRenewal seeds the renewal clock, typically from a snapshot
	// restored at startup. Zero means renew as soon as the initial delay
	// has passed.
	LastRenewal time.Time
	Logger      *logging.Logger
}

// NewRenewalScheduler creates a new renewal scheduler
func NewRenewalScheduler(cfg *RenewalSchedulerConfig) (*RenewalScheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("renewal runner cannot be nil")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("invalid catalog kind %q", cfg.Kind)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Minute
	}
	minRatio := cfg.MinRatio
	if minRatio <= 0 || minRatio > 1 {
		minRatio = 0.5
	}

	return &RenewalScheduler{
		runner:       cfg.Runner,
		kind:         cfg.Kind,
		interval:     interval,
		pollInterval: pollInterval,
		initialDelay: cfg.InitialDelay,
		minRatio:     minRatio,
		log:          cfg.Logger.WithField("component", "renewal"),
		state:        StateIdle,
		lastRenewal:  cfg.LastRenewal,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		now:          time.Now,
	}, nil
}

// SetNowFunc overrides the clock. Intended for tests.
func (s *RenewalScheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Start begins the polling loop
func (s *RenewalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("renewal scheduler is already running")
	}
	s.running = true
	s.state = StateWaiting
	s.startedAt = s.now()
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"kind":     string(s.kind),
		"interval": s.interval.String(),
		"poll":     s.pollInterval.String(),
	}).Info("Starting renewal scheduler")

	go s.pollLoop(ctx)

	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight renewal
func (s *RenewalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("renewal scheduler is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.log.Info("Renewal scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Renewal scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.state = StateIdle
	s.mu.Unlock()

	return nil
}

// pollLoop drives the scheduler until stopped
func (s *RenewalScheduler) pollLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick decides whether a renewal is due and runs it
func (s *RenewalScheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	s.lastPoll = now

	if now.Sub(s.startedAt) < s.initialDelay {
		s.mu.Unlock()
		return
	}
	if !s.lastRenewal.IsZero() && now.Sub(s.lastRenewal) < s.interval {
		s.mu.Unlock()
		return
	}

	s.state = StateRunning
	s.mu.Unlock()

	snapshot, err := s.runner.RunRenewal(ctx, s.kind, s.minRatio)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateWaiting

	if err != nil {
		s.lastError = err.Error()
		// A concurrent manual load owns the slot; let it count as activity
		// and check again next tick
		if scanerrors.IsCapacity(err) {
			s.log.Info("Renewal skipped, another load is in progress")
			return
		}
		s.log.WithError(err).Error("Renewal failed, keeping previous snapshot")
		return
	}

	s.lastRenewal = s.now()
	s.lastError = ""
	s.log.WithFields(map[string]interface{}{
		"kind":    string(s.kind),
		"records": snapshot.RecordCount(),
	}).Info("Renewal published new snapshot")
}

// RenewalStatus is a point-in-time view of the scheduler
type RenewalStatus struct {
	Kind            types.CatalogKind `json:"kind"`
	State           RenewalState      `json:"state"`
	Running         bool              `json:"running"`
	LastPollTime    time.Time         `json:"lastPollTime"`
	LastRenewal     time.Time         `json:"lastRenewal"`
	NextRenewalDue  time.Time         `json:"nextRenewalDue"`
	LastError       string            `json:"lastError,omitempty"`
	IntervalSeconds int               `json:"intervalSeconds"`
}

// GetStatus returns the current scheduler status
func (s *RenewalScheduler) GetStatus() *RenewalStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &RenewalStatus{
		Kind:            s.kind,
		State:           s.state,
		Running:         s.running,
		LastPollTime:    s.lastPoll,
		LastRenewal:     s.lastRenewal,
		LastError:       s.lastError,
		IntervalSeconds: int(s.interval.Seconds()),
	}
	if !s.lastRenewal.IsZero() {
		status.NextRenewalDue = s.lastRenewal.Add(s.interval)
	}
	return status
}
