package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scanerrors "github.com/market-scanner/internal/errors"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/types"
)

// fakeRunner counts renewals and can fail with a fixed error
type fakeRunner struct {
	calls int32
	err   error
}

func (f *fakeRunner) RunRenewal(ctx context.Context, kind types.CatalogKind, minRatio float64) (*types.Snapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Snapshot{
		Kind:      kind,
		Records:   make([]types.CompositeRecord, 5),
		CreatedAt: time.Now(),
	}, nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func newTestScheduler(t *testing.T, runner RenewalRunner, cfg RenewalSchedulerConfig) *RenewalScheduler {
	t.Helper()

	cfg.Runner = runner
	if cfg.Kind == "" {
		cfg.Kind = types.CatalogFull
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Interval == 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	s, err := NewRenewalScheduler(&cfg)
	require.NoError(t, err)
	return s
}

func TestNewRenewalScheduler_Validation(t *testing.T) {
	_, err := NewRenewalScheduler(&RenewalSchedulerConfig{Kind: types.CatalogFull, Logger: testLogger()})
	assert.Error(t, err, "nil runner must be rejected")

	_, err = NewRenewalScheduler(&RenewalSchedulerConfig{Runner: &fakeRunner{}, Kind: "bogus", Logger: testLogger()})
	assert.Error(t, err, "invalid kind must be rejected")

	_, err = NewRenewalScheduler(&RenewalSchedulerConfig{Runner: &fakeRunner{}, Kind: types.CatalogFull})
	assert.Error(t, err, "nil logger must be rejected")
}

func TestRenewalScheduler_RenewsWhenDue(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, RenewalSchedulerConfig{})

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.calls) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	status := s.GetStatus()
	assert.True(t, status.Running)
	assert.False(t, status.LastRenewal.IsZero())
	assert.Empty(t, status.LastError)
}

func TestRenewalScheduler_HonorsInitialDelay(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, RenewalSchedulerConfig{
		InitialDelay: time.Hour,
	})

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&runner.calls), "no renewal before the initial delay elapses")
	assert.Equal(t, StateWaiting, s.GetStatus().State)
}

func TestRenewalScheduler_WaitsOutInterval(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, RenewalSchedulerConfig{
		Interval:    time.Hour,
		LastRenewal: time.Now(),
	})

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&runner.calls), "a fresh renewal clock must suppress reloads")
}

func TestRenewalScheduler_FailedRenewalRetriesNextTick(t *testing.T) {
	runner := &fakeRunner{err: scanerrors.NewInsufficientResultsError(2, 10)}
	s := newTestScheduler(t, runner, RenewalSchedulerConfig{})

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	// The clock never advances on rejection, so every tick retries
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	status := s.GetStatus()
	assert.True(t, status.LastRenewal.IsZero())
	assert.NotEmpty(t, status.LastError)
}

func TestRenewalScheduler_StartStopLifecycle(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, RenewalSchedulerConfig{
		InitialDelay: time.Hour,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start must fail")

	require.NoError(t, s.Stop(context.Background()))
	assert.Error(t, s.Stop(context.Background()), "double stop must fail")

	assert.Equal(t, StateIdle, s.GetStatus().State)
}
