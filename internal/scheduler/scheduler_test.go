package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camly/backend/internal/ledger"
)

type window struct{ after, upTo time.Time }

type fakeLedger struct {
	mu         sync.Mutex
	windows    []window
	releaseErr error
	reconciled int
}

func (f *fakeLedger) ReleaseEscrow(_ context.Context, after, upTo time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, window{after, upTo})
	return 2, f.releaseErr
}

func (f *fakeLedger) Reconcile(context.Context) (*ledger.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
	return &ledger.ReconcileReport{Checked: 1, Repaired: 1}, nil
}

type fakeSweeper struct {
	mu  sync.Mutex
	at  []time.Time
	err error
}

func (f *fakeSweeper) SweepStalePending(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = append(f.at, now)
	return 1, f.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSweeper, *fakeLedger) {
	t.Helper()
	sw, l := &fakeSweeper{}, &fakeLedger{}
	s, err := New(sw, l, Config{SweepInterval: time.Hour, ReconcileInterval: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, sw, l
}

func TestReleaseEscrowAdvancesWatermark(t *testing.T) {
	s, _, l := newTestScheduler(t)
	t0 := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	s.ReleaseEscrow(ctx)
	clock = t0.Add(time.Minute)
	s.ReleaseEscrow(ctx)

	require.Len(t, l.windows, 2)
	assert.Equal(t, window{t0.Add(-escrowLookback), t0}, l.windows[0])
	assert.Equal(t, window{t0, t0.Add(time.Minute)}, l.windows[1])
}

func TestReleaseEscrowKeepsWatermarkOnError(t *testing.T) {
	s, _, l := newTestScheduler(t)
	t0 := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	s.ReleaseEscrow(ctx)
	l.releaseErr = errors.New("db down")
	clock = t0.Add(time.Minute)
	s.ReleaseEscrow(ctx)
	l.releaseErr = nil
	clock = t0.Add(2 * time.Minute)
	s.ReleaseEscrow(ctx)

	require.Len(t, l.windows, 3)
	assert.Equal(t, t0, l.windows[2].after, "failed scan must be retried from the old watermark")
}

func TestSweepAndReconcile(t *testing.T) {
	s, sw, l := newTestScheduler(t)
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	s.SweepClaims(context.Background())
	sw.err = errors.New("timeout")
	s.SweepClaims(context.Background())
	s.Reconcile(context.Background())

	assert.Equal(t, []time.Time{at, at}, sw.at)
	assert.Equal(t, 1, l.reconciled)
}

func TestSchedulerStartsAndStops(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Start()
	assert.Len(t, s.sched.Jobs(), 3)
}
