// Package scheduler runs the periodic ledger sweeps in-process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/camly/backend/internal/ledger"
)

// The first escrow scan after startup looks back this far.
const escrowLookback = time.Hour

type ClaimSweeper interface {
	SweepStalePending(ctx context.Context, now time.Time) (int, error)
}

type Ledger interface {
	ReleaseEscrow(ctx context.Context, after, upTo time.Time) (int, error)
	Reconcile(ctx context.Context) (*ledger.ReconcileReport, error)
}

type Config struct {
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

type Scheduler struct {
	sched  gocron.Scheduler
	claims ClaimSweeper
	ledger Ledger
	log    *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	watermark time.Time
}

func New(claims ClaimSweeper, l Ledger, cfg Config, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, claims: claims, ledger: l, log: log, now: time.Now, ctx: ctx, cancel: cancel}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"stale-claim-sweep", cfg.SweepInterval, s.SweepClaims},
		{"escrow-release", cfg.SweepInterval, s.ReleaseEscrow},
		{"ledger-reconcile", cfg.ReconcileInterval, s.Reconcile},
	}
	for _, j := range jobs {
		run := j.run
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { run(s.ctx) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return nil, fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() { s.sched.Start() }

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

// SweepClaims fails pending claims that outlived their settlement window.
func (s *Scheduler) SweepClaims(ctx context.Context) {
	n, err := s.claims.SweepStalePending(ctx, s.now().UTC())
	if err != nil {
		s.log.Error("stale claim sweep", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("stale claims failed", "count", n)
	}
}

// ReleaseEscrow announces entries released since the previous scan. The
// watermark only advances after a successful scan.
func (s *Scheduler) ReleaseEscrow(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upTo := s.now().UTC()
	after := s.watermark
	if after.IsZero() {
		after = upTo.Add(-escrowLookback)
	}
	n, err := s.ledger.ReleaseEscrow(ctx, after, upTo)
	if err != nil {
		s.log.Error("escrow release scan", "error", err, "after", after)
		return
	}
	s.watermark = upTo
	if n > 0 {
		s.log.Info("escrow released", "entries", n, "after", after, "up_to", upTo)
	}
}

func (s *Scheduler) Reconcile(ctx context.Context) {
	report, err := s.ledger.Reconcile(ctx)
	if err != nil {
		s.log.Error("ledger reconcile", "error", err)
		return
	}
	if report.Repaired > 0 || report.Failed > 0 {
		s.log.Warn("ledger reconcile finished", "checked", report.Checked, "repaired", report.Repaired, "failed", report.Failed)
	}
}
