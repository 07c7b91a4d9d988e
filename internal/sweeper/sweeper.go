// Package sweeper removes consumption periods that expired long ago.
//
// Expired periods are harmless to admission (the next write resets them) but
// they accumulate forever without a sweep. Sweep runs once on demand; Start
// runs it on a ticker.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/metrics"
	"github.com/DukeRupert/gambit/internal/storage"
)

// Result describes one completed sweep.
type Result struct {
	Cutoff     time.Time
	Removed    int64
	ArchiveKey string // empty when archiving is disabled or nothing expired
	Duration   time.Duration
}

// Sweeper deletes periods anchored before now minus the retention horizon.
type Sweeper struct {
	ledger  ledger.Ledger
	archive storage.Storage
	clock   quartz.Clock
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// New creates a Sweeper. archive may be nil, in which case expired periods
// are deleted without being written anywhere first.
func New(l ledger.Ledger, archive storage.Storage, clock quartz.Clock, config Config, logger *slog.Logger) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Sweeper{
		ledger:  l,
		archive: archive,
		clock:   clock,
		config:  config,
		logger:  logger,
	}, nil
}

// Sweep removes every period whose anchor is before now - horizon from both
// ledgers. With an archive configured the periods are written out first, and
// a failed write leaves the ledger untouched.
func (s *Sweeper) Sweep(ctx context.Context, horizon time.Duration) (Result, error) {
	if err := s.config.CheckHorizon(horizon); err != nil {
		return Result{}, domain.Invalid("sweeper.sweep", err.Error())
	}

	start := s.clock.Now()
	res := Result{Cutoff: start.Add(-horizon)}

	var archive ledger.ArchiveFunc
	if s.archive != nil {
		archive = func(ctx context.Context, periods []domain.ConsumptionPeriod) error {
			key, err := writeArchive(ctx, s.archive, periods, start)
			if err != nil {
				return err
			}
			res.ArchiveKey = key
			return nil
		}
	}

	removed, err := s.ledger.Sweep(ctx, res.Cutoff, archive)
	res.Duration = s.clock.Since(start)
	if err != nil {
		metrics.SweepFailed()
		s.logger.Error("retention sweep failed", "cutoff", res.Cutoff, "error", err)
		return res, domain.Unavailable(err, "sweeper.sweep", "retention sweep failed")
	}
	res.Removed = removed

	metrics.SweepCompleted(removed, res.Duration)
	s.logger.Info("retention sweep completed",
		"cutoff", res.Cutoff,
		"removed", removed,
		"archive_key", res.ArchiveKey,
		"duration", res.Duration,
	)
	return res, nil
}

// Start sweeps every Config.Interval until Stop is called or ctx ends.
// Failed sweeps are logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.waiter = s.clock.TickerFunc(ctx, s.config.Interval, func() error {
		_, _ = s.Sweep(ctx, s.config.Horizon)
		return nil
	}, "sweeper")

	s.logger.Info("sweeper started", "interval", s.config.Interval, "horizon", s.config.Horizon)
}

// Stop halts the periodic loop and waits up to ShutdownTimeout for an
// in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, waiter := s.cancel, s.waiter
	s.cancel, s.waiter = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.logger.Info("stopping sweeper...")
	cancel()

	done := make(chan struct{})
	go func() {
		_ = waiter.Wait()
		close(done)
	}()

	timer := s.clock.NewTimer(s.config.ShutdownTimeout, "sweeper", "stop")
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("sweeper stopped gracefully")
	case <-timer.C:
		s.logger.Warn("sweeper shutdown timeout exceeded, a sweep may still be running")
	}
}
