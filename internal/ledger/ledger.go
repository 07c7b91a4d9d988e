// Package ledger stores per-identity consumption periods.
//
// Every write is a single atomic operation against the backing store: the
// counter is incremented, or reset when the stored period has expired, and
// the window anchor moves forward, all in one step. Callers never read and
// write separately, so concurrent records for one identity cannot lose updates.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/gambit/internal/domain"
)

// Delta describes one consumption write.
type Delta struct {
	Identity  domain.Identity
	PeriodKey string
	Action    domain.Action
	Amount    int
	Now       time.Time
	Cutoff    time.Time // periods anchored before Cutoff are expired
}

// Validate checks the delta before it reaches storage.
func (d Delta) Validate() error {
	if err := d.Identity.Validate(); err != nil {
		return err
	}
	if !d.Action.IsValid() {
		return ErrInvalidDelta
	}
	if d.Amount <= 0 {
		return ErrInvalidDelta
	}
	if d.PeriodKey == "" || d.Now.IsZero() || d.Cutoff.After(d.Now) {
		return ErrInvalidDelta
	}
	return nil
}

// imports and analyses split the amount across the two counters.
func (d Delta) imports() int {
	if d.Action == domain.ActionImport {
		return d.Amount
	}
	return 0
}

func (d Delta) analyses() int {
	if d.Action == domain.ActionAnalyze {
		return d.Amount
	}
	return 0
}

// ErrInvalidDelta is returned for deltas that must never be written.
var ErrInvalidDelta = errors.New("ledger: invalid delta")

// ArchiveFunc receives expired periods before they are deleted. Returning an
// error aborts the sweep and keeps the periods.
type ArchiveFunc func(ctx context.Context, periods []domain.ConsumptionPeriod) error

// Ledger is the consumption store.
type Ledger interface {
	// Current returns the period for identity whose anchor is at or after
	// cutoff, or nil when no period is active.
	Current(ctx context.Context, identity domain.Identity, periodKey string, cutoff time.Time) (*domain.ConsumptionPeriod, error)

	// Record applies d unconditionally. The returned flag reports whether the
	// write started a new period (first write or expired previous period).
	Record(ctx context.Context, d Delta) (domain.ConsumptionPeriod, bool, error)

	// TryConsume applies d only if the acted-upon counter stays within limit
	// afterwards, or the stored period has expired. When the delta is refused
	// the returned period is the unchanged current one (zero counters when
	// none is active) and the flag is false.
	TryConsume(ctx context.Context, d Delta, limit int) (domain.ConsumptionPeriod, bool, error)

	// Sweep deletes every period anchored before before, across both identity
	// kinds, and returns how many were removed. When archive is non-nil it is
	// called with the periods first.
	Sweep(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Claimer is implemented by ledgers that keep anonymous periods outside the
// relational store. Claims mark those periods with the claiming account.
type Claimer interface {
	Claim(ctx context.Context, anonymous, account domain.Identity) (int64, error)
}

// emptyPeriod is what a refused TryConsume returns when nothing is stored.
func emptyPeriod(d Delta) domain.ConsumptionPeriod {
	return domain.ConsumptionPeriod{Identity: d.Identity, PeriodKey: d.PeriodKey}
}
