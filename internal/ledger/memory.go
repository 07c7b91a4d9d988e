package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/gambit/internal/domain"
)

// MemoryLedger keeps periods in process memory. It is meant for tests and
// single-process development; state is lost on restart.
type MemoryLedger struct {
	mu      sync.Mutex
	periods map[memoryKey]*domain.ConsumptionPeriod
}

type memoryKey struct {
	identity  string
	periodKey string
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		periods: make(map[memoryKey]*domain.ConsumptionPeriod),
	}
}

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Claimer = (*MemoryLedger)(nil)
)

func (l *MemoryLedger) Current(_ context.Context, identity domain.Identity, periodKey string, cutoff time.Time) (*domain.ConsumptionPeriod, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.periods[memoryKey{identity.Key(), periodKey}]
	if !ok || p.WindowAnchor.Before(cutoff) {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (l *MemoryLedger) Record(_ context.Context, d Delta) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, reset := l.apply(d)
	return p, reset, nil
}

func (l *MemoryLedger) TryConsume(_ context.Context, d Delta, limit int) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.periods[memoryKey{d.Identity.Key(), d.PeriodKey}]; ok && !p.WindowAnchor.Before(d.Cutoff) {
		if p.Used(d.Action)+d.Amount > limit {
			return *p, false, nil
		}
	} else if d.Amount > limit {
		return emptyPeriod(d), false, nil
	}

	p, _ := l.apply(d)
	return p, true, nil
}

// apply performs the reset-or-increment write. Callers hold l.mu.
func (l *MemoryLedger) apply(d Delta) (domain.ConsumptionPeriod, bool) {
	key := memoryKey{d.Identity.Key(), d.PeriodKey}
	p, ok := l.periods[key]

	// A restarted period starts unclaimed.
	if !ok || p.WindowAnchor.Before(d.Cutoff) {
		p = &domain.ConsumptionPeriod{
			Identity:     d.Identity,
			PeriodKey:    d.PeriodKey,
			ImportsUsed:  d.imports(),
			AnalysesUsed: d.analyses(),
			WindowAnchor: d.Now,
			UpdatedAt:    d.Now,
		}
		l.periods[key] = p
		return *p, true
	}

	p.ImportsUsed += d.imports()
	p.AnalysesUsed += d.analyses()
	if d.Now.After(p.WindowAnchor) {
		p.WindowAnchor = d.Now
	}
	p.UpdatedAt = d.Now
	return *p, false
}

func (l *MemoryLedger) Sweep(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []memoryKey
	var periods []domain.ConsumptionPeriod
	for key, p := range l.periods {
		if p.WindowAnchor.Before(before) {
			expired = append(expired, key)
			periods = append(periods, *p)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	sort.Slice(periods, func(i, j int) bool {
		return periods[i].WindowAnchor.Before(periods[j].WindowAnchor)
	})

	if archive != nil {
		if err := archive(ctx, periods); err != nil {
			return 0, err
		}
	}

	for _, key := range expired {
		delete(l.periods, key)
	}
	return int64(len(expired)), nil
}

// Claim marks the periods of anonymous as claimed by account.
func (l *MemoryLedger) Claim(_ context.Context, anonymous, account domain.Identity) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, p := range l.periods {
		if p.Identity == anonymous && p.ClaimedBy == nil {
			claimedBy := account
			p.ClaimedBy = &claimedBy
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Ping(context.Context) error {
	return nil
}
