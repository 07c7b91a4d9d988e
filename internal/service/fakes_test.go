package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/repository"
)

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nullLimit(n int32) sql.NullInt32 {
	return sql.NullInt32{Int32: n, Valid: true}
}

// fakeCatalog is an in-memory TierCatalog.
type fakeCatalog struct {
	mu    sync.Mutex
	tiers map[string]repository.AccountTier
	err   error
	gets  atomic.Int64
	lists atomic.Int64
	delay time.Duration
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tiers: map[string]repository.AccountTier{
		"free":       {TierID: "free", ImportLimit: nullLimit(10), AnalysisLimit: nullLimit(2), IsActive: true},
		"pro":        {TierID: "pro", AnalysisLimit: nullLimit(50), IsActive: true},
		"enterprise": {TierID: "enterprise", IsActive: true},
	}}
}

func (c *fakeCatalog) set(row repository.AccountTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers[row.TierID] = row
}

func (c *fakeCatalog) GetAccountTier(ctx context.Context, tierID string) (repository.AccountTier, error) {
	c.gets.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if err := ctx.Err(); err != nil {
		return repository.AccountTier{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return repository.AccountTier{}, c.err
	}
	row, ok := c.tiers[tierID]
	if !ok {
		return repository.AccountTier{}, sql.ErrNoRows
	}
	return row, nil
}

func (c *fakeCatalog) ListAccountTiers(_ context.Context, tierIDs []string) ([]repository.AccountTier, error) {
	c.lists.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var rows []repository.AccountTier
	for _, id := range tierIDs {
		if row, ok := c.tiers[id]; ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// fakeDirectory is an in-memory AccountDirectory.
type fakeDirectory struct {
	accounts map[uuid.UUID]*domain.Account
	err      error
}

func newFakeDirectory(accounts ...*domain.Account) *fakeDirectory {
	d := &fakeDirectory{accounts: make(map[uuid.UUID]*domain.Account)}
	for _, a := range accounts {
		d.accounts[a.ID] = a
	}
	return d
}

func (d *fakeDirectory) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	if d.err != nil {
		return nil, domain.Unavailable(d.err, "accounts.get", "failed to read account")
	}
	a, ok := d.accounts[id]
	if !ok {
		return nil, domain.NotFound("accounts.get", "account", id.String())
	}
	return a, nil
}

func newAccount(tier string, status domain.SubscriptionStatus) *domain.Account {
	return &domain.Account{ID: uuid.New(), Tier: tier, SubscriptionStatus: status}
}

// failingLedger fails every call.
type failingLedger struct{}

func (failingLedger) Current(context.Context, domain.Identity, string, time.Time) (*domain.ConsumptionPeriod, error) {
	return nil, errConnRefused
}

func (failingLedger) Record(context.Context, ledger.Delta) (domain.ConsumptionPeriod, bool, error) {
	return domain.ConsumptionPeriod{}, false, errConnRefused
}

func (failingLedger) TryConsume(context.Context, ledger.Delta, int) (domain.ConsumptionPeriod, bool, error) {
	return domain.ConsumptionPeriod{}, false, errConnRefused
}

func (failingLedger) Sweep(context.Context, time.Time, ledger.ArchiveFunc) (int64, error) {
	return 0, errConnRefused
}

func (failingLedger) Ping(context.Context) error {
	return errConnRefused
}

// fakeClaimStore claims each (account, address) pair once.
type fakeClaimStore struct {
	mu      sync.Mutex
	pending map[netip.Addr]domain.ClaimResult
	err     error
	calls   int
}

func (s *fakeClaimStore) Claim(_ context.Context, _ uuid.UUID, address netip.Addr) (domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.ClaimResult{}, s.err
	}
	result := s.pending[address]
	delete(s.pending, address)
	return result, nil
}
