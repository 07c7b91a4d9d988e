// Package service contains the business logic layer.
//
// This file implements claiming: re-parenting a visitor's anonymous records
// onto the account they registered.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
	"github.com/DukeRupert/gambit/internal/metrics"
	"github.com/DukeRupert/gambit/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ClaimService moves anonymous data onto accounts.
type ClaimService interface {
	// ClaimAnonymousData re-parents every unclaimed record keyed by
	// anonymousKey (the visitor's network address) onto accountID. Calling
	// it again claims nothing new. Usage counters are never merged.
	// Returns domain.EINVALID for a malformed key and domain.ENOTFOUND for
	// an unknown account.
	ClaimAnonymousData(ctx context.Context, accountID uuid.UUID, anonymousKey string) (*domain.ClaimResult, error)
}

// ClaimStore performs the relational part of a claim atomically.
type ClaimStore interface {
	Claim(ctx context.Context, accountID uuid.UUID, address netip.Addr) (domain.ClaimResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type claimService struct {
	store    ClaimStore
	accounts AccountDirectory
	ledger   ledger.Ledger
	logger   *slog.Logger
}

// NewClaimService creates a new ClaimService. When usage implements
// ledger.Claimer, its anonymous periods are marked as well.
func NewClaimService(store ClaimStore, accounts AccountDirectory, usage ledger.Ledger, logger *slog.Logger) ClaimService {
	return &claimService{
		store:    store,
		accounts: accounts,
		ledger:   usage,
		logger:   logger,
	}
}

func (s *claimService) ClaimAnonymousData(ctx context.Context, accountID uuid.UUID, anonymousKey string) (*domain.ClaimResult, error) {
	const op = "claim.claim_anonymous_data"

	if accountID == uuid.Nil {
		return nil, domain.Wrap(domain.ErrInvalidIdentity, domain.EINVALID, op, "account id is required")
	}
	addr, err := domain.ParseAnonymousKey(anonymousKey)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	result, err := s.store.Claim(ctx, accountID, addr)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to claim anonymous data")
	}

	if claimer, ok := s.ledger.(ledger.Claimer); ok {
		n, err := claimer.Claim(ctx, domain.Anonymous(addr), domain.Authenticated(accountID))
		if err != nil {
			// The relational claim is committed; a retry only marks the
			// remaining periods.
			return nil, domain.Unavailable(err, op, "failed to claim anonymous usage history")
		}
		result.UsagePeriods += n
	}

	metrics.Claimed(result)
	s.logger.Info("Anonymous data claimed",
		"account_id", accountID,
		"anonymous_key", addr.String(),
		"profiles", result.Profiles,
		"games", result.Games,
		"analyses", result.Analyses,
		"usage_periods", result.UsagePeriods,
	)

	return &result, nil
}

// =============================================================================
// Postgres store
// =============================================================================

type postgresClaimStore struct {
	db      *sql.DB
	queries *repository.Queries
}

// NewPostgresClaimStore creates a ClaimStore that updates every claimable
// table in one transaction.
func NewPostgresClaimStore(db *sql.DB) ClaimStore {
	return &postgresClaimStore{
		db:      db,
		queries: repository.New(db),
	}
}

func (s *postgresClaimStore) Claim(ctx context.Context, accountID uuid.UUID, address netip.Addr) (domain.ClaimResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qtx := s.queries.WithTx(tx)
	params := repository.ClaimParams{UserID: accountID, AnonymousKey: address.String()}

	var result domain.ClaimResult
	if result.Profiles, err = qtx.ClaimChessProfiles(ctx, params); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim chess profiles: %w", err)
	}
	if result.Games, err = qtx.ClaimGames(ctx, params); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim games: %w", err)
	}
	if result.Analyses, err = qtx.ClaimGameAnalyses(ctx, params); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim game analyses: %w", err)
	}
	result.UsagePeriods, err = qtx.ClaimAnonymousUsagePeriods(ctx, repository.ClaimAnonymousUsagePeriodsParams{
		ClaimedBy: accountID,
		IpAddress: repository.InetFromAddr(address),
	})
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim usage periods: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("commit claim transaction: %w", err)
	}
	return result, nil
}
