// Package service contains the business logic layer.
//
// This file implements the tier resolver, which maps a tier identifier to
// per-window action limits read from the account_tiers catalog.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/metrics"
	"github.com/DukeRupert/gambit/internal/repository"
)

// DefaultFreeLimits apply when the catalog has no usable free tier.
var DefaultFreeLimits = domain.TierLimits{
	Import:   domain.LimitOf(10),
	Analysis: domain.LimitOf(2),
}

// DefaultTierCacheTTL bounds how long catalog edits take to be noticed.
const DefaultTierCacheTTL = 5 * time.Minute

// catalogReadTimeout bounds a shared catalog read once its callers are gone.
const catalogReadTimeout = 5 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// TierResolver resolves tier identifiers to limits.
type TierResolver interface {
	// ResolveLimits returns the limits of tierID. Unknown and inactive tiers
	// resolve to the free tier. Returns domain.EUNAVAILABLE when the catalog
	// cannot be read and domain.EINTERNAL for corrupt catalog rows.
	ResolveLimits(ctx context.Context, tierID string) (domain.TierLimits, error)

	// Preload fetches several tiers in one catalog query and caches them.
	Preload(ctx context.Context, tierIDs ...string) error
}

// TierCatalog is the read-only tier store. *repository.Queries satisfies it.
type TierCatalog interface {
	GetAccountTier(ctx context.Context, tierID string) (repository.AccountTier, error)
	ListAccountTiers(ctx context.Context, tierIDs []string) ([]repository.AccountTier, error)
}

// =============================================================================
// Implementation
// =============================================================================

type tierEntry struct {
	limits  domain.TierLimits
	found   bool // false for missing or inactive tiers
	expires time.Time
}

type tierResolver struct {
	catalog TierCatalog
	clock   quartz.Clock
	ttl     time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]tierEntry
}

// NewTierResolver creates a TierResolver with a read-through cache. A ttl of
// zero or less uses DefaultTierCacheTTL.
func NewTierResolver(catalog TierCatalog, clock quartz.Clock, ttl time.Duration, logger *slog.Logger) TierResolver {
	if ttl <= 0 {
		ttl = DefaultTierCacheTTL
	}
	return &tierResolver{
		catalog: catalog,
		clock:   clock,
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]tierEntry),
	}
}

// ResolveLimits returns the limits of tierID.
func (r *tierResolver) ResolveLimits(ctx context.Context, tierID string) (domain.TierLimits, error) {
	const op = "tiers.resolve_limits"

	id := normalizeTierID(tierID)
	if id != domain.TierFree {
		entry, err := r.lookup(ctx, op, id)
		if err != nil {
			return domain.TierLimits{}, err
		}
		if entry.found {
			return entry.limits, nil
		}
		r.logger.Debug("Unknown tier, using free limits", "tier", id)
	}

	entry, err := r.lookup(ctx, op, domain.TierFree)
	if err != nil {
		return domain.TierLimits{}, err
	}
	if entry.found {
		return entry.limits, nil
	}
	return DefaultFreeLimits, nil
}

// Preload fetches tierIDs in one query.
func (r *tierResolver) Preload(ctx context.Context, tierIDs ...string) error {
	const op = "tiers.preload"

	ids := make([]string, 0, len(tierIDs))
	for _, id := range tierIDs {
		ids = append(ids, normalizeTierID(id))
	}

	rows, err := r.catalog.ListAccountTiers(ctx, ids)
	if err != nil {
		return domain.Unavailable(err, op, "failed to read tier catalog")
	}

	entries := make(map[string]tierEntry, len(ids))
	expires := r.clock.Now().Add(r.ttl)
	for _, id := range ids {
		entries[id] = tierEntry{expires: expires}
	}
	for _, row := range rows {
		entry, err := entryFromRow(row, expires)
		if err != nil {
			return domain.Internal(err, op, "invalid tier catalog entry")
		}
		entries[normalizeTierID(row.TierID)] = entry
	}

	r.mu.Lock()
	for id, entry := range entries {
		r.cache[id] = entry
	}
	r.mu.Unlock()

	r.logger.Info("Tier catalog preloaded", "requested", len(ids), "found", len(rows))
	return nil
}

// lookup serves id from cache or the catalog. Concurrent misses for the same
// tier share one catalog read.
func (r *tierResolver) lookup(ctx context.Context, op, id string) (tierEntry, error) {
	now := r.clock.Now()

	r.mu.RLock()
	entry, ok := r.cache[id]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		metrics.TierCacheHit()
		return entry, nil
	}
	metrics.TierCacheMiss()

	// The shared read must not die with whichever caller started it.
	ch := r.group.DoChan(id, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogReadTimeout)
		defer cancel()

		row, err := r.catalog.GetAccountTier(readCtx, id)
		expires := r.clock.Now().Add(r.ttl)

		var entry tierEntry
		switch {
		case errors.Is(err, sql.ErrNoRows):
			entry = tierEntry{expires: expires}
		case err != nil:
			return nil, domain.Unavailable(err, op, "failed to read tier catalog")
		default:
			entry, err = entryFromRow(row, expires)
			if err != nil {
				return nil, domain.Internal(err, op, "invalid tier catalog entry")
			}
		}

		r.mu.Lock()
		r.cache[id] = entry
		r.mu.Unlock()
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return tierEntry{}, res.Err
		}
		return res.Val.(tierEntry), nil
	case <-ctx.Done():
		return tierEntry{}, domain.Unavailable(ctx.Err(), op, "tier lookup canceled")
	}
}

func entryFromRow(row repository.AccountTier, expires time.Time) (tierEntry, error) {
	if !row.IsActive {
		return tierEntry{expires: expires}, nil
	}
	importLimit, err := limitFromColumn(row.ImportLimit)
	if err != nil {
		return tierEntry{}, fmt.Errorf("tier %q import_limit: %w", row.TierID, err)
	}
	analysisLimit, err := limitFromColumn(row.AnalysisLimit)
	if err != nil {
		return tierEntry{}, fmt.Errorf("tier %q analysis_limit: %w", row.TierID, err)
	}
	return tierEntry{
		limits:  domain.TierLimits{Import: importLimit, Analysis: analysisLimit},
		found:   true,
		expires: expires,
	}, nil
}

// limitFromColumn maps NULL to unlimited and rejects negative values.
func limitFromColumn(v sql.NullInt32) (domain.Limit, error) {
	if !v.Valid {
		return domain.Unlimited, nil
	}
	if v.Int32 < 0 {
		return domain.Limit{}, fmt.Errorf("negative limit %d", v.Int32)
	}
	return domain.LimitOf(int(v.Int32)), nil
}

// normalizeTierID case-folds and trims a tier identifier. Empty means free.
func normalizeTierID(id string) string {
	id = strings.TrimSpace(cases.Fold().String(id))
	if id == "" {
		return domain.TierFree
	}
	return id
}
