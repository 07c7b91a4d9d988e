package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/repository"
)

// PostgresLedger stores periods in the usage_periods and
// anonymous_usage_periods tables.
type PostgresLedger struct {
	db      *sql.DB
	queries *repository.Queries
}

// NewPostgresLedger creates a ledger on db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db:      db,
		queries: repository.New(db),
	}
}

var _ Ledger = (*PostgresLedger)(nil)

func (l *PostgresLedger) Current(ctx context.Context, identity domain.Identity, periodKey string, cutoff time.Time) (*domain.ConsumptionPeriod, error) {
	if identity.IsAnonymous() {
		row, err := l.queries.GetCurrentAnonymousUsagePeriod(ctx, repository.GetCurrentAnonymousUsagePeriodParams{
			IpAddress: repository.InetFromAddr(identity.Address),
			PeriodKey: periodKey,
			Cutoff:    cutoff,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get anonymous usage period: %w", err)
		}
		p := anonymousPeriodToDomain(row)
		return &p, nil
	}

	row, err := l.queries.GetCurrentUsagePeriod(ctx, repository.GetCurrentUsagePeriodParams{
		AccountID: identity.AccountID,
		PeriodKey: periodKey,
		Cutoff:    cutoff,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage period: %w", err)
	}
	p := usagePeriodToDomain(row)
	return &p, nil
}

func (l *PostgresLedger) Record(ctx context.Context, d Delta) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}

	var (
		row repository.RecordUsageRow
		err error
	)
	if d.Identity.IsAnonymous() {
		row, err = l.queries.RecordAnonymousUsage(ctx, anonymousParams(d))
	} else {
		row, err = l.queries.RecordUsage(ctx, accountParams(d))
	}
	if err != nil {
		return domain.ConsumptionPeriod{}, false, fmt.Errorf("record usage: %w", err)
	}

	return recordRowToDomain(d, row), startedPeriod(row), nil
}

func (l *PostgresLedger) TryConsume(ctx context.Context, d Delta, limit int) (domain.ConsumptionPeriod, bool, error) {
	if err := d.Validate(); err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}
	// A fresh period cannot fit this delta either, and the insert path of the
	// upsert is unguarded.
	if d.Amount > limit {
		return l.refused(ctx, d)
	}

	var (
		row repository.RecordUsageRow
		err error
	)
	if d.Identity.IsAnonymous() {
		row, err = l.queries.TryConsumeAnonymousUsage(ctx, repository.TryConsumeAnonymousUsageParams{
			RecordAnonymousUsageParams: anonymousParams(d),
			Limit:                      int32(limit),
		})
	} else {
		row, err = l.queries.TryConsumeUsage(ctx, repository.TryConsumeUsageParams{
			RecordUsageParams: accountParams(d),
			Limit:             int32(limit),
		})
	}
	if errors.Is(err, sql.ErrNoRows) {
		return l.refused(ctx, d)
	}
	if err != nil {
		return domain.ConsumptionPeriod{}, false, fmt.Errorf("try consume usage: %w", err)
	}

	return recordRowToDomain(d, row), true, nil
}

func (l *PostgresLedger) refused(ctx context.Context, d Delta) (domain.ConsumptionPeriod, bool, error) {
	current, err := l.Current(ctx, d.Identity, d.PeriodKey, d.Cutoff)
	if err != nil {
		return domain.ConsumptionPeriod{}, false, err
	}
	if current == nil {
		return emptyPeriod(d), false, nil
	}
	return *current, false, nil
}

// Sweep deletes expired periods from both tables in one transaction. The
// archive callback runs inside it, so a failed archive keeps every row.
func (l *PostgresLedger) Sweep(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qtx := l.queries.WithTx(tx)

	accountRows, err := qtx.DeleteUsagePeriodsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete usage periods: %w", err)
	}
	anonymousRows, err := qtx.DeleteAnonymousUsagePeriodsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete anonymous usage periods: %w", err)
	}

	periods := make([]domain.ConsumptionPeriod, 0, len(accountRows)+len(anonymousRows))
	for _, row := range accountRows {
		periods = append(periods, usagePeriodToDomain(row))
	}
	for _, row := range anonymousRows {
		periods = append(periods, anonymousPeriodToDomain(row))
	}
	if len(periods) == 0 {
		return 0, nil
	}

	if archive != nil {
		if err := archive(ctx, periods); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep transaction: %w", err)
	}
	return int64(len(periods)), nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// =============================================================================
// Conversions
// =============================================================================

func accountParams(d Delta) repository.RecordUsageParams {
	return repository.RecordUsageParams{
		AccountID:    d.Identity.AccountID,
		PeriodKey:    d.PeriodKey,
		ImportDelta:  int32(d.imports()),
		AnalyzeDelta: int32(d.analyses()),
		Now:          d.Now,
		Cutoff:       d.Cutoff,
	}
}

func anonymousParams(d Delta) repository.RecordAnonymousUsageParams {
	return repository.RecordAnonymousUsageParams{
		IpAddress:    repository.InetFromAddr(d.Identity.Address),
		PeriodKey:    d.PeriodKey,
		ImportDelta:  int32(d.imports()),
		AnalyzeDelta: int32(d.analyses()),
		Now:          d.Now,
		Cutoff:       d.Cutoff,
	}
}

// startedPeriod reports whether the upsert inserted a row or replaced an
// expired one. It is derived from the row the statement wrote, so a writer
// that lost an insert race still reports an increment.
func startedPeriod(row repository.RecordUsageRow) bool {
	return row.Started
}

func recordRowToDomain(d Delta, row repository.RecordUsageRow) domain.ConsumptionPeriod {
	return domain.ConsumptionPeriod{
		Identity:     d.Identity,
		PeriodKey:    d.PeriodKey,
		ImportsUsed:  int(row.UsedImport),
		AnalysesUsed: int(row.UsedAnalyze),
		WindowAnchor: row.WindowAnchor,
		UpdatedAt:    row.UpdatedAt,
	}
}

func usagePeriodToDomain(row repository.UsagePeriod) domain.ConsumptionPeriod {
	return domain.ConsumptionPeriod{
		Identity:     domain.Authenticated(row.AccountID),
		PeriodKey:    row.PeriodKey,
		ImportsUsed:  int(row.UsedImport),
		AnalysesUsed: int(row.UsedAnalyze),
		WindowAnchor: row.WindowAnchor,
		UpdatedAt:    row.UpdatedAt,
	}
}

func anonymousPeriodToDomain(row repository.AnonymousUsagePeriod) domain.ConsumptionPeriod {
	addr, _ := repository.AddrFromInet(row.IpAddress)
	p := domain.ConsumptionPeriod{
		Identity:     domain.Anonymous(addr),
		PeriodKey:    row.PeriodKey,
		ImportsUsed:  int(row.UsedImport),
		AnalysesUsed: int(row.UsedAnalyze),
		WindowAnchor: row.WindowAnchor,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.ClaimedBy.Valid {
		p.ClaimedBy = claimant(row.ClaimedBy.UUID)
	}
	return p
}

func claimant(id uuid.UUID) *domain.Identity {
	identity := domain.Authenticated(id)
	return &identity
}
