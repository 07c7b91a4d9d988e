package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// =============================================================================
// Authenticated ledger
// =============================================================================

const getCurrentUsagePeriod = `
SELECT account_id, period_key, used_import, used_analyze, window_anchor, updated_at
FROM usage_periods
WHERE account_id = $1
  AND period_key = $2
  AND window_anchor >= $3
`

type GetCurrentUsagePeriodParams struct {
	AccountID uuid.UUID
	PeriodKey string
	Cutoff    time.Time
}

func (q *Queries) GetCurrentUsagePeriod(ctx context.Context, arg GetCurrentUsagePeriodParams) (UsagePeriod, error) {
	row := q.db.QueryRowContext(ctx, getCurrentUsagePeriod, arg.AccountID, arg.PeriodKey, arg.Cutoff)
	var i UsagePeriod
	err := row.Scan(
		&i.AccountID,
		&i.PeriodKey,
		&i.UsedImport,
		&i.UsedAnalyze,
		&i.WindowAnchor,
		&i.UpdatedAt,
	)
	return i, err
}

// recordUsage increments the live period or restarts an expired one in a
// single statement. $6 is the window cutoff: anchors before it are expired.
// Every stored row has a positive counter, so the counters equal the delta
// exactly when the write started the period.
const recordUsage = `
INSERT INTO usage_periods AS p (account_id, period_key, used_import, used_analyze, window_anchor, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (account_id, period_key) DO UPDATE SET
    used_import = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_import
                       ELSE p.used_import + EXCLUDED.used_import END,
    used_analyze = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_analyze
                        ELSE p.used_analyze + EXCLUDED.used_analyze END,
    window_anchor = GREATEST(p.window_anchor, EXCLUDED.window_anchor),
    updated_at = EXCLUDED.updated_at
RETURNING used_import, used_analyze, window_anchor, updated_at, (used_import = $3 AND used_analyze = $4) AS started
`

// tryConsumeUsage is recordUsage guarded by the limit ($7). When the guard
// fails no row is returned and the stored period is unchanged.
const tryConsumeUsage = `
INSERT INTO usage_periods AS p (account_id, period_key, used_import, used_analyze, window_anchor, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (account_id, period_key) DO UPDATE SET
    used_import = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_import
                       ELSE p.used_import + EXCLUDED.used_import END,
    used_analyze = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_analyze
                        ELSE p.used_analyze + EXCLUDED.used_analyze END,
    window_anchor = GREATEST(p.window_anchor, EXCLUDED.window_anchor),
    updated_at = EXCLUDED.updated_at
WHERE p.window_anchor < $6
   OR ((EXCLUDED.used_import = 0 OR p.used_import + EXCLUDED.used_import <= $7)
       AND (EXCLUDED.used_analyze = 0 OR p.used_analyze + EXCLUDED.used_analyze <= $7))
RETURNING used_import, used_analyze, window_anchor, updated_at, (used_import = $3 AND used_analyze = $4) AS started
`

type RecordUsageParams struct {
	AccountID    uuid.UUID
	PeriodKey    string
	ImportDelta  int32
	AnalyzeDelta int32
	Now          time.Time
	Cutoff       time.Time
}

type TryConsumeUsageParams struct {
	RecordUsageParams
	Limit int32
}

type RecordUsageRow struct {
	UsedImport   int32
	UsedAnalyze  int32
	WindowAnchor time.Time
	UpdatedAt    time.Time
	Started      bool
}

func (q *Queries) RecordUsage(ctx context.Context, arg RecordUsageParams) (RecordUsageRow, error) {
	row := q.db.QueryRowContext(ctx, recordUsage,
		arg.AccountID,
		arg.PeriodKey,
		arg.ImportDelta,
		arg.AnalyzeDelta,
		arg.Now,
		arg.Cutoff,
	)
	return scanRecordUsageRow(row)
}

// TryConsumeUsage returns sql.ErrNoRows when the limit would be exceeded.
func (q *Queries) TryConsumeUsage(ctx context.Context, arg TryConsumeUsageParams) (RecordUsageRow, error) {
	row := q.db.QueryRowContext(ctx, tryConsumeUsage,
		arg.AccountID,
		arg.PeriodKey,
		arg.ImportDelta,
		arg.AnalyzeDelta,
		arg.Now,
		arg.Cutoff,
		arg.Limit,
	)
	return scanRecordUsageRow(row)
}

const deleteUsagePeriodsBefore = `
DELETE FROM usage_periods
WHERE window_anchor < $1
RETURNING account_id, period_key, used_import, used_analyze, window_anchor, updated_at
`

func (q *Queries) DeleteUsagePeriodsBefore(ctx context.Context, before time.Time) ([]UsagePeriod, error) {
	rows, err := q.db.QueryContext(ctx, deleteUsagePeriodsBefore, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UsagePeriod
	for rows.Next() {
		var i UsagePeriod
		if err := rows.Scan(
			&i.AccountID,
			&i.PeriodKey,
			&i.UsedImport,
			&i.UsedAnalyze,
			&i.WindowAnchor,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// =============================================================================
// Anonymous ledger
// =============================================================================

const getCurrentAnonymousUsagePeriod = `
SELECT ip_address, period_key, used_import, used_analyze, window_anchor, updated_at, claimed_by
FROM anonymous_usage_periods
WHERE ip_address = $1
  AND period_key = $2
  AND window_anchor >= $3
`

type GetCurrentAnonymousUsagePeriodParams struct {
	IpAddress pqtype.Inet
	PeriodKey string
	Cutoff    time.Time
}

func (q *Queries) GetCurrentAnonymousUsagePeriod(ctx context.Context, arg GetCurrentAnonymousUsagePeriodParams) (AnonymousUsagePeriod, error) {
	row := q.db.QueryRowContext(ctx, getCurrentAnonymousUsagePeriod, arg.IpAddress, arg.PeriodKey, arg.Cutoff)
	var i AnonymousUsagePeriod
	err := row.Scan(
		&i.IpAddress,
		&i.PeriodKey,
		&i.UsedImport,
		&i.UsedAnalyze,
		&i.WindowAnchor,
		&i.UpdatedAt,
		&i.ClaimedBy,
	)
	return i, err
}

// recordAnonymousUsage also drops the claim marker when the period restarts;
// the new period belongs to whoever uses the address next.
const recordAnonymousUsage = `
INSERT INTO anonymous_usage_periods AS p (ip_address, period_key, used_import, used_analyze, window_anchor, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (ip_address, period_key) DO UPDATE SET
    used_import = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_import
                       ELSE p.used_import + EXCLUDED.used_import END,
    used_analyze = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_analyze
                        ELSE p.used_analyze + EXCLUDED.used_analyze END,
    claimed_by = CASE WHEN p.window_anchor < $6 THEN NULL ELSE p.claimed_by END,
    window_anchor = GREATEST(p.window_anchor, EXCLUDED.window_anchor),
    updated_at = EXCLUDED.updated_at
RETURNING used_import, used_analyze, window_anchor, updated_at, (used_import = $3 AND used_analyze = $4) AS started
`

const tryConsumeAnonymousUsage = `
INSERT INTO anonymous_usage_periods AS p (ip_address, period_key, used_import, used_analyze, window_anchor, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (ip_address, period_key) DO UPDATE SET
    used_import = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_import
                       ELSE p.used_import + EXCLUDED.used_import END,
    used_analyze = CASE WHEN p.window_anchor < $6 THEN EXCLUDED.used_analyze
                        ELSE p.used_analyze + EXCLUDED.used_analyze END,
    claimed_by = CASE WHEN p.window_anchor < $6 THEN NULL ELSE p.claimed_by END,
    window_anchor = GREATEST(p.window_anchor, EXCLUDED.window_anchor),
    updated_at = EXCLUDED.updated_at
WHERE p.window_anchor < $6
   OR ((EXCLUDED.used_import = 0 OR p.used_import + EXCLUDED.used_import <= $7)
       AND (EXCLUDED.used_analyze = 0 OR p.used_analyze + EXCLUDED.used_analyze <= $7))
RETURNING used_import, used_analyze, window_anchor, updated_at, (used_import = $3 AND used_analyze = $4) AS started
`

type RecordAnonymousUsageParams struct {
	IpAddress    pqtype.Inet
	PeriodKey    string
	ImportDelta  int32
	AnalyzeDelta int32
	Now          time.Time
	Cutoff       time.Time
}

type TryConsumeAnonymousUsageParams struct {
	RecordAnonymousUsageParams
	Limit int32
}

func (q *Queries) RecordAnonymousUsage(ctx context.Context, arg RecordAnonymousUsageParams) (RecordUsageRow, error) {
	row := q.db.QueryRowContext(ctx, recordAnonymousUsage,
		arg.IpAddress,
		arg.PeriodKey,
		arg.ImportDelta,
		arg.AnalyzeDelta,
		arg.Now,
		arg.Cutoff,
	)
	return scanRecordUsageRow(row)
}

// TryConsumeAnonymousUsage returns sql.ErrNoRows when the limit would be exceeded.
func (q *Queries) TryConsumeAnonymousUsage(ctx context.Context, arg TryConsumeAnonymousUsageParams) (RecordUsageRow, error) {
	row := q.db.QueryRowContext(ctx, tryConsumeAnonymousUsage,
		arg.IpAddress,
		arg.PeriodKey,
		arg.ImportDelta,
		arg.AnalyzeDelta,
		arg.Now,
		arg.Cutoff,
		arg.Limit,
	)
	return scanRecordUsageRow(row)
}

const deleteAnonymousUsagePeriodsBefore = `
DELETE FROM anonymous_usage_periods
WHERE window_anchor < $1
RETURNING ip_address, period_key, used_import, used_analyze, window_anchor, updated_at, claimed_by
`

func (q *Queries) DeleteAnonymousUsagePeriodsBefore(ctx context.Context, before time.Time) ([]AnonymousUsagePeriod, error) {
	rows, err := q.db.QueryContext(ctx, deleteAnonymousUsagePeriodsBefore, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AnonymousUsagePeriod
	for rows.Next() {
		var i AnonymousUsagePeriod
		if err := rows.Scan(
			&i.IpAddress,
			&i.PeriodKey,
			&i.UsedImport,
			&i.UsedAnalyze,
			&i.WindowAnchor,
			&i.UpdatedAt,
			&i.ClaimedBy,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanRecordUsageRow(row *sql.Row) (RecordUsageRow, error) {
	var i RecordUsageRow
	err := row.Scan(
		&i.UsedImport,
		&i.UsedAnalyze,
		&i.WindowAnchor,
		&i.UpdatedAt,
		&i.Started,
	)
	return i, err
}
