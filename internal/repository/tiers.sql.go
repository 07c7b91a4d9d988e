package repository

import (
	"context"

	"github.com/lib/pq"
)

const getAccountTier = `
SELECT tier_id, import_limit, analysis_limit, is_active, created_at, updated_at
FROM account_tiers
WHERE tier_id = $1
`

func (q *Queries) GetAccountTier(ctx context.Context, tierID string) (AccountTier, error) {
	row := q.db.QueryRowContext(ctx, getAccountTier, tierID)
	var i AccountTier
	err := row.Scan(
		&i.TierID,
		&i.ImportLimit,
		&i.AnalysisLimit,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listAccountTiers = `
SELECT tier_id, import_limit, analysis_limit, is_active, created_at, updated_at
FROM account_tiers
WHERE tier_id = ANY($1::text[])
ORDER BY tier_id
`

func (q *Queries) ListAccountTiers(ctx context.Context, tierIDs []string) ([]AccountTier, error) {
	rows, err := q.db.QueryContext(ctx, listAccountTiers, pq.Array(tierIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountTier
	for rows.Next() {
		var i AccountTier
		if err := rows.Scan(
			&i.TierID,
			&i.ImportLimit,
			&i.AnalysisLimit,
			&i.IsActive,
			&i.CreatedAt,
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
