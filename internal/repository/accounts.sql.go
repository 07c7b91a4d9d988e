package repository

import (
	"context"

	"github.com/google/uuid"
)

const getAccount = `
SELECT id, account_tier, subscription_status, created_at, updated_at
FROM accounts
WHERE id = $1
`

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := q.db.QueryRowContext(ctx, getAccount, id)
	var i Account
	err := row.Scan(
		&i.ID,
		&i.AccountTier,
		&i.SubscriptionStatus,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
