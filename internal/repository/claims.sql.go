package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const claimChessProfiles = `
UPDATE chess_profiles
SET user_id = $1
WHERE anonymous_key = $2
  AND user_id IS NULL
`

type ClaimParams struct {
	UserID       uuid.UUID
	AnonymousKey string
}

func (q *Queries) ClaimChessProfiles(ctx context.Context, arg ClaimParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimChessProfiles, arg.UserID, arg.AnonymousKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const claimGames = `
UPDATE games
SET user_id = $1
WHERE anonymous_key = $2
  AND user_id IS NULL
`

func (q *Queries) ClaimGames(ctx context.Context, arg ClaimParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimGames, arg.UserID, arg.AnonymousKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const claimGameAnalyses = `
UPDATE game_analyses
SET user_id = $1
WHERE anonymous_key = $2
  AND user_id IS NULL
`

func (q *Queries) ClaimGameAnalyses(ctx context.Context, arg ClaimParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimGameAnalyses, arg.UserID, arg.AnonymousKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// claimAnonymousUsagePeriods records who claimed the visitor's history. The
// counters are left alone.
const claimAnonymousUsagePeriods = `
UPDATE anonymous_usage_periods
SET claimed_by = $1
WHERE ip_address = $2
  AND claimed_by IS NULL
`

type ClaimAnonymousUsagePeriodsParams struct {
	ClaimedBy uuid.UUID
	IpAddress pqtype.Inet
}

func (q *Queries) ClaimAnonymousUsagePeriods(ctx context.Context, arg ClaimAnonymousUsagePeriodsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimAnonymousUsagePeriods, arg.ClaimedBy, arg.IpAddress)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
