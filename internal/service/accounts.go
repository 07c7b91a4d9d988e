package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/repository"
)

// AccountDirectory is the read-only view of the external identity store.
type AccountDirectory interface {
	// GetAccount returns domain.ENOTFOUND for unknown accounts and
	// domain.EUNAVAILABLE when the store cannot be read.
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// AccountReader is satisfied by *repository.Queries.
type AccountReader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (repository.Account, error)
}

type accountDirectory struct {
	reader AccountReader
}

// NewAccountDirectory creates an AccountDirectory over the accounts table.
func NewAccountDirectory(reader AccountReader) AccountDirectory {
	return &accountDirectory{reader: reader}
}

func (d *accountDirectory) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "accounts.get"

	row, err := d.reader.GetAccount(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "account", id.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to read account")
	}

	return &domain.Account{
		ID:                 row.ID,
		Tier:               row.AccountTier,
		SubscriptionStatus: domain.SubscriptionStatus(row.SubscriptionStatus),
	}, nil
}
