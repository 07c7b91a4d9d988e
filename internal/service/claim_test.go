package service

import (
	"context"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/ledger"
)

func TestClaimService_ClaimAnonymousData(t *testing.T) {
	ctx := context.Background()
	user := newAccount(domain.TierFree, domain.SubscriptionStatusActive)
	visitor := netip.MustParseAddr("203.0.113.5")

	store := &fakeClaimStore{pending: map[netip.Addr]domain.ClaimResult{
		visitor: {Profiles: 1, Games: 14, Analyses: 3},
	}}
	f := newQuotaFixture(t, DefaultQuotaConfig())
	_, err := f.svc.RecordUsage(ctx, domain.Anonymous(visitor), domain.ActionImport, 1)
	require.NoError(t, err)

	svc := NewClaimService(store, newFakeDirectory(user), f.ledger, discardLogger())

	result, err := svc.ClaimAnonymousData(ctx, user.ID, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Profiles)
	assert.Equal(t, int64(14), result.Games)
	assert.Equal(t, int64(3), result.Analyses)
	assert.Equal(t, int64(1), result.UsagePeriods)
	assert.Equal(t, int64(19), result.Total())

	again, err := svc.ClaimAnonymousData(ctx, user.ID, "203.0.113.5")
	require.NoError(t, err)
	assert.Zero(t, again.Total(), "a second claim re-parents nothing")
	assert.Equal(t, 2, store.calls)
}

func TestClaimService_NormalizesMappedAddresses(t *testing.T) {
	user := newAccount(domain.TierFree, domain.SubscriptionStatusActive)
	visitor := netip.MustParseAddr("198.51.100.7")
	store := &fakeClaimStore{pending: map[netip.Addr]domain.ClaimResult{visitor: {Games: 2}}}
	svc := NewClaimService(store, newFakeDirectory(user), ledger.NewMemoryLedger(), discardLogger())

	result, err := svc.ClaimAnonymousData(context.Background(), user.ID, "::ffff:198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Games)
}

func TestClaimService_Errors(t *testing.T) {
	known := newAccount(domain.TierFree, domain.SubscriptionStatusActive)

	tests := []struct {
		name      string
		accountID uuid.UUID
		key       string
		storeErr  error
		wantCode  string
	}{
		{"nil account", uuid.Nil, "203.0.113.5", nil, domain.EINVALID},
		{"malformed key", known.ID, "not-an-address", nil, domain.EINVALID},
		{"empty key", known.ID, "", nil, domain.EINVALID},
		{"unknown account", uuid.New(), "203.0.113.5", nil, domain.ENOTFOUND},
		{"store down", known.ID, "203.0.113.5", errConnRefused, domain.EUNAVAILABLE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeClaimStore{err: tt.storeErr}
			svc := NewClaimService(store, newFakeDirectory(known), ledger.NewMemoryLedger(), discardLogger())

			_, err := svc.ClaimAnonymousData(context.Background(), tt.accountID, tt.key)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
		})
	}
}
