package domain

import (
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	accountID := uuid.New()

	tests := []struct {
		name    string
		kind    string
		raw     string
		wantKey string
		wantErr bool
	}{
		{"account", "account", accountID.String(), "account:" + accountID.String(), false},
		{"authenticated alias", "authenticated", accountID.String(), "account:" + accountID.String(), false},
		{"ipv4", "anonymous", "203.0.113.5", "anonymous:203.0.113.5", false},
		{"ipv6", "anonymous", "2001:db8::1", "anonymous:2001:db8::1", false},
		{"mapped ipv4 shares the ipv4 ledger", "anonymous", "::ffff:203.0.113.5", "anonymous:203.0.113.5", false},
		{"padded", "anonymous", " 203.0.113.5 ", "anonymous:203.0.113.5", false},
		{"nil uuid", "account", uuid.Nil.String(), "", true},
		{"bad uuid", "account", "not-a-uuid", "", true},
		{"bad address", "anonymous", "example.com", "", true},
		{"unknown kind", "robot", "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseIdentity(tt.kind, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				assert.Equal(t, EINVALID, ErrorCode(err))
				assert.Equal(t, ReasonInvalidInput, ReasonForError(err))
				return
			}
			require.NoError(t, err)
			assert.NoError(t, id.Validate())
			assert.Equal(t, tt.wantKey, id.Key())
		})
	}
}

func TestIdentity_Validate(t *testing.T) {
	assert.Error(t, Identity{}.Validate())
	assert.Error(t, Identity{Kind: IdentityAuthenticated}.Validate())
	assert.Error(t, Identity{Kind: IdentityAnonymous}.Validate())
	assert.NoError(t, Anonymous(netip.MustParseAddr("198.51.100.7")).Validate())
	assert.NoError(t, Authenticated(uuid.New()).Validate())
}

func TestAccount_EffectiveTier(t *testing.T) {
	tests := []struct {
		name   string
		tier   string
		status SubscriptionStatus
		want   string
	}{
		{"empty tier", "", SubscriptionStatusActive, TierFree},
		{"free", TierFree, SubscriptionStatusInactive, TierFree},
		{"active pro", TierPro, SubscriptionStatusActive, TierPro},
		{"trialing pro", TierPro, SubscriptionStatusTrialing, TierPro},
		{"past due pro", TierPro, SubscriptionStatusPastDue, TierFree},
		{"canceled enterprise", TierEnterprise, SubscriptionStatusCanceled, TierFree},
		{"unknown tier stays for the resolver", "grandmaster", SubscriptionStatusActive, "grandmaster"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{ID: uuid.New(), Tier: tt.tier, SubscriptionStatus: tt.status}
			assert.Equal(t, tt.want, a.EffectiveTier())
		})
	}
}

func TestClaimResult_Total(t *testing.T) {
	r := ClaimResult{Profiles: 1, Games: 12, Analyses: 3, UsagePeriods: 1}
	assert.Equal(t, int64(17), r.Total())
}
