package auth

import (
	"context"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/DukeRupert/gambit/internal/domain"
)

func TestIdentityRoundTrip(t *testing.T) {
	_, ok := GetIdentity(context.Background())
	assert.False(t, ok)

	account := domain.Authenticated(uuid.New())
	ctx := SetIdentity(context.Background(), account)
	got, ok := GetIdentity(ctx)
	assert.True(t, ok)
	assert.Equal(t, account, got)

	visitor := domain.Anonymous(netip.MustParseAddr("198.51.100.20"))
	r := httptest.NewRequest("GET", "/v1/usage", nil)
	r = r.WithContext(SetIdentity(r.Context(), visitor))
	got, ok = GetIdentityFromRequest(r)
	assert.True(t, ok)
	assert.Equal(t, visitor.Key(), got.Key())
}
