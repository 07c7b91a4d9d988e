package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/gambit/internal/auth"
	"github.com/DukeRupert/gambit/internal/domain"
)

func TestIdentityMiddleware(t *testing.T) {
	accountID := uuid.New()
	gateway := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		headers    map[string]string
		wantKey    string // empty means no identity
	}{
		{"remote addr", nil, "203.0.113.9:5555", nil, "anonymous:203.0.113.9"},
		{"forwarded for ignored from untrusted peer", nil, "203.0.113.9:80", map[string]string{"X-Forwarded-For": "198.51.100.4"}, "anonymous:203.0.113.9"},
		{"real ip ignored from untrusted peer", gateway, "203.0.113.9:80", map[string]string{"X-Real-IP": "198.51.100.4"}, "anonymous:203.0.113.9"},
		{"trusted proxy takes rightmost untrusted hop", gateway, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "192.0.2.66, 198.51.100.4, 10.0.0.2"}, "anonymous:198.51.100.4"},
		{"all hops trusted falls back to peer", gateway, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, "anonymous:10.0.0.1"},
		{"garbled hop stops the walk", gateway, "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.4, junk"}, "anonymous:10.0.0.1"},
		{"real ip from trusted proxy", gateway, "10.0.0.1:80", map[string]string{"X-Real-IP": " 2001:db8::5 "}, "anonymous:2001:db8::5"},
		{"mapped v4 collapses", nil, "[::ffff:192.0.2.1]:80", nil, "anonymous:192.0.2.1"},
		{"account header wins", nil, "203.0.113.9:5555", map[string]string{AccountIDHeader: accountID.String()}, "account:" + accountID.String()},
		{"unparseable address", nil, "pipe", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.Identity
			var ok bool
			h := NewIdentityMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)), tt.trusted).Handler(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					got, ok = auth.GetIdentityFromRequest(r)
				}))

			req := httptest.NewRequest("POST", "/v1/usage/check", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			if tt.wantKey == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, got.Key())
		})
	}
}

func TestIdentityMiddleware_RejectsBadAccountHeader(t *testing.T) {
	called := false
	h := NewIdentityMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)), nil).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest("POST", "/v1/usage/check", nil)
	req.Header.Set(AccountIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"invalid","message":"X-Account-ID must be an account UUID"}}`, rec.Body.String())
}
