// Package middleware contains HTTP middleware for the gambit quota API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/DukeRupert/gambit/internal/auth"
	"github.com/DukeRupert/gambit/internal/domain"
)

// AccountIDHeader carries the authenticated account id. The service trusts
// it as-is, so it must only be reachable through the gateway that verifies
// the caller and overwrites this header.
const AccountIDHeader = "X-Account-ID"

// IdentityMiddleware resolves the caller's quota identity and stores it in
// the request context.
type IdentityMiddleware struct {
	logger  *slog.Logger
	trusted []netip.Prefix
}

// NewIdentityMiddleware creates a new identity middleware. Forwarding headers
// are honoured only when the direct peer falls inside one of trustedProxies;
// with none configured the peer address is the client.
func NewIdentityMiddleware(logger *slog.Logger, trustedProxies []netip.Prefix) *IdentityMiddleware {
	return &IdentityMiddleware{logger: logger, trusted: trustedProxies}
}

// Handler returns middleware that attaches an identity to every request.
//
// A valid account header yields an authenticated identity. Without one the
// client address yields an anonymous identity. A malformed account header is
// rejected rather than silently downgraded to anonymous.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(AccountIDHeader); raw != "" {
			id, err := domain.ParseIdentity(domain.IdentityAuthenticated.String(), raw)
			if err != nil {
				m.logger.Info("rejected account header", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusBadRequest, domain.EINVALID, "X-Account-ID must be an account UUID")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), id)))
			return
		}

		if addr, ok := ClientAddr(r, m.trusted); ok {
			r = r.WithContext(auth.SetIdentity(r.Context(), domain.Anonymous(addr)))
		}
		next.ServeHTTP(w, r)
	})
}

// ClientAddr extracts the client address from the request. X-Forwarded-For
// and X-Real-IP are consulted only when the peer is a trusted proxy. Returns
// false when no usable address is present.
func ClientAddr(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, err := netip.ParseAddr(getClientIP(r))
	if err != nil {
		return netip.Addr{}, false
	}
	peer = peer.Unmap()
	if !isTrusted(peer, trusted) {
		return peer, true
	}

	// Walk right to left: the rightmost hop not added by our own proxies is
	// the first one an outside client could not forge.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer, true
			}
			hop = hop.Unmap()
			if !isTrusted(hop, trusted) {
				return hop, true
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}
	return peer, true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// getClientIP returns the host part of the direct peer address.
func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}

// writeError writes the same error envelope the handlers use.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
