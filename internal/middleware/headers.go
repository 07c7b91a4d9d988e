package middleware

import "net/http"

// APIHeadersMiddleware sets response headers for a JSON-only API.
type APIHeadersMiddleware struct {
	isSecure bool // enable HSTS (true in production)
}

// NewAPIHeadersMiddleware creates a new API headers middleware.
func NewAPIHeadersMiddleware(isSecure bool) *APIHeadersMiddleware {
	return &APIHeadersMiddleware{isSecure: isSecure}
}

// Handler returns middleware that sets the headers on every response.
func (m *APIHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		// Quota answers are only valid at the instant they are computed.
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if m.isSecure {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
