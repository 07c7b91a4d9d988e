package middleware

import (
	"crypto/subtle"
	"net/http"
)

// MetricsAuthMiddleware protects the metrics endpoint with basic authentication.
type MetricsAuthMiddleware struct {
	username string
	password string
}

// NewMetricsAuthMiddleware creates a new metrics auth middleware.
// If both username and password are empty, authentication is disabled.
func NewMetricsAuthMiddleware(username, password string) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{username: username, password: password}
}

// Enabled reports whether credentials are required.
func (m *MetricsAuthMiddleware) Enabled() bool {
	return m.username != "" || m.password != ""
}

// Handler returns middleware that requires basic authentication when enabled.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		// Evaluate both comparisons so timing doesn't reveal which one failed.
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(m.username))
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(m.password))
		if !ok || userMatch&passMatch != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="gambit metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
