package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/gambit/internal/auth"
)

// RequestLoggingMiddleware logs HTTP requests with timing and status information.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

// NewRequestLoggingMiddleware creates a new request logging middleware.
func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{logger: logger}
}

// Handler returns middleware that logs all HTTP requests. Install it inside
// the identity middleware so the resolved identity is logged.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", getClientIP(r),
		}
		if id, ok := auth.GetIdentity(r.Context()); ok {
			attrs = append(attrs, "identity", id.Key())
		}

		switch {
		case wrapped.statusCode >= 500:
			m.logger.Warn("request", attrs...)
		case wrapped.statusCode == http.StatusTooManyRequests:
			m.logger.Info("request denied", attrs...)
		default:
			m.logger.Info("request", attrs...)
		}
	})
}

// shouldSkip returns true for paths that should not be logged (too noisy).
func shouldSkip(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/metrics")
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
