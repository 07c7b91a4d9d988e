package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// unmatchedRoute labels requests no route matched, so probing random paths
// cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// Router resolves a request to its route pattern. *http.ServeMux satisfies it.
type Router interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records HTTP request metrics labeled by route pattern
// (for example "POST /v1/usage/check") rather than raw path.
func Middleware(routes Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics endpoint to avoid recursion
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			HTTPRequestsInFlight.Inc()
			defer HTTPRequestsInFlight.Dec()

			route := unmatchedRoute
			if _, pattern := routes.Handler(r); pattern != "" {
				route = pattern
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
