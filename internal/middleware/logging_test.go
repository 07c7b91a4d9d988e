package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func newLoggedHandler(buf *bytes.Buffer, status int) http.Handler {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return NewIdentityMiddleware(logger, nil).Handler(NewRequestLoggingMiddleware(logger).Handler(inner))
}

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	var buf bytes.Buffer
	h := newLoggedHandler(&buf, http.StatusOK)

	req := httptest.NewRequest("POST", "/v1/usage/check", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	h.ServeHTTP(httptest.NewRecorder(), req)

	logOutput := buf.String()
	for _, want := range []string{"POST", "/v1/usage/check", "status=200", "duration_ms", "192.168.1.1", "identity=anonymous:192.168.1.1"} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log should contain %q, got: %s", want, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_LogsAccountIdentity(t *testing.T) {
	var buf bytes.Buffer
	h := newLoggedHandler(&buf, http.StatusOK)

	accountID := uuid.New()
	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req.Header.Set(AccountIDHeader, accountID.String())
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "identity=account:"+accountID.String()) {
		t.Errorf("log should contain the account identity, got: %s", buf.String())
	}
}

func TestRequestLoggingMiddleware_Levels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"success", http.StatusOK, "level=INFO msg=request"},
		{"denied", http.StatusTooManyRequests, "level=INFO msg=\"request denied\""},
		{"unavailable", http.StatusServiceUnavailable, "level=WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLoggedHandler(&buf, tt.status)
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/usage/consume", nil))

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in log, got: %s", tt.want, buf.String())
			}
		})
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLoggedHandler(&buf, http.StatusOK)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

			if buf.Len() != 0 {
				t.Errorf("expected no log output for %s, got: %s", path, buf.String())
			}
			if rec.Code != http.StatusOK {
				t.Errorf("expected request to pass through, got %d", rec.Code)
			}
		})
	}
}
