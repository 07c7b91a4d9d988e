package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		isSecure bool
		wantHSTS bool
	}{
		{"development", false, false},
		{"production", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIHeadersMiddleware(tt.isSecure).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/usage", nil))

			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
			if hsts := rec.Header().Get("Strict-Transport-Security"); (hsts != "") != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", hsts != "", tt.wantHSTS)
			}
		})
	}
}
