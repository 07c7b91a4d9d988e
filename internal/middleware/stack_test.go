package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStack_Order(t *testing.T) {
	var trace []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = append(trace, "handler")
	})

	h := Stack(mark("outer"), mark("middle"), mark("inner"))(final)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(trace, ","); got != "outer,middle,inner,handler" {
		t.Errorf("order = %s", got)
	}
}

func TestStack_Empty(t *testing.T) {
	called := false
	h := Stack()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("final handler not called")
	}
}
