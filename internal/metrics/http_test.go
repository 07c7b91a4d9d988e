package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/usage/consume", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h := Middleware(mux)(mux)

	denied := HTTPRequestsTotal.WithLabelValues("POST", "POST /v1/usage/consume", "429")
	unmatched := HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")
	beforeDenied := counterValue(t, denied)
	beforeUnmatched := counterValue(t, unmatched)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/usage/consume", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wp-admin/3f2504e0-4f89-11d3-9a0c-0305e82c3301", nil))

	assert.Equal(t, beforeDenied+1, counterValue(t, denied))
	assert.Equal(t, beforeUnmatched+1, counterValue(t, unmatched))
}

func TestSweepCompleted(t *testing.T) {
	before := counterValue(t, SweptPeriodsTotal)
	completed := counterValue(t, SweepsTotal.WithLabelValues("completed"))

	SweepCompleted(7, 0)

	assert.Equal(t, before+7, counterValue(t, SweptPeriodsTotal))
	assert.Equal(t, completed+1, counterValue(t, SweepsTotal.WithLabelValues("completed")))
}
