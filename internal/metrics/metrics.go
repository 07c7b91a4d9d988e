package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gambit"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Quota metrics. Labels carry the action and identity kind only; per-identity
// labels would explode cardinality.
var (
	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Total number of admission decisions",
		},
		[]string{"action", "identity_kind", "reason"},
	)

	UsageRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_recorded_total",
			Help:      "Total units of usage recorded",
		},
		[]string{"action", "identity_kind"},
	)

	QuotaOvershootTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_overshoot_total",
			Help:      "Recorded usage that landed above the limit after concurrent admission",
		},
		[]string{"action", "identity_kind"},
	)

	WindowResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_resets_total",
			Help:      "Total number of consumption periods started by a write",
		},
		[]string{"identity_kind"},
	)

	LedgerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Total number of failed ledger operations",
		},
		[]string{"operation"},
	)

	TierCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_cache_total",
			Help:      "Tier limit lookups by cache result",
		},
		[]string{"result"}, // "hit" or "miss"
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Total number of anonymous records re-parented onto accounts",
		},
		[]string{"resource"},
	)
)

// Retention sweep metrics
var (
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Total number of retention sweeps run",
		},
		[]string{"status"},
	)

	SweptPeriodsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_periods_total",
			Help:      "Total number of expired consumption periods removed",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Retention sweep execution time distribution",
			Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
)
