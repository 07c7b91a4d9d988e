package metrics

import (
	"time"

	"github.com/DukeRupert/gambit/internal/domain"
)

// DecisionMade records an admission decision.
func DecisionMade(d domain.Decision) {
	QuotaDecisionsTotal.WithLabelValues(d.Action.String(), d.Identity.Kind.String(), string(d.Reason)).Inc()
}

// UsageRecorded records consumption written to the ledger.
func UsageRecorded(r domain.UsageResult, amount int) {
	kind := r.Identity.Kind.String()
	UsageRecordedTotal.WithLabelValues(r.Action.String(), kind).Add(float64(amount))
	if r.Reset {
		WindowResetsTotal.WithLabelValues(kind).Inc()
	}
}

// Overshoot records a counter that ended above its limit.
func Overshoot(r domain.UsageResult) {
	QuotaOvershootTotal.WithLabelValues(r.Action.String(), r.Identity.Kind.String()).Inc()
}

// LedgerFailed records a failed ledger operation.
func LedgerFailed(operation string) {
	LedgerErrorsTotal.WithLabelValues(operation).Inc()
}

// TierCacheHit records a tier lookup served from cache.
func TierCacheHit() {
	TierCacheTotal.WithLabelValues("hit").Inc()
}

// TierCacheMiss records a tier lookup that went to the catalog.
func TierCacheMiss() {
	TierCacheTotal.WithLabelValues("miss").Inc()
}

// Claimed records re-parented records by resource.
func Claimed(r domain.ClaimResult) {
	ClaimsTotal.WithLabelValues("profiles").Add(float64(r.Profiles))
	ClaimsTotal.WithLabelValues("games").Add(float64(r.Games))
	ClaimsTotal.WithLabelValues("analyses").Add(float64(r.Analyses))
	ClaimsTotal.WithLabelValues("usage_periods").Add(float64(r.UsagePeriods))
}

// SweepCompleted records a successful retention sweep.
func SweepCompleted(removed int64, duration time.Duration) {
	SweepsTotal.WithLabelValues("completed").Inc()
	SweptPeriodsTotal.Add(float64(removed))
	SweepDuration.Observe(duration.Seconds())
}

// SweepFailed records a failed retention sweep.
func SweepFailed() {
	SweepsTotal.WithLabelValues("failed").Inc()
}
