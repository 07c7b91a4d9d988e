// Package domain contains core business types and interfaces.
//
// This file defines quota types for gating billable actions (game imports and
// engine analyses) based on account tier.
package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// =============================================================================
// Actions
// =============================================================================

// Action identifies a rate-limited, billable action.
type Action int

const (
	ActionImport Action = iota + 1
	ActionAnalyze
)

// Actions lists every action in display order.
var Actions = []Action{ActionImport, ActionAnalyze}

// ParseAction converts an action name to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "import":
		return ActionImport, nil
	case "analyze":
		return ActionAnalyze, nil
	}
	return 0, InvalidAction("quota.parse_action", s)
}

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionImport:
		return "import"
	case ActionAnalyze:
		return "analyze"
	}
	return "unknown"
}

// IsValid returns true if the action is a recognized value.
func (a Action) IsValid() bool {
	return a == ActionImport || a == ActionAnalyze
}

// MarshalJSON encodes the action by name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action name, rejecting unknown names.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return InvalidAction("quota.parse_action", string(data))
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// Limits
// =============================================================================

// Limit is a per-window allowance: a non-negative count or unlimited.
// The zero value is a limit of 0.
type Limit struct {
	n         int
	unlimited bool
}

// Unlimited always admits.
var Unlimited = Limit{unlimited: true}

// LimitOf returns a finite limit. Negative values are clamped to 0; callers
// that read limits from storage validate before calling.
func LimitOf(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// IsUnlimited reports whether the limit never denies.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite limit, or -1 when unlimited.
func (l Limit) Value() int {
	if l.unlimited {
		return -1
	}
	return l.n
}

// Allows reports whether another action is admitted at the given usage.
func (l Limit) Allows(used int) bool {
	return l.unlimited || used < l.n
}

// Remaining returns how many actions are left, or -1 when unlimited.
func (l Limit) Remaining(used int) int {
	if l.unlimited {
		return -1
	}
	if used >= l.n {
		return 0
	}
	return l.n - used
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

// MarshalJSON encodes unlimited as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(l.n)), nil
}

// TierLimits holds the per-window limits for both actions.
type TierLimits struct {
	Import   Limit
	Analysis Limit
}

// For returns the limit that applies to action.
func (t TierLimits) For(a Action) Limit {
	if a == ActionImport {
		return t.Import
	}
	return t.Analysis
}

// =============================================================================
// Windows
// =============================================================================

// WindowKind names a window policy. The value doubles as the ledger period key.
type WindowKind string

const (
	// WindowRolling counts usage for Length after the last recorded action.
	// Every write moves the anchor forward, so an identity that keeps acting
	// inside the window never sees its counters reset.
	WindowRolling WindowKind = "rolling_24h"

	// WindowCalendarMonth resets counters at the first instant of each UTC month.
	WindowCalendarMonth WindowKind = "calendar_month"
)

// DefaultWindowLength is the rolling window length.
const DefaultWindowLength = 24 * time.Hour

// Window decides when a consumption period has expired.
type Window struct {
	Kind   WindowKind
	Length time.Duration // rolling windows only
}

// RollingWindow returns a sliding window of the given length.
func RollingWindow(length time.Duration) Window {
	if length <= 0 {
		length = DefaultWindowLength
	}
	return Window{Kind: WindowRolling, Length: length}
}

// CalendarMonthWindow returns a window aligned to UTC month boundaries.
func CalendarMonthWindow() Window {
	return Window{Kind: WindowCalendarMonth}
}

// Cutoff returns the earliest anchor that still belongs to the current window.
// Periods anchored strictly before the cutoff are expired.
func (w Window) Cutoff(now time.Time) time.Time {
	if w.Kind == WindowCalendarMonth {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return now.Add(-w.length())
}

// Expired reports whether a period anchored at anchor is over at now.
func (w Window) Expired(anchor, now time.Time) bool {
	return anchor.Before(w.Cutoff(now))
}

// ResetAt returns when a period anchored at anchor stops counting.
func (w Window) ResetAt(anchor time.Time) time.Time {
	if w.Kind == WindowCalendarMonth {
		anchor = anchor.UTC()
		return time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return anchor.Add(w.length())
}

// PeriodKey names the ledger partition used for this window policy.
func (w Window) PeriodKey() string {
	return string(w.Kind)
}

func (w Window) length() time.Duration {
	if w.Length <= 0 {
		return DefaultWindowLength
	}
	return w.Length
}

// =============================================================================
// Ledger State
// =============================================================================

// ConsumptionPeriod is the mutable usage state of one identity.
type ConsumptionPeriod struct {
	Identity     Identity
	PeriodKey    string
	ImportsUsed  int
	AnalysesUsed int
	WindowAnchor time.Time
	UpdatedAt    time.Time
	ClaimedBy    *Identity // anonymous periods only, set by a claim
}

// Used returns the counter for action.
func (p ConsumptionPeriod) Used(a Action) int {
	if a == ActionImport {
		return p.ImportsUsed
	}
	return p.AnalysesUsed
}

// =============================================================================
// Decisions
// =============================================================================

// Reason explains an admission decision.
type Reason string

const (
	ReasonUnlimited         Reason = "unlimited"
	ReasonWithinLimit       Reason = "within_limit"
	ReasonLimitExceeded     Reason = "limit_exceeded"
	ReasonAnonymousUser     Reason = "anonymous_user"
	ReasonInvalidActionType Reason = "invalid_action_type"
	ReasonInvalidInput      Reason = "invalid_input"
)

// Decision is the result of an admission check.
type Decision struct {
	Identity     Identity
	Action       Action
	CanProceed   bool
	Reason       Reason
	Tier         string
	Used         int
	Limit        Limit
	WindowAnchor time.Time // zero when no period is active
	ResetAt      time.Time // zero when no period is active
}

// Remaining returns how many actions are left in the window, or -1 when unlimited.
func (d Decision) Remaining() int {
	return d.Limit.Remaining(d.Used)
}

// RetryAfter returns how long a denied caller should wait, measured from now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.CanProceed || d.ResetAt.IsZero() {
		return 0
	}
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// UsageResult is the outcome of recording consumption.
type UsageResult struct {
	Identity     Identity
	Action       Action
	NewUsed      int
	Limit        Limit
	WindowAnchor time.Time
	ResetAt      time.Time
	Reset        bool // true when this write started a new period
}

// QuotaUsage represents current usage against quota limits for both actions.
type QuotaUsage struct {
	Identity      Identity
	Tier          string
	ImportsUsed   int
	ImportLimit   Limit
	AnalysesUsed  int
	AnalysisLimit Limit
	WindowAnchor  time.Time
	ResetAt       time.Time
}

// IsUnlimited returns true when neither action is limited.
func (u QuotaUsage) IsUnlimited() bool {
	return u.ImportLimit.IsUnlimited() && u.AnalysisLimit.IsUnlimited()
}
