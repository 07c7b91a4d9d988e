// Package handler contains the JSON HTTP handlers of the gambit quota API.
//
// This file implements admission checks, usage recording and the usage
// summary.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"

	"github.com/DukeRupert/gambit/internal/auth"
	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/service"
)

// maxBodyBytes bounds request bodies; every request here is a few fields.
const maxBodyBytes = 64 << 10

// =============================================================================
// Request and Response Types
// =============================================================================

// IdentityRef names an identity in a request or response body.
type IdentityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// UsageRequest is the body of the check, record and consume endpoints.
type UsageRequest struct {
	Identity *IdentityRef `json:"identity,omitempty"`
	Action   string       `json:"action"`
	Amount   *int         `json:"amount,omitempty"` // defaults to 1
}

// DecisionResponse is returned by the check and consume endpoints.
type DecisionResponse struct {
	CanProceed   bool          `json:"can_proceed"`
	Reason       domain.Reason `json:"reason"`
	Tier         string        `json:"tier"`
	CurrentUsage int           `json:"current_usage"`
	Limit        domain.Limit  `json:"limit"`     // null when unlimited
	Remaining    *int          `json:"remaining"` // null when unlimited
	WindowAnchor *time.Time    `json:"window_anchor"`
	ResetAt      *time.Time    `json:"reset_at"`
}

// RecordResponse is returned by the record endpoint.
type RecordResponse struct {
	NewUsed      int          `json:"new_used"`
	Limit        domain.Limit `json:"limit"`
	WindowAnchor time.Time    `json:"window_anchor"`
	ResetAt      time.Time    `json:"reset_at"`
	Reset        bool         `json:"reset"`
}

// ActionUsage is one counter in a UsageResponse.
type ActionUsage struct {
	Used      int          `json:"used"`
	Limit     domain.Limit `json:"limit"`
	Remaining *int         `json:"remaining"`
}

// UsageResponse is returned by GET /v1/usage.
type UsageResponse struct {
	Identity     IdentityRef `json:"identity"`
	Tier         string      `json:"tier"`
	Imports      ActionUsage `json:"imports"`
	Analyses     ActionUsage `json:"analyses"`
	WindowAnchor *time.Time  `json:"window_anchor"`
	ResetAt      *time.Time  `json:"reset_at"`
}

// =============================================================================
// Handler Configuration
// =============================================================================

// QuotaHandler handles the usage endpoints.
type QuotaHandler struct {
	quota  service.QuotaService
	clock  quartz.Clock
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, clock quartz.Clock, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{quota: quota, clock: clock, logger: logger}
}

// RegisterRoutes registers the usage routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/usage/check", h.Check)
	mux.HandleFunc("POST /v1/usage/record", h.Record)
	mux.HandleFunc("POST /v1/usage/consume", h.Consume)
	mux.HandleFunc("GET /v1/usage", h.Usage)
}

// =============================================================================
// POST /v1/usage/check - Admission Check
// =============================================================================

// Check answers whether the identity may perform the action now. It never
// records anything.
func (h *QuotaHandler) Check(w http.ResponseWriter, r *http.Request) {
	identity, action, _, err := h.parseUsageRequest(w, r)
	if err != nil {
		DecisionErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.quota.CheckAdmission(r.Context(), identity, action)
	if err != nil {
		DecisionErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newDecisionResponse(decision))
}

// =============================================================================
// POST /v1/usage/record - Record Consumption
// =============================================================================

// Record adds the amount to the identity's counter unconditionally.
func (h *QuotaHandler) Record(w http.ResponseWriter, r *http.Request) {
	identity, action, amount, err := h.parseUsageRequest(w, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.quota.RecordUsage(r.Context(), identity, action, amount)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, RecordResponse{
		NewUsed:      result.NewUsed,
		Limit:        result.Limit,
		WindowAnchor: result.WindowAnchor,
		ResetAt:      result.ResetAt,
		Reset:        result.Reset,
	})
}

// =============================================================================
// POST /v1/usage/consume - Atomic Check and Record
// =============================================================================

// Consume records the amount only if it fits the limit. A denial answers 429
// with Retry-After and the decision.
func (h *QuotaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	identity, action, amount, err := h.parseUsageRequest(w, r)
	if err != nil {
		DecisionErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.quota.TryConsume(r.Context(), identity, action, amount)
	if err != nil {
		DecisionErrorResponse(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if !decision.CanProceed {
		status = http.StatusTooManyRequests
		if wait := decision.RetryAfter(h.clock.Now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	writeJSON(w, status, newDecisionResponse(decision))
}

// =============================================================================
// GET /v1/usage - Usage Summary
// =============================================================================

// Usage returns both counters and limits. The identity comes from the kind
// and id query parameters, or from the request when both are absent.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ref *IdentityRef
	if q.Has("kind") || q.Has("id") {
		ref = &IdentityRef{Kind: q.Get("kind"), ID: q.Get("id")}
	}

	identity, err := resolveIdentity(r, ref)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	usage, err := h.quota.GetUsage(r.Context(), identity)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Identity:     IdentityRef{Kind: identity.Kind.String(), ID: identity.ID()},
		Tier:         usage.Tier,
		Imports:      newActionUsage(usage.ImportsUsed, usage.ImportLimit),
		Analyses:     newActionUsage(usage.AnalysesUsed, usage.AnalysisLimit),
		WindowAnchor: optionalTime(usage.WindowAnchor),
		ResetAt:      optionalTime(usage.ResetAt),
	})
}

// =============================================================================
// Helpers
// =============================================================================

// parseUsageRequest decodes and validates a UsageRequest. The amount is
// range-checked by the service.
func (h *QuotaHandler) parseUsageRequest(w http.ResponseWriter, r *http.Request) (domain.Identity, domain.Action, int, error) {
	const op = "handler.parse_usage_request"

	var req UsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return domain.Identity{}, 0, 0, err
	}

	action, err := domain.ParseAction(req.Action)
	if err != nil {
		return domain.Identity{}, 0, 0, domain.InvalidAction(op, req.Action)
	}

	identity, err := resolveIdentity(r, req.Identity)
	if err != nil {
		return domain.Identity{}, 0, 0, err
	}

	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	return identity, action, amount, nil
}

// resolveIdentity prefers an explicit identity over the one the identity
// middleware derived from the request.
func resolveIdentity(r *http.Request, ref *IdentityRef) (domain.Identity, error) {
	if ref != nil {
		return domain.ParseIdentity(ref.Kind, ref.ID)
	}
	if id, ok := auth.GetIdentityFromRequest(r); ok {
		return id, nil
	}
	return domain.Identity{}, domain.NewValidationError("handler.resolve_identity", "identity", "identity is required")
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "handler.decode_json"

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return domain.Invalid(op, "request body too large")
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "request body is required")
		default:
			return domain.Invalid(op, "malformed JSON body")
		}
	}
	return nil
}

func newDecisionResponse(d *domain.Decision) DecisionResponse {
	return DecisionResponse{
		CanProceed:   d.CanProceed,
		Reason:       d.Reason,
		Tier:         d.Tier,
		CurrentUsage: d.Used,
		Limit:        d.Limit,
		Remaining:    remaining(d.Limit, d.Used),
		WindowAnchor: optionalTime(d.WindowAnchor),
		ResetAt:      optionalTime(d.ResetAt),
	}
}

func newActionUsage(used int, limit domain.Limit) ActionUsage {
	return ActionUsage{Used: used, Limit: limit, Remaining: remaining(limit, used)}
}

func remaining(limit domain.Limit, used int) *int {
	if limit.IsUnlimited() {
		return nil
	}
	n := limit.Remaining(used)
	return &n
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
