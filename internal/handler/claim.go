package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/service"
)

// ClaimRequest is the body of POST /v1/claims.
type ClaimRequest struct {
	AccountID    string `json:"account_id"`
	AnonymousKey string `json:"anonymous_key"`
}

// ClaimResponse reports how many records moved to the account.
type ClaimResponse struct {
	RecordsClaimed int64 `json:"records_claimed"`
	Profiles       int64 `json:"profiles"`
	Games          int64 `json:"games"`
	Analyses       int64 `json:"analyses"`
	UsagePeriods   int64 `json:"usage_periods"`
}

// ClaimHandler handles claiming anonymous data after signup.
type ClaimHandler struct {
	claims service.ClaimService
	logger *slog.Logger
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(claims service.ClaimService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, logger: logger}
}

// RegisterRoutes registers the claim route on the provided mux.
func (h *ClaimHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/claims", h.Claim)
}

// Claim attaches the visitor's anonymous records to an account. Repeating
// the call is safe and claims nothing new.
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	const op = "handler.claim"

	var req ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "account_id", "must be a UUID"))
		return
	}

	result, err := h.claims.ClaimAnonymousData(r.Context(), accountID, req.AnonymousKey)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		RecordsClaimed: result.Total(),
		Profiles:       result.Profiles,
		Games:          result.Games,
		Analyses:       result.Analyses,
		UsagePeriods:   result.UsagePeriods,
	})
}
