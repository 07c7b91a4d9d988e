package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/gambit/internal/domain"
)

// ErrorBody is the error envelope of every failed API response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// JSONError is a typed response structure for API errors. Decision
// endpoints also report can_proceed and reason so callers can treat a
// rejected request like a denied one.
type JSONError struct {
	CanProceed *bool         `json:"can_proceed,omitempty"`
	Reason     domain.Reason `json:"reason,omitempty"`
	Error      ErrorBody     `json:"error"`
}

// ErrorResponse writes an error response to the client.
// It maps domain error codes to HTTP status codes.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeErrorResponse(w, r, logger, err, false)
}

// DecisionErrorResponse is ErrorResponse for endpoints that answer with an
// admission decision. Validation failures carry can_proceed=false and the
// reason (invalid_action_type or invalid_input).
func DecisionErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	writeErrorResponse(w, r, logger, err, true)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, decision bool) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	logError(logger, r, err, code, domain.ErrorOp(err), status)

	body := JSONError{Error: ErrorBody{Code: code, Message: domain.ErrorMessage(err)}}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Error.Fields = ve.Fields
	}

	if reason := domain.ReasonForError(err); decision && reason != "" {
		canProceed := false
		body.CanProceed = &canProceed
		body.Reason = reason
	}

	writeJSON(w, status, body)
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// logError logs the error with appropriate level based on status code.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if op != "" {
		attrs = append(attrs, "op", op)
	}

	// 5xx are server-side issues; 4xx are expected client errors.
	if status >= 500 {
		logger.Error("server error", attrs...)
	} else {
		logger.Info("client error", attrs...)
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
