package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), EINTERNAL},
		{"invalid", Invalid("op", "bad"), EINVALID},
		{"wrapped unavailable", fmt.Errorf("ctx: %w", Unavailable(errors.New("dial"), "op", "down")), EUNAVAILABLE},
		{"validation error", NewValidationError("op", "amount", "must be positive"), EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage_HidesInfrastructureDetail(t *testing.T) {
	err := Unavailable(errors.New("dial tcp 10.0.0.5:5432: connection refused"), "quota.check_admission", "ledger read failed")
	msg := ErrorMessage(err)
	if msg == err.Error() {
		t.Fatalf("unavailable errors must not expose details, got %q", msg)
	}

	err = Internal(errors.New("pq: syntax error"), "quota.record_usage", "upsert failed")
	if got := ErrorMessage(err); got != "An internal error occurred. Please try again later." {
		t.Errorf("unexpected internal message %q", got)
	}

	if got := ErrorMessage(Invalid("op", "amount must be positive")); got != "amount must be positive" {
		t.Errorf("validation messages should pass through, got %q", got)
	}
}

func TestReasonForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ""},
		{"invalid action", InvalidAction("op", "export"), ReasonInvalidActionType},
		{"invalid amount", InvalidAmount("op", 0, 1000), ReasonInvalidInput},
		{"validation error", NewValidationError("op", "identity", "required"), ReasonInvalidInput},
		{"unavailable", Unavailable(errors.New("x"), "op", "down"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReasonForError(tt.err); got != tt.want {
				t.Errorf("ReasonForError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddFieldError(t *testing.T) {
	ve := NewValidationError("op", "action", "required")
	got := AddFieldError(ve, "amount", "must be positive")
	if len(got.Fields) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(got.Fields))
	}

	fresh := AddFieldError(errors.New("other"), "identity", "required")
	if fresh.Fields["identity"] != "required" {
		t.Errorf("expected new validation error with identity field, got %v", fresh.Fields)
	}
}
