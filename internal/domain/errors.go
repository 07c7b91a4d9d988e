package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate)
	ERATELIMIT    = "rate_limit"   // Quota exhausted
	EUNAVAILABLE  = "unavailable"  // Backing store unreachable; safe to retry
	EINTERNAL     = "internal"     // Internal server error
	ENOTIMPL      = "not_impl"     // Not implemented
)

// Sentinel causes carried in Error.Err so callers can tell validation
// failures apart without string matching.
var (
	ErrInvalidAction   = errors.New("unknown action type")
	ErrInvalidAmount   = errors.New("invalid usage amount")
	ErrInvalidIdentity = errors.New("malformed identity")
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.record_usage")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return EINVALID
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EINTERNAL:
			return "An internal error occurred. Please try again later."
		case EUNAVAILABLE:
			return "The usage service is temporarily unavailable. Please try again later."
		}
		return e.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Validation failed"
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// ReasonForError maps a rejected request to the reason reported to callers.
// Only validation failures have a reason; everything else returns "".
func ReasonForError(err error) Reason {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidAction) {
		return ReasonInvalidActionType
	}
	if ErrorCode(err) == EINVALID {
		return ReasonInvalidInput
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// InvalidAction creates a validation error for an unrecognized action name.
func InvalidAction(op, action string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: fmt.Sprintf("unknown action type %q (must be 'import' or 'analyze')", action),
		Err:     ErrInvalidAction,
	}
}

// InvalidAmount creates a validation error for an out-of-range usage amount.
func InvalidAmount(op string, amount, max int) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: fmt.Sprintf("amount must be between 1 and %d, got %d", max, amount),
		Err:     ErrInvalidAmount,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Unavailable creates a transient infrastructure error. The caller decides
// whether to fail open or closed.
func Unavailable(err error, op, message string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: message,
		Err:     err,
	}
}


// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}

// AddFieldError adds a field error to an existing validation error.
// If err is not a ValidationError, returns a new one.
func AddFieldError(err error, field, message string) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}
	return NewValidationError("", field, message)
}
