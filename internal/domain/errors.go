package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID           = "invalid"            // Invalid input or validation failure
	EINVALIDTRANSITION = "invalid_transition" // Lifecycle edge not in the transition table
	ENOTFOUND          = "not_found"          // Resource not found
	ECONFLICT          = "conflict"           // Resource conflict (e.g., duplicate, lost race)
	EALREADYQUEUED     = "already_queued"     // Product already has an active queue entry
	EALREADYASSIGNED   = "already_assigned"   // Queue entry was assigned by someone else
	ERATELIMIT         = "rate_limit"         // Rate limit exceeded
	EUNAVAILABLE       = "unavailable"        // Data store unavailable after retries
	EINTERNAL          = "internal"           // Internal server error
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "queue.assign")
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
// A ValidationError reports EINVALID.
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
			return "The service is temporarily unavailable. Please try again later."
		}
		return e.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message()
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
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Op
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

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// InvalidTransition reports an edge that is not in a lifecycle table.
func InvalidTransition(op string, from, to fmt.Stringer) *Error {
	return &Error{
		Code:    EINVALIDTRANSITION,
		Op:      op,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// AlreadyQueued reports that a product already has an active queue entry.
func AlreadyQueued(op, productID string) *Error {
	return &Error{
		Code:    EALREADYQUEUED,
		Op:      op,
		Message: fmt.Sprintf("product %q already has an active validation request", productID),
	}
}

// AlreadyAssigned reports a lost assignment race.
func AlreadyAssigned(op, entryID string) *Error {
	return &Error{
		Code:    EALREADYASSIGNED,
		Op:      op,
		Message: fmt.Sprintf("queue entry %q is already assigned", entryID),
	}
}

// Unavailable wraps a transient data store failure that outlived its retries.
func Unavailable(err error, op string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: "data store unavailable",
		Err:     err,
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

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
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

// Message returns the first field message, or a generic one.
func (e *ValidationError) Message() string {
	for field, msg := range e.Fields {
		if len(e.Fields) == 1 {
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	return "validation failed"
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

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
