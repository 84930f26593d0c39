// Package errs provides the typed error taxonomy shared across the
// fulfillment core. Every package boundary returns an *E so callers can
// switch on the code instead of matching error strings.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error category.
type Code string

const (
	// CodeInsufficientFunds indicates a debit would exceed the required balance.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeAccountInactive indicates the target account is deactivated.
	CodeAccountInactive Code = "account_inactive"
	// CodeInvalidTransition indicates a status change outside the allowed edge set.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeSlotFull indicates the delivery slot capacity ceiling is reached.
	CodeSlotFull Code = "slot_full"
	// CodeContention indicates a lock timeout; the whole operation may be retried.
	CodeContention Code = "contention"
	// CodeAlreadyResolved indicates an idempotent no-op on a resolved hold.
	CodeAlreadyResolved Code = "already_resolved"
	// CodeHoldActive indicates an order already carries an active hold.
	CodeHoldActive Code = "hold_active"
	// CodeNotFound indicates a missing row.
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E is the structured error carried across the core.
type E struct {
	Op      string
	Code    Code
	Message string

	cause error
}

// New constructs an error for the given operation and code.
func New(op string, code Code, message string) *E {
	return &E{Op: op, Code: code, Message: message}
}

// Newf constructs an error with a formatted message.
func Newf(op string, code Code, format string, args ...any) *E {
	return &E{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error envelope.
func Wrap(op string, code Code, err error) *E {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &E{Op: op, Code: code, Message: msg, cause: err}
}

func (e *E) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.cause }

// Is reports code equality so errors.Is works against bare code sentinels.
func (e *E) Is(target error) bool {
	var t *E
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the code from err, or empty when err is not an *E.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether the caller should retry the whole operation.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeContention
}
