package swap

import (
	"errors"
	"fmt"
)

// Reason is the stable, machine-checkable cause of a rejected or failed swap.
type Reason string

const (
	ReasonValidation  Reason = "validation"
	ReasonNotFound    Reason = "not_found"
	ReasonDuplicate   Reason = "duplicate"
	ReasonConversion  Reason = "conversion"
	ReasonPersistence Reason = "persistence"
	ReasonPayout      Reason = "payout"
)

// Error carries a Reason plus a human-readable message for the caller.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Reason, so callers can write
// errors.Is(err, swap.ErrDuplicate).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Reason == e.Reason
}

// Sentinels for errors.Is checks against a reason.
var (
	ErrValidation  = &Error{Reason: ReasonValidation}
	ErrNotFound    = &Error{Reason: ReasonNotFound}
	ErrDuplicate   = &Error{Reason: ReasonDuplicate}
	ErrConversion  = &Error{Reason: ReasonConversion}
	ErrPersistence = &Error{Reason: ReasonPersistence}
	ErrPayout      = &Error{Reason: ReasonPayout}
)

// ReasonOf returns the Reason of err, or "" if err is not a swap error.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// PublicMessage returns the text that is safe to show to an API caller.
// Wrapped infrastructure errors are not exposed.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "internal error"
}

func newError(reason Reason, err error, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}
