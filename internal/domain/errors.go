package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldError is a single caller-fixable problem with an input field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every validation problem found in one request so
// that a caller sees all of them at once instead of one per round trip.
type ValidationErrors struct {
	Problems []FieldError
}

// Addf appends a formatted problem for the given field.
func (v *ValidationErrors) Addf(field, format string, args ...any) {
	v.Problems = append(v.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Empty reports whether no problems were collected.
func (v *ValidationErrors) Empty() bool { return len(v.Problems) == 0 }

// AsError returns the collection as an error, or nil when empty.
func (v *ValidationErrors) AsError() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Problems))
	for i, p := range v.Problems {
		msgs[i] = p.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ConflictError reports an operation that cannot proceed in the current
// state. It is not retried automatically.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Op + ": " + e.Reason
}

// ErrPeriodClosed rejects mutations of a holding whose booking period has
// been closed without the correction flag.
var ErrPeriodClosed = errors.New("booking period is closed")

// ErrLockHeld is returned when another process instance holds the accounting
// lock; the cycle is skipped, not retried.
var ErrLockHeld = errors.New("accounting lock held by another instance")

// NotFoundError reports a dangling reference.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// PriceUnavailableError aborts a close/NAV operation when an asset has no
// resolvable price. A synthetic zero would silently corrupt NAV totals, so
// the failing asset is surfaced instead.
type PriceUnavailableError struct {
	Asset AssetRef
	At    time.Time
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("no price available for %s at %s", e.Asset, e.At.Format(time.RFC3339))
}
