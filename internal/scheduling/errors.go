package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound       = errors.New("patient not found")
	ErrResourceNotFound      = errors.New("resource not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrPendingActionNotFound = errors.New("pending action not found")

	// ErrForbidden is returned when an actor other than the proposer tries
	// to confirm or reject a pending action.
	ErrForbidden = errors.New("only the proposer may act on this pending action")

	// ErrAlreadyProcessed is returned when a pending action is already in a
	// terminal state.
	ErrAlreadyProcessed = errors.New("pending action already processed")

	// ErrExpiredAction is returned when confirm or reject arrives after the
	// proposal TTL. The caller must re-propose from scratch.
	ErrExpiredAction = errors.New("pending action expired")

	// ErrConcurrentModification is returned when a booking's version no
	// longer matches the one the mutation was prepared against.
	ErrConcurrentModification = errors.New("booking modified concurrently, re-fetch and retry")

	// ErrPermissionDenied carries no detail on purpose.
	ErrPermissionDenied = errors.New("not allowed")

	// ErrNoCapacity is returned by auto-assignment when every active
	// resource of the requested kind conflicts. Callers surface it as a
	// normal "no capacity" outcome, not a failure.
	ErrNoCapacity = errors.New("no resource available for the requested window")
)

// ValidationError reports malformed or missing intent arguments. The NL
// front-end re-prompts the user with Fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent arguments: %d field(s)", len(e.Fields))
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ConflictError reports an overlap found at propose or confirm time,
// together with alternative start times ("HH:MM") on the same resource and
// date.
type ConflictError struct {
	Conflicting  []Booking
	Alternatives []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("time window conflicts with %d existing booking(s)", len(e.Conflicting))
}

// IsNotFound reports whether err wraps any of the entity-missing sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPatientNotFound) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPendingActionNotFound)
}
