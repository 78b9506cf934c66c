package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence interactions needed by the scheduling
// pipeline. The Postgres implementation backs it with pgx; tests use an
// in-memory fake.
type Store interface {
	// Patients
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// FindPatientsByName matches the full name case-insensitively.
	FindPatientsByName(ctx context.Context, name string) ([]Patient, error)

	// Resources
	GetResourceByID(ctx context.Context, id uuid.UUID) (*ResourceInstance, error)
	// ListActiveResources returns active instances of a kind ordered by
	// display_order.
	ListActiveResources(ctx context.Context, kind ResourceKind) ([]ResourceInstance, error)
	// LockResource serializes committers on the same resource. Outside a
	// transaction it is a no-op.
	LockResource(ctx context.Context, id uuid.UUID) error

	// Bookings
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	CreateBooking(ctx context.Context, b *Booking) error
	// UpdateBooking applies b only when the stored version still equals
	// expectedVersion, and bumps the version. ErrConcurrentModification
	// otherwise.
	UpdateBooking(ctx context.Context, b *Booking, expectedVersion int) error
	ListActiveBookingsByResourceDate(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Booking, error)
	ListActiveBookingsByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]Booking, error)

	// Schedule entries (therapy execution records)
	CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error
	// CancelPlannedEntries cancels the booking's still-planned entries and
	// returns how many were touched.
	CancelPlannedEntries(ctx context.Context, bookingID uuid.UUID) (int, error)

	// Pending actions
	CreatePendingAction(ctx context.Context, a *PendingAction) error
	GetPendingActionByID(ctx context.Context, id uuid.UUID) (*PendingAction, error)
	// TransitionPendingAction is a compare-and-swap on status; it returns
	// ErrAlreadyProcessed when the stored status differs from `from`.
	TransitionPendingAction(ctx context.Context, id uuid.UUID, from, to ActionStatus, resultRef *uuid.UUID) (*PendingAction, error)

	// WithTx runs fn against a transactional view of the store. All writes
	// inside fn commit or roll back together.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
