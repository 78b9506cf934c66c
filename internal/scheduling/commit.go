package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommitResult describes the booking mutation applied by the executor.
type CommitResult struct {
	Booking   *Booking
	EventType string
}

// CommitExecutor translates a pending-action payload into a persisted
// booking mutation. Apply always runs inside a transaction owned by the
// ledger: the resource row is locked first, the conflict check re-runs
// against that locked view, and every write lands or none do.
type CommitExecutor struct {
	grid GridConfig
	now  func() time.Time
}

func NewCommitExecutor(grid GridConfig) *CommitExecutor {
	if grid.StepMin <= 0 {
		grid = DefaultGrid()
	}
	return &CommitExecutor{grid: grid, now: time.Now}
}

// Apply dispatches on the payload variant. tx must be a transactional store
// view; the variant switch is exhaustive over the sealed payload set.
func (e *CommitExecutor) Apply(ctx context.Context, tx Store, p ActionPayload) (*CommitResult, error) {
	switch payload := p.(type) {
	case CreateBookingPayload:
		return e.applyCreate(ctx, tx, payload)
	case ModifyBookingPayload:
		return e.applyModify(ctx, tx, payload)
	case CancelBookingPayload:
		return e.applyCancel(ctx, tx, payload)
	default:
		return nil, fmt.Errorf("unsupported payload variant %T", p)
	}
}

func (e *CommitExecutor) applyCreate(ctx context.Context, tx Store, p CreateBookingPayload) (*CommitResult, error) {
	if err := tx.LockResource(ctx, p.ResourceID); err != nil {
		return nil, fmt.Errorf("lock resource: %w", err)
	}

	w := Window{Date: p.Date, StartMin: p.StartMin, DurationMin: p.DurationMin, BufferMin: p.BufferMin}
	detector := NewConflictDetector(tx, e.grid)
	check, err := detector.CheckBooking(ctx, p.ResourceID, p.PatientID, w, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if check.HasConflict {
		return nil, &ConflictError{Conflicting: check.Conflicting}
	}

	now := e.now().UTC()
	b := &Booking{
		ID:          uuid.New(),
		ResourceID:  p.ResourceID,
		PatientID:   p.PatientID,
		Kind:        p.Kind,
		Date:        NormalizeDate(p.Date),
		StartMin:    p.StartMin,
		DurationMin: p.DurationMin,
		BufferMin:   p.BufferMin,
		Status:      BookingActive,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	if p.Kind == BookingTherapy {
		entry := &ScheduleEntry{
			ID:        uuid.New(),
			BookingID: b.ID,
			Date:      b.Date,
			StartMin:  b.StartMin,
			Status:    EntryPlanned,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateScheduleEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("create schedule entry: %w", err)
		}
	}

	return &CommitResult{Booking: b, EventType: EventBookingCreated}, nil
}

func (e *CommitExecutor) applyModify(ctx context.Context, tx Store, p ModifyBookingPayload) (*CommitResult, error) {
	b, err := tx.GetBookingByID(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}

	updated := *b
	if p.NewResourceID != nil {
		updated.ResourceID = *p.NewResourceID
	}
	if p.NewDate != nil {
		updated.Date = NormalizeDate(*p.NewDate)
	}
	if p.NewStartMin != nil {
		updated.StartMin = *p.NewStartMin
	}
	if p.NewDurationMin != nil {
		updated.DurationMin = *p.NewDurationMin
	}
	if p.NewBufferMin != nil {
		updated.BufferMin = *p.NewBufferMin
	}
	if p.NewNote != nil {
		updated.Note = p.NewNote
	}

	// Only a change to the resource or time window needs a fresh conflict
	// check, excluding the booking's own row.
	if p.Reschedules() {
		if err := tx.LockResource(ctx, updated.ResourceID); err != nil {
			return nil, fmt.Errorf("lock resource: %w", err)
		}
		w := Window{Date: updated.Date, StartMin: updated.StartMin, DurationMin: updated.DurationMin, BufferMin: updated.BufferMin}
		detector := NewConflictDetector(tx, e.grid)
		check, err := detector.CheckBooking(ctx, updated.ResourceID, updated.PatientID, w, b.ID)
		if err != nil {
			return nil, err
		}
		if check.HasConflict {
			return nil, &ConflictError{Conflicting: check.Conflicting}
		}
	}

	updated.UpdatedAt = e.now().UTC()
	if err := tx.UpdateBooking(ctx, &updated, p.ExpectedVersion); err != nil {
		return nil, err
	}

	return &CommitResult{Booking: &updated, EventType: EventBookingModified}, nil
}

func (e *CommitExecutor) applyCancel(ctx context.Context, tx Store, p CancelBookingPayload) (*CommitResult, error) {
	b, err := tx.GetBookingByID(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}

	updated := *b
	updated.Status = BookingCancelled
	updated.UpdatedAt = e.now().UTC()
	if err := tx.UpdateBooking(ctx, &updated, b.Version); err != nil {
		return nil, err
	}

	// Unexecuted sub-schedule rows go down with the booking.
	if _, err := tx.CancelPlannedEntries(ctx, b.ID); err != nil {
		return nil, fmt.Errorf("cancel planned entries: %w", err)
	}

	return &CommitResult{Booking: &updated, EventType: EventBookingCancelled}, nil
}
