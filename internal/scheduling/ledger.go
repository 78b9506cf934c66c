package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careops/hospital-scheduling/internal/observability/metrics"
	"github.com/careops/hospital-scheduling/pkg/logging"
)

// Ledger stages resolved, conflict-checked mutations as time-boxed pending
// actions and drives the PENDING -> CONFIRMED | CANCELLED | EXPIRED state
// machine. Terminal states are final; records are kept for audit.
//
// Expiry is enforced lazily at access time only. A pending action has no
// side effects until confirm, so checking expires_at when someone touches
// the record is sufficient and saves a sweeper process.
type Ledger struct {
	store    Store
	detector *ConflictDetector
	executor *CommitExecutor
	notifier Notifier
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	ttl      time.Duration
	now      func() time.Time
}

func NewLedger(store Store, detector *ConflictDetector, executor *CommitExecutor, notifier Notifier, logger *logging.Logger, m *metrics.SchedulingMetrics, ttl time.Duration) *Ledger {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Ledger{
		store:    store,
		detector: detector,
		executor: executor,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock overrides the ledger's clock. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// ProposeInput must already have passed identity resolution and the
// propose-time conflict check; the ledger never resolves ambiguity itself.
type ProposeInput struct {
	SessionRef string
	ActionType ActionType
	Payload    ActionPayload
	Display    DisplayData
	CreatedBy  string
}

// Propose stages the mutation and returns the record for presentation.
func (l *Ledger) Propose(ctx context.Context, in ProposeInput) (*PendingAction, error) {
	if !in.ActionType.Valid() {
		return nil, NewValidationError("action_type", fmt.Sprintf("unknown action type %q", in.ActionType))
	}
	if in.Payload == nil {
		return nil, NewValidationError("payload", "payload is required")
	}
	if in.CreatedBy == "" {
		return nil, NewValidationError("actor_id", "actor id is required")
	}
	if in.Display.ActionLabel == "" {
		return nil, NewValidationError("display", "action label is required")
	}

	now := l.now().UTC()
	action := &PendingAction{
		ID:         uuid.New(),
		SessionRef: in.SessionRef,
		ActionType: in.ActionType,
		Payload:    in.Payload,
		Display:    in.Display,
		Status:     ActionPending,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.ttl),
	}

	if err := l.store.CreatePendingAction(ctx, action); err != nil {
		return nil, fmt.Errorf("create pending action: %w", err)
	}

	l.metrics.ObservePropose(string(in.ActionType))
	l.logger.Info("pending action proposed",
		"action_id", action.ID, "action_type", action.ActionType,
		"created_by", action.CreatedBy, "expires_at", action.ExpiresAt)
	return action, nil
}

// Confirm re-validates the payload's target window (the propose-time check
// is stale by now) and applies it through the commit executor. On a newly
// discovered conflict the record stays PENDING so the caller can retry or
// abandon it to expire.
func (l *Ledger) Confirm(ctx context.Context, id uuid.UUID, actorID string) (*PendingAction, error) {
	action, err := l.guardedLoad(ctx, id, actorID)
	if err != nil {
		return nil, err
	}

	// Closing the propose->confirm gap: check again before committing.
	if err := l.revalidate(ctx, action.Payload); err != nil {
		l.metrics.ObserveConfirm("conflict")
		return nil, err
	}

	var result *CommitResult
	err = l.store.WithTx(ctx, func(tx Store) error {
		res, err := l.executor.Apply(ctx, tx, action.Payload)
		if err != nil {
			return err
		}
		updated, err := tx.TransitionPendingAction(ctx, id, ActionPending, ActionConfirmed, &res.Booking.ID)
		if err != nil {
			return err
		}
		result = res
		action = updated
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			l.attachAlternatives(ctx, action.Payload, conflict)
			l.metrics.ObserveConfirm("conflict")
			return nil, conflict
		}
		l.metrics.ObserveConfirm("error")
		return nil, err
	}

	l.metrics.ObserveConfirm("ok")
	l.logger.Info("pending action confirmed",
		"action_id", action.ID, "booking_id", result.Booking.ID, "event", result.EventType)
	l.publish(ctx, result)

	return action, nil
}

// Reject transitions PENDING -> CANCELLED without touching any booking.
func (l *Ledger) Reject(ctx context.Context, id uuid.UUID, actorID string) (*PendingAction, error) {
	action, err := l.guardedLoad(ctx, id, actorID)
	if err != nil {
		return nil, err
	}

	updated, err := l.store.TransitionPendingAction(ctx, action.ID, ActionPending, ActionCancelled, nil)
	if err != nil {
		return nil, err
	}

	l.metrics.ObserveReject()
	l.logger.Info("pending action rejected", "action_id", updated.ID, "actor_id", actorID)
	return updated, nil
}

// Get loads a record, applying lazy expiry so readers never see a stale
// PENDING past its deadline.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*PendingAction, error) {
	action, err := l.store.GetPendingActionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status == ActionPending && l.now().After(action.ExpiresAt) {
		if expired, err := l.expire(ctx, action); err == nil {
			return expired, nil
		}
	}
	return action, nil
}

// guardedLoad applies the shared confirm/reject guards: existence,
// ownership, terminal status, lazy expiry.
func (l *Ledger) guardedLoad(ctx context.Context, id uuid.UUID, actorID string) (*PendingAction, error) {
	action, err := l.store.GetPendingActionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.CreatedBy != actorID {
		return nil, ErrForbidden
	}
	if action.Status.Terminal() {
		return nil, ErrAlreadyProcessed
	}
	if l.now().After(action.ExpiresAt) {
		if _, err := l.expire(ctx, action); err != nil {
			l.logger.Warn("failed to expire pending action", "action_id", action.ID, "error", err)
		}
		return nil, ErrExpiredAction
	}
	return action, nil
}

func (l *Ledger) expire(ctx context.Context, action *PendingAction) (*PendingAction, error) {
	updated, err := l.store.TransitionPendingAction(ctx, action.ID, ActionPending, ActionExpired, nil)
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveExpiry()
	l.logger.Info("pending action expired", "action_id", action.ID)
	return updated, nil
}

// revalidate reruns the conflict detector for payloads that occupy a
// window. Cancels and non-rescheduling modifies have nothing to re-check.
func (l *Ledger) revalidate(ctx context.Context, p ActionPayload) error {
	switch payload := p.(type) {
	case CreateBookingPayload:
		w := Window{Date: payload.Date, StartMin: payload.StartMin, DurationMin: payload.DurationMin, BufferMin: payload.BufferMin}
		check, err := l.detector.CheckBooking(ctx, payload.ResourceID, payload.PatientID, w, uuid.Nil)
		if err != nil {
			return err
		}
		if check.HasConflict {
			conflict := &ConflictError{Conflicting: check.Conflicting}
			l.attachAlternatives(ctx, p, conflict)
			return conflict
		}
	case ModifyBookingPayload:
		if !payload.Reschedules() {
			return nil
		}
		current, err := l.store.GetBookingByID(ctx, payload.BookingID)
		if err != nil {
			return err
		}
		resourceID := current.ResourceID
		if payload.NewResourceID != nil {
			resourceID = *payload.NewResourceID
		}
		w := Window{Date: current.Date, StartMin: current.StartMin, DurationMin: current.DurationMin, BufferMin: current.BufferMin}
		if payload.NewDate != nil {
			w.Date = *payload.NewDate
		}
		if payload.NewStartMin != nil {
			w.StartMin = *payload.NewStartMin
		}
		if payload.NewDurationMin != nil {
			w.DurationMin = *payload.NewDurationMin
		}
		if payload.NewBufferMin != nil {
			w.BufferMin = *payload.NewBufferMin
		}
		check, err := l.detector.CheckBooking(ctx, resourceID, current.PatientID, w, current.ID)
		if err != nil {
			return err
		}
		if check.HasConflict {
			conflict := &ConflictError{Conflicting: check.Conflicting}
			l.attachAlternatives(ctx, p, conflict)
			return conflict
		}
	case CancelBookingPayload:
		// Nothing to re-check.
	}
	return nil
}

// attachAlternatives fills a conflict error with free start times on the
// payload's resource/date, best effort.
func (l *Ledger) attachAlternatives(ctx context.Context, p ActionPayload, conflict *ConflictError) {
	if len(conflict.Alternatives) > 0 {
		return
	}

	var resourceID uuid.UUID
	var w Window
	exclude := uuid.Nil
	switch payload := p.(type) {
	case CreateBookingPayload:
		resourceID = payload.ResourceID
		w = Window{Date: payload.Date, StartMin: payload.StartMin, DurationMin: payload.DurationMin, BufferMin: payload.BufferMin}
	case ModifyBookingPayload:
		current, err := l.store.GetBookingByID(ctx, payload.BookingID)
		if err != nil {
			return
		}
		resourceID = current.ResourceID
		if payload.NewResourceID != nil {
			resourceID = *payload.NewResourceID
		}
		// Suggestions must use the modified window, not the stored one:
		// a grown buffer shrinks what counts as free.
		w = Window{Date: current.Date, StartMin: current.StartMin, DurationMin: current.DurationMin, BufferMin: current.BufferMin}
		if payload.NewDate != nil {
			w.Date = *payload.NewDate
		}
		if payload.NewStartMin != nil {
			w.StartMin = *payload.NewStartMin
		}
		if payload.NewDurationMin != nil {
			w.DurationMin = *payload.NewDurationMin
		}
		if payload.NewBufferMin != nil {
			w.BufferMin = *payload.NewBufferMin
		}
		exclude = current.ID
	default:
		return
	}

	alts, err := l.detector.Alternatives(ctx, resourceID, w, exclude)
	if err != nil {
		l.logger.Warn("failed to compute alternative slots", "error", err)
		return
	}
	conflict.Alternatives = alts
}

// publish emits the committed mutation to department channels.
// Fire-and-forget: the notifier logs its own failures and the commit stands
// either way.
func (l *Ledger) publish(ctx context.Context, res *CommitResult) {
	if l.notifier == nil {
		return
	}
	resource, err := l.store.GetResourceByID(ctx, res.Booking.ResourceID)
	if err != nil {
		l.logger.Warn("notification skipped, resource lookup failed", "resource_id", res.Booking.ResourceID, "error", err)
		return
	}
	l.notifier.BookingCommitted(ctx, resource.Kind, BookingEvent{
		EventType:  res.EventType,
		BookingID:  res.Booking.ID,
		ResourceID: res.Booking.ResourceID,
		PatientID:  res.Booking.PatientID,
		Date:       DateKey(res.Booking.Date),
		Time:       FormatClock(res.Booking.StartMin),
	})
	l.metrics.ObserveNotification(res.EventType)
}
