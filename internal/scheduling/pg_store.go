package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is satisfied by *pgxpool.Pool, pgx.Tx and the pgxmock pool, so
// the same store works against the pool, inside a transaction, and under
// test.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	q pgQuerier
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{q: pool}
}

// NewPgStoreWithQuerier allows injecting pgxmock in tests.
func NewPgStoreWithQuerier(q pgQuerier) *PgStore {
	return &PgStore{q: q}
}

// Scan helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.BirthDate, &p.ExternalID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanResource(row pgx.Row) (*ResourceInstance, error) {
	var r ResourceInstance
	err := row.Scan(&r.ID, &r.Kind, &r.Name, &r.DisplayOrder, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.ResourceID, &b.PatientID, &b.Kind, &b.Date,
		&b.StartMin, &b.DurationMin, &b.BufferMin, &b.Note,
		&b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanPendingAction(row pgx.Row) (*PendingAction, error) {
	var a PendingAction
	var payload, display []byte
	err := row.Scan(
		&a.ID, &a.SessionRef, &a.ActionType, &payload, &display,
		&a.Status, &a.CreatedBy, &a.CreatedAt, &a.ExpiresAt, &a.ResultRef,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPendingActionNotFound
		}
		return nil, err
	}

	a.Payload, err = UnmarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("decode pending action %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(display, &a.Display); err != nil {
		return nil, fmt.Errorf("decode display for %s: %w", a.ID, err)
	}
	return &a, nil
}

// Patients

func (s *PgStore) CreatePatient(ctx context.Context, p *Patient) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO patients (id, name, birth_date, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.BirthDate, p.ExternalID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (s *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, birth_date, external_id, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *PgStore) FindPatientsByName(ctx context.Context, name string) ([]Patient, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, birth_date, external_id, created_at, updated_at
		FROM patients
		WHERE lower(name) = lower($1)
		ORDER BY created_at
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// Resources

func (s *PgStore) GetResourceByID(ctx context.Context, id uuid.UUID) (*ResourceInstance, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, kind, name, display_order, active, created_at, updated_at
		FROM resource_instances
		WHERE id = $1
	`, id)
	return scanResource(row)
}

func (s *PgStore) ListActiveResources(ctx context.Context, kind ResourceKind) ([]ResourceInstance, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, kind, name, display_order, active, created_at, updated_at
		FROM resource_instances
		WHERE kind = $1 AND active
		ORDER BY display_order
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ResourceInstance
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *PgStore) LockResource(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := s.q.QueryRow(ctx, `
		SELECT id FROM resource_instances WHERE id = $1 FOR UPDATE
	`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrResourceNotFound
		}
		return err
	}
	return nil
}

// Bookings

const bookingColumns = `id, resource_id, patient_id, kind, booking_date,
	start_min, duration_min, buffer_min, note, status, version, created_at, updated_at`

func (s *PgStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (s *PgStore) CreateBooking(ctx context.Context, b *Booking) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO bookings (id, resource_id, patient_id, kind, booking_date,
			start_min, duration_min, buffer_min, note, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.ResourceID, b.PatientID, b.Kind, b.Date,
		b.StartMin, b.DurationMin, b.BufferMin, b.Note, b.Status, b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateBooking(ctx context.Context, b *Booking, expectedVersion int) error {
	var newVersion int
	err := s.q.QueryRow(ctx, `
		UPDATE bookings
		SET resource_id = $2,
		    booking_date = $3,
		    start_min = $4,
		    duration_min = $5,
		    buffer_min = $6,
		    note = $7,
		    status = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $9
		RETURNING version
	`, b.ID, b.ResourceID, b.Date, b.StartMin, b.DurationMin,
		b.BufferMin, b.Note, b.Status, expectedVersion).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetBookingByID(ctx, b.ID); getErr != nil {
				return getErr
			}
			return ErrConcurrentModification
		}
		return fmt.Errorf("update booking: %w", err)
	}
	b.Version = newVersion
	return nil
}

func (s *PgStore) ListActiveBookingsByResourceDate(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Booking, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE resource_id = $1 AND booking_date = $2 AND status = 'ACTIVE'
		ORDER BY start_min
	`, resourceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (s *PgStore) ListActiveBookingsByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]Booking, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1 AND booking_date = $2 AND status = 'ACTIVE'
		ORDER BY start_min
	`, patientID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

// Schedule entries

func (s *PgStore) CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO schedule_entries (id, booking_id, entry_date, start_min, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.BookingID, e.Date, e.StartMin, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule entry: %w", err)
	}
	return nil
}

func (s *PgStore) CancelPlannedEntries(ctx context.Context, bookingID uuid.UUID) (int, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE schedule_entries
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE booking_id = $1
		  AND status = 'PLANNED'
	`, bookingID)
	if err != nil {
		return 0, fmt.Errorf("cancel planned entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Pending actions

const pendingActionColumns = `id, session_ref, action_type, payload, display,
	status, created_by, created_at, expires_at, result_ref`

func (s *PgStore) CreatePendingAction(ctx context.Context, a *PendingAction) error {
	payload, err := MarshalPayload(a.Payload)
	if err != nil {
		return err
	}
	display, err := json.Marshal(a.Display)
	if err != nil {
		return fmt.Errorf("marshal display: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO pending_actions (id, session_ref, action_type, payload, display,
			status, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.SessionRef, a.ActionType, payload, display,
		a.Status, a.CreatedBy, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert pending action: %w", err)
	}
	return nil
}

func (s *PgStore) GetPendingActionByID(ctx context.Context, id uuid.UUID) (*PendingAction, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+pendingActionColumns+`
		FROM pending_actions
		WHERE id = $1
	`, id)
	return scanPendingAction(row)
}

func (s *PgStore) TransitionPendingAction(ctx context.Context, id uuid.UUID, from, to ActionStatus, resultRef *uuid.UUID) (*PendingAction, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE pending_actions
		SET status = $3,
		    result_ref = COALESCE($4, result_ref)
		WHERE id = $1
		  AND status = $2
		RETURNING `+pendingActionColumns+`
	`, id, from, to, resultRef)

	action, err := scanPendingAction(row)
	if err != nil {
		if errors.Is(err, ErrPendingActionNotFound) {
			if _, getErr := s.GetPendingActionByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}
	return action, nil
}

// WithTx runs fn against a transactional store view.
func (s *PgStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
