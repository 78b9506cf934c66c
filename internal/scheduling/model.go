package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ResourceKind string

const (
	KindDoctor    ResourceKind = "doctor"
	KindRoom      ResourceKind = "room"
	KindTherapist ResourceKind = "therapist"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindDoctor, KindRoom, KindTherapist:
		return true
	}
	return false
}

type BookingKind string

const (
	BookingAppointment BookingKind = "appointment"
	BookingTherapy     BookingKind = "therapy"
)

type BookingStatus string

const (
	BookingActive    BookingStatus = "ACTIVE"
	BookingCancelled BookingStatus = "CANCELLED"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionConfirmed ActionStatus = "CONFIRMED"
	ActionCancelled ActionStatus = "CANCELLED"
	ActionExpired   ActionStatus = "EXPIRED"
)

// Terminal reports whether a pending-action status admits no further
// transition.
func (s ActionStatus) Terminal() bool {
	return s != ActionPending
}

type EntryStatus string

const (
	EntryPlanned   EntryStatus = "PLANNED"
	EntryDone      EntryStatus = "DONE"
	EntryCancelled EntryStatus = "CANCELLED"
)

type Patient struct {
	ID         uuid.UUID
	Name       string
	BirthDate  *time.Time // date component only
	ExternalID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ResourceInstance struct {
	ID           uuid.UUID
	Kind         ResourceKind
	Name         string
	DisplayOrder int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Booking occupies a resource for [StartMin, StartMin+DurationMin) on Date,
// and blocks the resource for the effective interval
// [StartMin, StartMin+DurationMin+BufferMin).
type Booking struct {
	ID          uuid.UUID
	ResourceID  uuid.UUID
	PatientID   uuid.UUID
	Kind        BookingKind
	Date        time.Time // normalized to midnight UTC
	StartMin    int       // minutes from midnight
	DurationMin int
	BufferMin   int
	Note        *string
	Status      BookingStatus
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectiveEnd returns the exclusive end of the booking's effective interval.
func (b Booking) EffectiveEnd() int {
	return b.StartMin + b.DurationMin + b.BufferMin
}

// ScheduleEntry is an execution record generated for a therapy booking.
// Unexecuted entries are cancelled together with their booking.
type ScheduleEntry struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	Date      time.Time
	StartMin  int
	Status    EntryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingAction stages a fully resolved scheduling mutation until the
// proposer confirms or rejects it, or it expires. Rows are retained after
// reaching a terminal state.
type PendingAction struct {
	ID         uuid.UUID
	SessionRef string
	ActionType ActionType
	Payload    ActionPayload
	Display    DisplayData
	Status     ActionStatus
	CreatedBy  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResultRef  *uuid.UUID // booking id, set on confirm
}

type ActionType string

const (
	ActionCreateAppointment ActionType = "create_appointment"
	ActionModifyAppointment ActionType = "modify_appointment"
	ActionCancelAppointment ActionType = "cancel_appointment"
	ActionCreateTherapy     ActionType = "create_therapy"
	ActionModifyTherapy     ActionType = "modify_therapy"
	ActionCancelTherapy     ActionType = "cancel_therapy"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionCreateAppointment, ActionModifyAppointment, ActionCancelAppointment,
		ActionCreateTherapy, ActionModifyTherapy, ActionCancelTherapy:
		return true
	}
	return false
}

// BookingKind maps the action type to the booking kind it operates on.
func (t ActionType) BookingKind() BookingKind {
	switch t {
	case ActionCreateTherapy, ActionModifyTherapy, ActionCancelTherapy:
		return BookingTherapy
	default:
		return BookingAppointment
	}
}

// ActionPayload is the tagged variant carried by a PendingAction. All
// references are resolved ids; free text never reaches a payload.
type ActionPayload interface {
	payloadKind() string
}

type CreateBookingPayload struct {
	Kind        BookingKind `json:"kind"`
	ResourceID  uuid.UUID   `json:"resource_id"`
	PatientID   uuid.UUID   `json:"patient_id"`
	Date        time.Time   `json:"date"`
	StartMin    int         `json:"start_min"`
	DurationMin int         `json:"duration_min"`
	BufferMin   int         `json:"buffer_min"`
}

type ModifyBookingPayload struct {
	BookingID       uuid.UUID  `json:"booking_id"`
	ExpectedVersion int        `json:"expected_version"`
	NewResourceID   *uuid.UUID `json:"new_resource_id,omitempty"`
	NewDate         *time.Time `json:"new_date,omitempty"`
	NewStartMin     *int       `json:"new_start_min,omitempty"`
	NewDurationMin  *int       `json:"new_duration_min,omitempty"`
	NewBufferMin    *int       `json:"new_buffer_min,omitempty"`
	NewNote         *string    `json:"new_note,omitempty"`
}

// Reschedules reports whether the modification touches the resource or the
// time window, which requires a fresh conflict check.
func (p ModifyBookingPayload) Reschedules() bool {
	return p.NewResourceID != nil || p.NewDate != nil || p.NewStartMin != nil ||
		p.NewDurationMin != nil || p.NewBufferMin != nil
}

type CancelBookingPayload struct {
	BookingID uuid.UUID `json:"booking_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (CreateBookingPayload) payloadKind() string { return "create" }
func (ModifyBookingPayload) payloadKind() string { return "modify" }
func (CancelBookingPayload) payloadKind() string { return "cancel" }

type payloadEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload serializes a payload with its variant tag for storage.
func MarshalPayload(p ActionPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.payloadKind(), Data: data})
}

// UnmarshalPayload restores a stored payload into its concrete variant.
func UnmarshalPayload(raw []byte) (ActionPayload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}

	switch env.Kind {
	case "create":
		var p CreateBookingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal create payload: %w", err)
		}
		return p, nil
	case "modify":
		var p ModifyBookingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal modify payload: %w", err)
		}
		return p, nil
	case "cancel":
		var p CancelBookingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cancel payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}

// DisplayData is the human-readable summary owed to the presentation layer.
// ActionLabel is always set; the remaining fields are filled when relevant.
type DisplayData struct {
	ActionLabel  string `json:"action_label"`
	PatientName  string `json:"patient_name,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// BookingEvent is published to department channels after a commit.
type BookingEvent struct {
	EventType  string    `json:"event_type"`
	BookingID  uuid.UUID `json:"booking_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
}

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingModified  = "BOOKING_MODIFIED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

// Notifier fans a committed mutation out to interested departments.
// Implementations must never fail the commit path.
type Notifier interface {
	BookingCommitted(ctx context.Context, kind ResourceKind, ev BookingEvent)
}

// NormalizeDate strips the time-of-day component, keeping UTC dates stable
// regardless of the zone the caller parsed them in.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date for map keys and wire payloads.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseClock converts "HH:MM" into minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes from midnight as "HH:MM".
func FormatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// SameDate compares two timestamps by calendar date.
func SameDate(a, b time.Time) bool {
	return NormalizeDate(a).Equal(NormalizeDate(b))
}
