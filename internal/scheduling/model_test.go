package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	min, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, min)

	min, err = ParseClock("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, min)

	for _, bad := range []string{"9:3", "25:00", "10:61", "noon", ""} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "09:30", FormatClock(570))
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "16:59", FormatClock(1019))
}

func TestNormalizeDateStripsTimeAndZone(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	d := NormalizeDate(time.Date(2025, 3, 5, 23, 45, 12, 0, loc))
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), d)
	assert.True(t, SameDate(d, time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)))
}

func TestEffectiveEndIncludesBuffer(t *testing.T) {
	b := Booking{StartMin: 600, DurationMin: 30, BufferMin: 10}
	assert.Equal(t, 640, b.EffectiveEnd())
}

func TestActionTypeBookingKind(t *testing.T) {
	assert.Equal(t, BookingAppointment, ActionCreateAppointment.BookingKind())
	assert.Equal(t, BookingTherapy, ActionModifyTherapy.BookingKind())
	assert.True(t, ActionCancelTherapy.Valid())
	assert.False(t, ActionType("reshelve_books").Valid())
}

func TestActionStatusTerminal(t *testing.T) {
	assert.False(t, ActionPending.Terminal())
	for _, s := range []ActionStatus{ActionConfirmed, ActionCancelled, ActionExpired} {
		assert.True(t, s.Terminal(), string(s))
	}
}

func TestPayloadEnvelopeRoundTrip(t *testing.T) {
	note := "arrives by wheelchair"
	payloads := []ActionPayload{
		CreateBookingPayload{
			Kind:        BookingTherapy,
			ResourceID:  uuid.New(),
			PatientID:   uuid.New(),
			Date:        time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
			StartMin:    600,
			DurationMin: 60,
			BufferMin:   10,
		},
		ModifyBookingPayload{BookingID: uuid.New(), NewNote: &note, ExpectedVersion: 3},
		CancelBookingPayload{BookingID: uuid.New(), Reason: "patient request"},
	}

	for _, p := range payloads {
		raw, err := MarshalPayload(p)
		require.NoError(t, err)
		got, err := UnmarshalPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestUnmarshalPayloadRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"kind":"merge","data":{}}`))
	assert.Error(t, err)
}

func TestModifyPayloadReschedules(t *testing.T) {
	note := "x"
	start := 660

	assert.False(t, ModifyBookingPayload{NewNote: &note}.Reschedules())
	assert.True(t, ModifyBookingPayload{NewStartMin: &start}.Reschedules())
	rid := uuid.New()
	assert.True(t, ModifyBookingPayload{NewResourceID: &rid}.Reschedules())
}
