package scheduling

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckResourceDetectsOverlap(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	seedBooking(env.store, room.ID, patient.ID, 600, 60, 0) // 10:00-11:00

	tests := []struct {
		name     string
		startMin int
		duration int
		buffer   int
		conflict bool
	}{
		{"fully inside", 615, 30, 0, true},
		{"overlapping start", 570, 60, 0, true},
		{"overlapping end", 630, 60, 0, true},
		{"exactly before", 540, 60, 0, false},
		{"exactly after", 660, 60, 0, false},
		{"touching end with buffer", 660, 60, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Date: testDate(), StartMin: tt.startMin, DurationMin: tt.duration, BufferMin: tt.buffer}
			check, err := env.detector.CheckResource(context.Background(), room.ID, w, uuid.Nil)
			require.NoError(t, err)
			assert.Equal(t, tt.conflict, check.HasConflict)
		})
	}
}

// The buffer counts on both sides: the existing booking's buffer blocks a
// candidate starting right at its end, and the candidate's own buffer
// blocks it from ending right before an existing start.
func TestBufferIsSymmetric(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	seedBooking(env.store, room.ID, patient.ID, 600, 60, 30) // effective 10:00-11:30

	w := Window{Date: testDate(), StartMin: 660, DurationMin: 30, BufferMin: 0} // 11:00 start
	check, err := env.detector.CheckResource(context.Background(), room.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, check.HasConflict, "existing buffer must block 11:00 start")

	other := seedResource(env.store, KindRoom, "Treatment Room 2", 2)
	seedBooking(env.store, other.ID, patient.ID, 660, 60, 0) // 11:00-12:00

	w = Window{Date: testDate(), StartMin: 600, DurationMin: 30, BufferMin: 45} // effective 10:00-11:15
	check, err = env.detector.CheckResource(context.Background(), other.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, check.HasConflict, "candidate buffer must collide with 11:00 booking")
}

func TestCheckResourceExcludesOwnBooking(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	own := seedBooking(env.store, room.ID, patient.ID, 600, 60, 0)

	w := Window{Date: testDate(), StartMin: 615, DurationMin: 30, BufferMin: 0}
	check, err := env.detector.CheckResource(context.Background(), room.ID, w, own.ID)
	require.NoError(t, err)
	assert.False(t, check.HasConflict)
}

func TestCancelledBookingsDoNotConflict(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	b := seedBooking(env.store, room.ID, patient.ID, 600, 60, 0)
	b.Status = BookingCancelled
	env.store.bookings[b.ID] = b

	w := Window{Date: testDate(), StartMin: 600, DurationMin: 60, BufferMin: 0}
	check, err := env.detector.CheckResource(context.Background(), room.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.False(t, check.HasConflict)
}

// Appointments run two independent scans: the doctor's calendar and the
// patient's own. Either one failing is a conflict.
func TestCheckBookingCoversPatientDimension(t *testing.T) {
	env := newTestEnv()
	docA := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	docB := seedResource(env.store, KindDoctor, "Dr. Han", 2)
	patient := seedPatient(env.store, "A", nil)
	seedBooking(env.store, docA.ID, patient.ID, 600, 30, 0)

	// Different doctor, same patient, same window.
	w := Window{Date: testDate(), StartMin: 600, DurationMin: 30, BufferMin: 0}
	check, err := env.detector.CheckBooking(context.Background(), docB.ID, patient.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, check.HasConflict)
	assert.Len(t, check.Conflicting, 1)
}

func TestAlternativesAreChronologicalAndBounded(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	seedBooking(env.store, room.ID, patient.ID, 540, 60, 0) // 09:00-10:00

	w := Window{Date: testDate(), StartMin: 540, DurationMin: 30, BufferMin: 0}
	alts, err := env.detector.Alternatives(context.Background(), room.ID, w, uuid.Nil)
	require.NoError(t, err)

	require.Len(t, alts, 6)
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30", "12:00", "12:30"}, alts)
}

func TestAlternativesRespectOperatingHoursEnd(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)

	// A 7.5h request only fits at exactly 09:00 in a 09:00-17:00 day.
	w := Window{Date: testDate(), StartMin: 600, DurationMin: 450, BufferMin: 0}
	alts, err := env.detector.Alternatives(context.Background(), room.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30"}, alts)
}

func TestAlternativesEmptyWhenDayFull(t *testing.T) {
	env := newTestEnv()
	room := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "A", nil)
	seedBooking(env.store, room.ID, patient.ID, 9*60, 8*60, 0) // whole day

	w := Window{Date: testDate(), StartMin: 600, DurationMin: 30, BufferMin: 0}
	alts, err := env.detector.Alternatives(context.Background(), room.ID, w, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, alts)
}
