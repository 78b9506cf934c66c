package scheduling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyAll struct{}

func (denyAll) HasPermission(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func intentReq(actionType string, args map[string]any) IntentRequest {
	return IntentRequest{
		ActionType:      actionType,
		Args:            args,
		ActorID:         "staff-1",
		ConversationRef: "conv-42",
	}
}

func createAppointmentArgs() map[string]any {
	return map[string]any{
		"patient_name": "Kim Min-su",
		"birth_date":   "1980-01-01",
		"date":         "2025-03-05",
		"time":         "10:00",
		"duration_min": 30,
	}
}

func TestHandleIntentValidation(t *testing.T) {
	env := newTestEnv()

	t.Run("missing actor", func(t *testing.T) {
		req := intentReq("create_appointment", createAppointmentArgs())
		req.ActorID = ""
		_, err := env.gateway.HandleIntent(context.Background(), req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown action type", func(t *testing.T) {
		_, err := env.gateway.HandleIntent(context.Background(), intentReq("teleport_patient", nil))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("missing and malformed args", func(t *testing.T) {
		args := createAppointmentArgs()
		delete(args, "date")
		args["duration_min"] = "thirty"
		_, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("bad clock time", func(t *testing.T) {
		args := createAppointmentArgs()
		args["time"] = "25:99"
		_, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "time")
	})
}

// Denied actors get a refusal that never leaks what the action would have
// touched.
func TestHandleIntentPermissionDenied(t *testing.T) {
	env := newTestEnv()
	gateway := NewIntentGateway(env.store, env.resolver, env.detector, env.assigner, env.ledger, denyAll{}, nil, nil)
	seedResource(env.store, KindDoctor, "Dr. Seo", 1)

	_, err := gateway.HandleIntent(context.Background(), intentReq("create_appointment", createAppointmentArgs()))
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestHandleIntentProposesWithAutoAssignedDoctor(t *testing.T) {
	env := newTestEnv()
	seedResource(env.store, KindDoctor, "Dr. Han", 2)
	first := seedResource(env.store, KindDoctor, "Dr. Seo", 1)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", createAppointmentArgs()))
	require.NoError(t, err)
	require.Equal(t, OutcomeProposed, outcome.Kind)
	require.NotNil(t, outcome.PendingActionID)
	assert.Equal(t, "Dr. Seo", outcome.Display.ResourceName)
	assert.Equal(t, "2025-03-05", outcome.Display.Date)
	assert.Equal(t, "10:00", outcome.Display.Time)

	action, err := env.store.GetPendingActionByID(context.Background(), *outcome.PendingActionID)
	require.NoError(t, err)
	payload, ok := action.Payload.(CreateBookingPayload)
	require.True(t, ok)
	assert.Equal(t, first.ID, payload.ResourceID)
	assert.Equal(t, BookingAppointment, payload.Kind)
}

func TestHandleIntentRoomAssignmentByDisplayOrder(t *testing.T) {
	env := newTestEnv()
	seedResource(env.store, KindRoom, "Treatment Room 2", 2)
	first := seedResource(env.store, KindRoom, "Treatment Room 1", 1)
	patient := seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))
	other := seedPatient(env.store, "Lee Ji-won", birthday(1975, 3, 10))
	// Room 1 busy at the window, so the assigner must fall through to room 2
	// only when room 1 conflicts. Here it is free later in the day.
	seedBooking(env.store, first.ID, other.ID, 540, 30, 0)
	_ = patient

	args := createAppointmentArgs()
	args["resource_kind"] = "room"
	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
	require.NoError(t, err)
	require.Equal(t, OutcomeProposed, outcome.Kind)
	assert.Equal(t, "Treatment Room 1", outcome.Display.ResourceName)
}

func TestHandleIntentSameNameCheck(t *testing.T) {
	env := newTestEnv()
	seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))

	args := createAppointmentArgs()
	delete(args, "birth_date")
	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSameNameCheck, outcome.Kind)
	assert.Nil(t, outcome.PendingActionID)
	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, "1980-01-01", outcome.Candidates[0].BirthDate)
}

func TestHandleIntentDisambiguation(t *testing.T) {
	env := newTestEnv()
	seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	seedPatient(env.store, "Lee Ji-won", birthday(1975, 3, 10))
	seedPatient(env.store, "Lee Ji-won", birthday(1992, 8, 22))

	args := createAppointmentArgs()
	args["patient_name"] = "Lee Ji-won"
	delete(args, "birth_date")
	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisambiguation, outcome.Kind)
	assert.Len(t, outcome.Candidates, 2)
}

// The patient dimension is checked before auto-assignment: a free doctor is
// no help if the patient is already booked elsewhere in the window.
func TestHandleIntentPatientConflictAtProposeTime(t *testing.T) {
	env := newTestEnv()
	busyDoc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	seedResource(env.store, KindDoctor, "Dr. Han", 2)
	patient := seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))
	seedBooking(env.store, busyDoc.ID, patient.ID, 600, 30, 0)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", createAppointmentArgs()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome.Kind)
	assert.Nil(t, outcome.PendingActionID)
}

func TestHandleIntentExplicitResourceConflictOffersAlternatives(t *testing.T) {
	env := newTestEnv()
	doc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	other := seedPatient(env.store, "Lee Ji-won", birthday(1975, 3, 10))
	seedBooking(env.store, doc.ID, other.ID, 600, 30, 0)

	args := createAppointmentArgs()
	args["resource_id"] = doc.ID.String()
	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", args))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome.Kind)
	assert.NotEmpty(t, outcome.Alternatives)
	assert.NotContains(t, outcome.Alternatives, "10:00")
}

func TestHandleIntentNoCapacity(t *testing.T) {
	env := newTestEnv()
	doc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	other := seedPatient(env.store, "Lee Ji-won", birthday(1975, 3, 10))
	seedBooking(env.store, doc.ID, other.ID, 600, 30, 0)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_appointment", createAppointmentArgs()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCapacity, outcome.Kind)
	assert.Nil(t, outcome.PendingActionID)
}

func TestHandleIntentTherapyDefaultsToTherapist(t *testing.T) {
	env := newTestEnv()
	seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	therapist := seedResource(env.store, KindTherapist, "Therapist A", 1)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("create_therapy", createAppointmentArgs()))
	require.NoError(t, err)
	require.Equal(t, OutcomeProposed, outcome.Kind)

	action, err := env.store.GetPendingActionByID(context.Background(), *outcome.PendingActionID)
	require.NoError(t, err)
	payload := action.Payload.(CreateBookingPayload)
	assert.Equal(t, therapist.ID, payload.ResourceID)
	assert.Equal(t, BookingTherapy, payload.Kind)
}

func TestHandleIntentModify(t *testing.T) {
	env := newTestEnv()
	doc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	patient := seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))
	b := seedBooking(env.store, doc.ID, patient.ID, 600, 30, 0)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("modify_appointment", map[string]any{
		"booking_id": b.ID.String(),
		"time":       "14:00",
	}))
	require.NoError(t, err)
	require.Equal(t, OutcomeProposed, outcome.Kind)
	assert.Equal(t, "14:00", outcome.Display.Time)

	action, err := env.store.GetPendingActionByID(context.Background(), *outcome.PendingActionID)
	require.NoError(t, err)
	payload := action.Payload.(ModifyBookingPayload)
	require.NotNil(t, payload.NewStartMin)
	assert.Equal(t, 840, *payload.NewStartMin)
	assert.Equal(t, b.Version, payload.ExpectedVersion)
}

func TestHandleIntentModifyRescheduleConflict(t *testing.T) {
	env := newTestEnv()
	doc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	patient := seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))
	other := seedPatient(env.store, "Lee Ji-won", birthday(1975, 3, 10))
	b := seedBooking(env.store, doc.ID, patient.ID, 600, 30, 0)
	seedBooking(env.store, doc.ID, other.ID, 840, 30, 0)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("modify_appointment", map[string]any{
		"booking_id": b.ID.String(),
		"time":       "14:00",
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome.Kind)
	assert.NotEmpty(t, outcome.Alternatives)
}

func TestHandleIntentCancel(t *testing.T) {
	env := newTestEnv()
	doc := seedResource(env.store, KindDoctor, "Dr. Seo", 1)
	patient := seedPatient(env.store, "Kim Min-su", birthday(1980, 1, 1))
	b := seedBooking(env.store, doc.ID, patient.ID, 600, 30, 0)

	outcome, err := env.gateway.HandleIntent(context.Background(), intentReq("cancel_appointment", map[string]any{
		"booking_id": b.ID.String(),
		"reason":     "patient request",
	}))
	require.NoError(t, err)
	require.Equal(t, OutcomeProposed, outcome.Kind)
	assert.Equal(t, "patient request", outcome.Display.Reason)

	// Nothing changes until the proposal is confirmed.
	current, err := env.store.GetBookingByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, BookingActive, current.Status)
}

func TestHandleIntentCancelUnknownBooking(t *testing.T) {
	env := newTestEnv()

	_, err := env.gateway.HandleIntent(context.Background(), intentReq("cancel_appointment", map[string]any{
		"booking_id": "0b3d7a52-6f7e-4e8e-9f59-0f6f4c9f0f6f",
	}))
	assert.ErrorIs(t, err, ErrBookingNotFound)
}
