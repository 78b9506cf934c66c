package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careops/hospital-scheduling/internal/scheduling"
)

type ActorRequest struct {
	ActorID string `json:"actor_id"`
}

type PendingActionResponse struct {
	ID         uuid.UUID              `json:"id"`
	ActionType string                 `json:"action_type"`
	Status     string                 `json:"status"`
	Display    scheduling.DisplayData `json:"display"`
	CreatedBy  string                 `json:"created_by"`
	ExpiresAt  time.Time              `json:"expires_at"`
	ResultRef  *uuid.UUID             `json:"result_ref,omitempty"`
}

func toPendingActionResponse(a *scheduling.PendingAction) PendingActionResponse {
	return PendingActionResponse{
		ID:         a.ID,
		ActionType: string(a.ActionType),
		Status:     string(a.Status),
		Display:    a.Display,
		CreatedBy:  a.CreatedBy,
		ExpiresAt:  a.ExpiresAt,
		ResultRef:  a.ResultRef,
	}
}

type BookingResponse struct {
	ID          uuid.UUID `json:"id"`
	ResourceID  uuid.UUID `json:"resource_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Kind        string    `json:"kind"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	DurationMin int       `json:"duration_min"`
	BufferMin   int       `json:"buffer_min"`
	Status      string    `json:"status"`
	Version     int       `json:"version"`
}

func toBookingResponse(b scheduling.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		ResourceID:  b.ResourceID,
		PatientID:   b.PatientID,
		Kind:        string(b.Kind),
		Date:        scheduling.DateKey(b.Date),
		Time:        scheduling.FormatClock(b.StartMin),
		DurationMin: b.DurationMin,
		BufferMin:   b.BufferMin,
		Status:      string(b.Status),
		Version:     b.Version,
	}
}

type PatientResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BirthDate string    `json:"birth_date,omitempty"`
}

type ErrorResponse struct {
	Error        string            `json:"error"`
	Details      string            `json:"details,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"`
}
