package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careops/hospital-scheduling/internal/scheduling"
)

func intentHandler(gateway *scheduling.IntentGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduling.IntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		outcome, err := gateway.HandleIntent(r.Context(), req)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		status := http.StatusOK
		switch outcome.Kind {
		case scheduling.OutcomeProposed:
			status = http.StatusCreated
		case scheduling.OutcomeConflict:
			status = http.StatusConflict
		}
		writeJSON(w, status, outcome)
	}
}

func confirmActionHandler(ledger *scheduling.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actorID, ok := actionRequest(w, r)
		if !ok {
			return
		}

		action, err := ledger.Confirm(r.Context(), id, actorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPendingActionResponse(action))
	}
}

func rejectActionHandler(ledger *scheduling.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actorID, ok := actionRequest(w, r)
		if !ok {
			return
		}

		action, err := ledger.Reject(r.Context(), id, actorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPendingActionResponse(action))
	}
}

func getActionHandler(ledger *scheduling.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_action_id", "id must be a valid UUID")
			return
		}

		action, err := ledger.Get(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPendingActionResponse(action))
	}
}

func listBookingsHandler(store scheduling.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dateStr := r.URL.Query().Get("date")
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		date = scheduling.NormalizeDate(date)

		var bookings []scheduling.Booking
		switch {
		case r.URL.Query().Get("resource_id") != "":
			resourceID, err := uuid.Parse(r.URL.Query().Get("resource_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
				return
			}
			bookings, err = store.ListActiveBookingsByResourceDate(r.Context(), resourceID, date)
			if err != nil {
				handleSchedulingError(w, err)
				return
			}
		case r.URL.Query().Get("patient_id") != "":
			patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			bookings, err = store.ListActiveBookingsByPatientDate(r.Context(), patientID, date)
			if err != nil {
				handleSchedulingError(w, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "resource_id or patient_id is required")
			return
		}

		out := make([]BookingResponse, 0, len(bookings))
		for _, b := range bookings {
			out = append(out, toBookingResponse(b))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getBookingHandler(store scheduling.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		booking, err := store.GetBookingByID(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(*booking))
	}
}

func searchPatientsHandler(store scheduling.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			writeError(w, http.StatusBadRequest, "missing_name", "name is required")
			return
		}

		patients, err := store.FindPatientsByName(r.Context(), name)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		out := make([]PatientResponse, 0, len(patients))
		for _, p := range patients {
			resp := PatientResponse{ID: p.ID, Name: p.Name}
			if p.BirthDate != nil {
				resp.BirthDate = scheduling.DateKey(*p.BirthDate)
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func actionRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_action_id", "id must be a valid UUID")
		return uuid.Nil, "", false
	}

	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return uuid.Nil, "", false
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "missing_actor_id", "actor_id is required")
		return uuid.Nil, "", false
	}
	return id, req.ActorID, true
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	var validation *scheduling.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_failed",
			Fields: validation.Fields,
		})
		return
	}

	var conflict *scheduling.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        "booking_conflict",
			Details:      conflict.Error(),
			Alternatives: conflict.Alternatives,
		})
		return
	}

	switch {
	case scheduling.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrPermissionDenied):
		// Fixed, detail-free denial.
		writeError(w, http.StatusForbidden, "permission_denied", "not allowed")
	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, "already_processed", err.Error())
	case errors.Is(err, scheduling.ErrExpiredAction):
		writeError(w, http.StatusGone, "action_expired", err.Error())
	case errors.Is(err, scheduling.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, scheduling.ErrNoCapacity):
		writeError(w, http.StatusConflict, "no_capacity", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
