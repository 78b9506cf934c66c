package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careops/hospital-scheduling/internal/observability/metrics"
	"github.com/careops/hospital-scheduling/pkg/logging"
)

// PermissionChecker is the policy-engine collaborator. It runs before any
// resolution work; a negative answer short-circuits with a fixed message.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actorID, resourceCategory, action string) (bool, error)
}

// PermitAll is the stand-in used when no policy engine is wired.
type PermitAll struct{}

func (PermitAll) HasPermission(context.Context, string, string, string) (bool, error) {
	return true, nil
}

// IntentRequest is the untrusted input from the natural-language front-end.
// Nothing about the shape or presence of Args may be assumed.
type IntentRequest struct {
	ActionType      string         `json:"action_type"`
	Args            map[string]any `json:"args"`
	ActorID         string         `json:"actor_id"`
	ConversationRef string         `json:"conversation_ref"`
}

type OutcomeKind string

const (
	OutcomeProposed       OutcomeKind = "proposed"
	OutcomeSameNameCheck  OutcomeKind = "same_name_check"
	OutcomeDisambiguation OutcomeKind = "disambiguation"
	OutcomeConflict       OutcomeKind = "conflict"
	OutcomeNoCapacity     OutcomeKind = "no_capacity"
)

type PatientSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BirthDate string    `json:"birth_date,omitempty"`
}

// IntentOutcome is what the gateway owes the caller: either a staged
// proposal or a request for another round of input. Ambiguity and conflict
// are outcomes here, not errors.
type IntentOutcome struct {
	Kind            OutcomeKind      `json:"kind"`
	PendingActionID *uuid.UUID       `json:"pending_action_id,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	Display         DisplayData      `json:"display"`
	Candidates      []PatientSummary `json:"candidates,omitempty"`
	Alternatives    []string         `json:"alternatives,omitempty"`
}

// IntentGateway fronts the write pipeline: validate the untrusted intent,
// check permission, resolve identity, check conflicts or auto-assign, then
// stage the action in the ledger.
type IntentGateway struct {
	store       Store
	resolver    *IdentityResolver
	detector    *ConflictDetector
	assigner    *AutoAssigner
	ledger      *Ledger
	permissions PermissionChecker
	validate    *validator.Validate
	logger      *logging.Logger
	metrics     *metrics.SchedulingMetrics
}

func NewIntentGateway(store Store, resolver *IdentityResolver, detector *ConflictDetector, assigner *AutoAssigner, ledger *Ledger, permissions PermissionChecker, logger *logging.Logger, m *metrics.SchedulingMetrics) *IntentGateway {
	if permissions == nil {
		permissions = PermitAll{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IntentGateway{
		store:       store,
		resolver:    resolver,
		detector:    detector,
		assigner:    assigner,
		ledger:      ledger,
		permissions: permissions,
		validate:    validator.New(),
		logger:      logger,
		metrics:     m,
	}
}

type createArgs struct {
	PatientName     string `json:"patient_name" validate:"required,min=1,max=120"`
	BirthDate       string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	ConfirmedSameAs bool   `json:"confirmed_same_as"`
	ResourceID      string `json:"resource_id" validate:"omitempty,uuid4"`
	ResourceKind    string `json:"resource_kind" validate:"omitempty,oneof=doctor room therapist"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string `json:"time" validate:"required"`
	DurationMin     int    `json:"duration_min" validate:"required,gt=0,lte=480"`
	BufferMin       int    `json:"buffer_min" validate:"gte=0,lte=120"`
}

type modifyArgs struct {
	BookingID   string  `json:"booking_id" validate:"required,uuid4"`
	ResourceID  *string `json:"resource_id" validate:"omitempty,uuid4"`
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time        *string `json:"time"`
	DurationMin *int    `json:"duration_min" validate:"omitempty,gt=0,lte=480"`
	BufferMin   *int    `json:"buffer_min" validate:"omitempty,gte=0,lte=120"`
	Note        *string `json:"note" validate:"omitempty,max=500"`
}

type cancelArgs struct {
	BookingID string `json:"booking_id" validate:"required,uuid4"`
	Reason    string `json:"reason" validate:"omitempty,max=500"`
}

// HandleIntent runs the full propose path for one intent.
func (g *IntentGateway) HandleIntent(ctx context.Context, req IntentRequest) (*IntentOutcome, error) {
	if req.ActorID == "" {
		return nil, NewValidationError("actor_id", "actor id is required")
	}
	actionType := ActionType(req.ActionType)
	if !actionType.Valid() {
		return nil, NewValidationError("action_type", fmt.Sprintf("unknown action type %q", req.ActionType))
	}

	category := string(actionType.BookingKind())
	verb := actionVerb(actionType)
	allowed, err := g.permissions.HasPermission(ctx, req.ActorID, category, verb)
	if err != nil {
		return nil, fmt.Errorf("permission check: %w", err)
	}
	if !allowed {
		g.logger.Info("intent denied", "actor_id", req.ActorID, "action_type", actionType)
		return nil, ErrPermissionDenied
	}

	switch verb {
	case "create":
		return g.handleCreate(ctx, req, actionType)
	case "modify":
		return g.handleModify(ctx, req, actionType)
	default:
		return g.handleCancel(ctx, req, actionType)
	}
}

func (g *IntentGateway) handleCreate(ctx context.Context, req IntentRequest, actionType ActionType) (*IntentOutcome, error) {
	var args createArgs
	if err := g.decodeArgs(req.Args, &args); err != nil {
		return nil, err
	}

	startMin, err := ParseClock(args.Time)
	if err != nil {
		return nil, NewValidationError("time", err.Error())
	}
	date, _ := time.Parse("2006-01-02", args.Date)
	date = NormalizeDate(date)

	var birthDate *time.Time
	if args.BirthDate != "" {
		bd, _ := time.Parse("2006-01-02", args.BirthDate)
		bd = NormalizeDate(bd)
		birthDate = &bd
	}

	resolution, err := g.resolver.Resolve(ctx, args.PatientName, birthDate, args.ConfirmedSameAs)
	if err != nil {
		return nil, err
	}
	switch resolution.Status {
	case SameNameCheck:
		return &IntentOutcome{
			Kind: OutcomeSameNameCheck,
			Display: DisplayData{
				ActionLabel: actionLabel(actionType),
				PatientName: args.PatientName,
				Reason:      "a patient with this name already exists; confirm identity or provide a birth date",
			},
			Candidates: summarize(resolution.Candidates),
		}, nil
	case Disambiguation:
		return &IntentOutcome{
			Kind: OutcomeDisambiguation,
			Display: DisplayData{
				ActionLabel: actionLabel(actionType),
				PatientName: args.PatientName,
				Reason:      "several patients share this name; provide a birth date",
			},
			Candidates: summarize(resolution.Candidates),
		}, nil
	}
	patient := resolution.Patient

	w := Window{Date: date, StartMin: startMin, DurationMin: args.DurationMin, BufferMin: args.BufferMin}
	bookingKind := actionType.BookingKind()

	var resource *ResourceInstance
	if args.ResourceID != "" {
		id, _ := uuid.Parse(args.ResourceID)
		resource, err = g.store.GetResourceByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !resource.Active {
			return nil, NewValidationError("resource_id", "resource is not active")
		}
		check, err := g.detector.CheckBooking(ctx, resource.ID, patient.ID, w, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if check.HasConflict {
			return g.conflictOutcome(ctx, actionType, patient, resource, w, check)
		}
	} else {
		kind := defaultResourceKind(bookingKind)
		if args.ResourceKind != "" {
			kind = ResourceKind(args.ResourceKind)
		}
		// The patient dimension is not covered by auto-assignment, check it
		// up front.
		patCheck, err := g.detector.CheckPatient(ctx, patient.ID, w, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if patCheck.HasConflict {
			return g.conflictOutcome(ctx, actionType, patient, nil, w, patCheck)
		}
		resource, err = g.assigner.Assign(ctx, kind, w)
		if err != nil {
			if err == ErrNoCapacity {
				g.metrics.ObserveConflict()
				return &IntentOutcome{
					Kind: OutcomeNoCapacity,
					Display: DisplayData{
						ActionLabel: actionLabel(actionType),
						PatientName: patient.Name,
						Date:        DateKey(date),
						Time:        FormatClock(startMin),
						Reason:      fmt.Sprintf("no %s available for the requested window", kind),
					},
				}, nil
			}
			return nil, err
		}
	}

	payload := CreateBookingPayload{
		Kind:        bookingKind,
		ResourceID:  resource.ID,
		PatientID:   patient.ID,
		Date:        date,
		StartMin:    startMin,
		DurationMin: args.DurationMin,
		BufferMin:   args.BufferMin,
	}
	display := DisplayData{
		ActionLabel:  actionLabel(actionType),
		PatientName:  patient.Name,
		ResourceName: resource.Name,
		Date:         DateKey(date),
		Time:         FormatClock(startMin),
	}

	return g.propose(ctx, req, actionType, payload, display)
}

func (g *IntentGateway) handleModify(ctx context.Context, req IntentRequest, actionType ActionType) (*IntentOutcome, error) {
	var args modifyArgs
	if err := g.decodeArgs(req.Args, &args); err != nil {
		return nil, err
	}

	bookingID, _ := uuid.Parse(args.BookingID)
	booking, err := g.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	payload := ModifyBookingPayload{
		BookingID:       booking.ID,
		ExpectedVersion: booking.Version,
	}
	if args.ResourceID != nil {
		id, _ := uuid.Parse(*args.ResourceID)
		payload.NewResourceID = &id
	}
	if args.Date != nil {
		d, _ := time.Parse("2006-01-02", *args.Date)
		d = NormalizeDate(d)
		payload.NewDate = &d
	}
	if args.Time != nil {
		startMin, err := ParseClock(*args.Time)
		if err != nil {
			return nil, NewValidationError("time", err.Error())
		}
		payload.NewStartMin = &startMin
	}
	payload.NewDurationMin = args.DurationMin
	payload.NewBufferMin = args.BufferMin
	payload.NewNote = args.Note

	// Propose-time conflict check for anything touching the schedule.
	if payload.Reschedules() {
		resourceID := booking.ResourceID
		if payload.NewResourceID != nil {
			resourceID = *payload.NewResourceID
		}
		w := Window{Date: booking.Date, StartMin: booking.StartMin, DurationMin: booking.DurationMin, BufferMin: booking.BufferMin}
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
		check, err := g.detector.CheckBooking(ctx, resourceID, booking.PatientID, w, booking.ID)
		if err != nil {
			return nil, err
		}
		if check.HasConflict {
			resource, _ := g.store.GetResourceByID(ctx, resourceID)
			patient, _ := g.store.GetPatientByID(ctx, booking.PatientID)
			return g.conflictOutcome(ctx, actionType, patient, resource, w, check)
		}
	}

	patient, err := g.store.GetPatientByID(ctx, booking.PatientID)
	if err != nil {
		return nil, err
	}
	resource, err := g.store.GetResourceByID(ctx, booking.ResourceID)
	if err != nil {
		return nil, err
	}
	display := DisplayData{
		ActionLabel:  actionLabel(actionType),
		PatientName:  patient.Name,
		ResourceName: resource.Name,
		Date:         DateKey(booking.Date),
		Time:         FormatClock(booking.StartMin),
	}
	if payload.NewDate != nil {
		display.Date = DateKey(*payload.NewDate)
	}
	if payload.NewStartMin != nil {
		display.Time = FormatClock(*payload.NewStartMin)
	}

	return g.propose(ctx, req, actionType, payload, display)
}

func (g *IntentGateway) handleCancel(ctx context.Context, req IntentRequest, actionType ActionType) (*IntentOutcome, error) {
	var args cancelArgs
	if err := g.decodeArgs(req.Args, &args); err != nil {
		return nil, err
	}

	bookingID, _ := uuid.Parse(args.BookingID)
	booking, err := g.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	patient, err := g.store.GetPatientByID(ctx, booking.PatientID)
	if err != nil {
		return nil, err
	}
	resource, err := g.store.GetResourceByID(ctx, booking.ResourceID)
	if err != nil {
		return nil, err
	}

	payload := CancelBookingPayload{BookingID: booking.ID, Reason: args.Reason}
	display := DisplayData{
		ActionLabel:  actionLabel(actionType),
		PatientName:  patient.Name,
		ResourceName: resource.Name,
		Date:         DateKey(booking.Date),
		Time:         FormatClock(booking.StartMin),
		Reason:       args.Reason,
	}

	return g.propose(ctx, req, actionType, payload, display)
}

func (g *IntentGateway) propose(ctx context.Context, req IntentRequest, actionType ActionType, payload ActionPayload, display DisplayData) (*IntentOutcome, error) {
	action, err := g.ledger.Propose(ctx, ProposeInput{
		SessionRef: req.ConversationRef,
		ActionType: actionType,
		Payload:    payload,
		Display:    display,
		CreatedBy:  req.ActorID,
	})
	if err != nil {
		return nil, err
	}

	return &IntentOutcome{
		Kind:            OutcomeProposed,
		PendingActionID: &action.ID,
		ExpiresAt:       &action.ExpiresAt,
		Display:         action.Display,
	}, nil
}

func (g *IntentGateway) conflictOutcome(ctx context.Context, actionType ActionType, patient *Patient, resource *ResourceInstance, w Window, check ConflictCheck) (*IntentOutcome, error) {
	g.metrics.ObserveConflict()

	outcome := &IntentOutcome{
		Kind: OutcomeConflict,
		Display: DisplayData{
			ActionLabel: actionLabel(actionType),
			Date:        DateKey(w.Date),
			Time:        FormatClock(w.StartMin),
			Reason:      fmt.Sprintf("conflicts with %d existing booking(s)", len(check.Conflicting)),
		},
	}
	if patient != nil {
		outcome.Display.PatientName = patient.Name
	}
	if resource != nil {
		outcome.Display.ResourceName = resource.Name
		alts, err := g.detector.Alternatives(ctx, resource.ID, w, uuid.Nil)
		if err != nil {
			g.logger.Warn("failed to compute alternatives", "error", err)
		} else {
			outcome.Alternatives = alts
		}
	}
	return outcome, nil
}

// decodeArgs round-trips the untrusted arg map through JSON into a typed
// struct and validates it. Wrong types and missing fields both surface as
// ValidationError.
func (g *IntentGateway) decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return NewValidationError("args", "arguments are not serializable")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewValidationError("args", fmt.Sprintf("malformed arguments: %v", err))
	}
	if err := g.validate.Struct(dst); err != nil {
		return &ValidationError{Fields: formatValidationErrors(err)}
	}
	return nil
}

func formatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			field := e.Field()
			switch e.Tag() {
			case "required":
				fields[field] = field + " is required"
			case "datetime":
				fields[field] = field + " must be a date in YYYY-MM-DD form"
			case "uuid4":
				fields[field] = field + " must be a valid UUID"
			case "oneof":
				fields[field] = field + " must be one of " + e.Param()
			case "gt", "gte":
				fields[field] = field + " must be at least " + e.Param()
			case "lt", "lte":
				fields[field] = field + " must be at most " + e.Param()
			case "min":
				fields[field] = field + " must be at least " + e.Param() + " characters"
			case "max":
				fields[field] = field + " must be at most " + e.Param() + " characters"
			default:
				fields[field] = field + " is invalid"
			}
		}
	} else {
		fields["args"] = "arguments are invalid"
	}
	return fields
}

func actionVerb(t ActionType) string {
	switch t {
	case ActionCreateAppointment, ActionCreateTherapy:
		return "create"
	case ActionModifyAppointment, ActionModifyTherapy:
		return "modify"
	default:
		return "cancel"
	}
}

func actionLabel(t ActionType) string {
	switch t {
	case ActionCreateAppointment:
		return "Book appointment"
	case ActionModifyAppointment:
		return "Reschedule appointment"
	case ActionCancelAppointment:
		return "Cancel appointment"
	case ActionCreateTherapy:
		return "Book therapy session"
	case ActionModifyTherapy:
		return "Reschedule therapy session"
	case ActionCancelTherapy:
		return "Cancel therapy session"
	default:
		return string(t)
	}
}

func defaultResourceKind(kind BookingKind) ResourceKind {
	if kind == BookingTherapy {
		return KindTherapist
	}
	return KindDoctor
}

func summarize(patients []Patient) []PatientSummary {
	out := make([]PatientSummary, 0, len(patients))
	for _, p := range patients {
		s := PatientSummary{ID: p.ID, Name: p.Name}
		if p.BirthDate != nil {
			s.BirthDate = DateKey(*p.BirthDate)
		}
		out = append(out, s)
	}
	return out
}
