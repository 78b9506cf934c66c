package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDate() time.Time {
	return time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
}

func birthday(year, month, day int) *time.Time {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &d
}

func seedResource(store *MemStore, kind ResourceKind, name string, order int) ResourceInstance {
	r := ResourceInstance{
		ID:           uuid.New(),
		Kind:         kind,
		Name:         name,
		DisplayOrder: order,
		Active:       true,
	}
	store.resources[r.ID] = r
	return r
}

func seedInactiveResource(store *MemStore, kind ResourceKind, name string, order int) ResourceInstance {
	r := seedResource(store, kind, name, order)
	r.Active = false
	store.resources[r.ID] = r
	return r
}

func seedPatient(store *MemStore, name string, birthDate *time.Time) Patient {
	p := Patient{
		ID:        uuid.New(),
		Name:      name,
		BirthDate: birthDate,
		CreatedAt: time.Now().UTC(),
	}
	store.patients[p.ID] = p
	return p
}

func seedBooking(store *MemStore, resourceID, patientID uuid.UUID, startMin, durationMin, bufferMin int) Booking {
	b := Booking{
		ID:          uuid.New(),
		ResourceID:  resourceID,
		PatientID:   patientID,
		Kind:        BookingAppointment,
		Date:        testDate(),
		StartMin:    startMin,
		DurationMin: durationMin,
		BufferMin:   bufferMin,
		Status:      BookingActive,
	}
	store.bookings[b.ID] = b
	return b
}

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []BookingEvent
	kinds  []ResourceKind
}

func (n *recordingNotifier) BookingCommitted(_ context.Context, kind ResourceKind, ev BookingEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) published() []BookingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]BookingEvent(nil), n.events...)
}

type testEnv struct {
	store    *MemStore
	detector *ConflictDetector
	assigner *AutoAssigner
	resolver *IdentityResolver
	executor *CommitExecutor
	notifier *recordingNotifier
	ledger   *Ledger
	gateway  *IntentGateway
}

func newTestEnv() *testEnv {
	store := NewMemStore()
	grid := DefaultGrid()
	detector := NewConflictDetector(store, grid)
	resolver := NewIdentityResolver(store, nil)
	assigner := NewAutoAssigner(store, detector)
	executor := NewCommitExecutor(grid)
	notifier := &recordingNotifier{}
	ledger := NewLedger(store, detector, executor, notifier, nil, nil, 10*time.Minute)
	gateway := NewIntentGateway(store, resolver, detector, assigner, ledger, PermitAll{}, nil, nil)
	return &testEnv{
		store:    store,
		detector: detector,
		assigner: assigner,
		resolver: resolver,
		executor: executor,
		notifier: notifier,
		ledger:   ledger,
		gateway:  gateway,
	}
}

func (e *testEnv) proposeCreate(t *testing.T, resourceID, patientID uuid.UUID, startMin, durationMin, bufferMin int, actor string) *PendingAction {
	t.Helper()
	action, err := e.ledger.Propose(context.Background(), ProposeInput{
		ActionType: ActionCreateAppointment,
		Payload: CreateBookingPayload{
			Kind:        BookingAppointment,
			ResourceID:  resourceID,
			PatientID:   patientID,
			Date:        testDate(),
			StartMin:    startMin,
			DurationMin: durationMin,
			BufferMin:   bufferMin,
		},
		Display:   DisplayData{ActionLabel: "Book appointment"},
		CreatedBy: actor,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	return action
}
