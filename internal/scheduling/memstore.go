package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sortPatientsByCreation(patients []Patient) {
	sort.SliceStable(patients, func(i, j int) bool {
		return patients[i].CreatedAt.Before(patients[j].CreatedAt)
	})
}

func sortResourcesByOrder(resources []ResourceInstance) {
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].DisplayOrder < resources[j].DisplayOrder
	})
}

func sortBookingsByStart(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].StartMin < bookings[j].StartMin
	})
}

// MemStore is an in-memory Store for tests and local development. WithTx
// holds the store lock for the whole transaction, so transactions are
// serializable: concurrent committers observe each other's results exactly
// as they would under the Postgres row lock.
type MemStore struct {
	mu        sync.Mutex
	patients  map[uuid.UUID]Patient
	resources map[uuid.UUID]ResourceInstance
	bookings  map[uuid.UUID]Booking
	entries   map[uuid.UUID]ScheduleEntry
	actions   map[uuid.UUID]PendingAction
}

func NewMemStore() *MemStore {
	return &MemStore{
		patients:  make(map[uuid.UUID]Patient),
		resources: make(map[uuid.UUID]ResourceInstance),
		bookings:  make(map[uuid.UUID]Booking),
		entries:   make(map[uuid.UUID]ScheduleEntry),
		actions:   make(map[uuid.UUID]PendingAction),
	}
}

// AddResource registers a resource instance. Resources are reference data
// maintained outside the write pipeline, so this lives on MemStore rather
// than on the Store interface.
func (m *MemStore) AddResource(r ResourceInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *MemStore) CreatePatient(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPatient(p)
}

func (m *MemStore) createPatient(p *Patient) error {
	m.patients[p.ID] = *p
	return nil
}

func (m *MemStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPatient(id)
}

func (m *MemStore) getPatient(id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemStore) FindPatientsByName(ctx context.Context, name string) ([]Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findPatients(name), nil
}

func (m *MemStore) findPatients(name string) []Patient {
	var out []Patient
	for _, p := range m.patients {
		if equalFold(p.Name, name) {
			out = append(out, p)
		}
	}
	sortPatientsByCreation(out)
	return out
}

func (m *MemStore) GetResourceByID(ctx context.Context, id uuid.UUID) (*ResourceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getResource(id)
}

func (m *MemStore) getResource(id uuid.UUID) (*ResourceInstance, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return &r, nil
}

func (m *MemStore) ListActiveResources(ctx context.Context, kind ResourceKind) ([]ResourceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listResources(kind), nil
}

func (m *MemStore) listResources(kind ResourceKind) []ResourceInstance {
	var out []ResourceInstance
	for _, r := range m.resources {
		if r.Kind == kind && r.Active {
			out = append(out, r)
		}
	}
	sortResourcesByOrder(out)
	return out
}

func (m *MemStore) LockResource(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockResource(id)
}

func (m *MemStore) lockResource(id uuid.UUID) error {
	if _, ok := m.resources[id]; !ok {
		return ErrResourceNotFound
	}
	return nil
}

func (m *MemStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBooking(id)
}

func (m *MemStore) getBooking(id uuid.UUID) (*Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (m *MemStore) CreateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBooking(b)
}

func (m *MemStore) createBooking(b *Booking) error {
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemStore) UpdateBooking(ctx context.Context, b *Booking, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBooking(b, expectedVersion)
}

func (m *MemStore) updateBooking(b *Booking, expectedVersion int) error {
	stored, ok := m.bookings[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentModification
	}
	b.Version = expectedVersion + 1
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemStore) ListActiveBookingsByResourceDate(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBookings(func(b Booking) bool {
		return b.ResourceID == resourceID && SameDate(b.Date, date)
	}), nil
}

func (m *MemStore) ListActiveBookingsByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBookings(func(b Booking) bool {
		return b.PatientID == patientID && SameDate(b.Date, date)
	}), nil
}

func (m *MemStore) listBookings(match func(Booking) bool) []Booking {
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == BookingActive && match(b) {
			out = append(out, b)
		}
	}
	sortBookingsByStart(out)
	return out
}

func (m *MemStore) CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = *e
	return nil
}

func (m *MemStore) CancelPlannedEntries(ctx context.Context, bookingID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelEntries(bookingID), nil
}

func (m *MemStore) cancelEntries(bookingID uuid.UUID) int {
	n := 0
	for id, e := range m.entries {
		if e.BookingID == bookingID && e.Status == EntryPlanned {
			e.Status = EntryCancelled
			m.entries[id] = e
			n++
		}
	}
	return n
}

// EntriesForBooking returns the booking's schedule entries. Test helper.
func (m *MemStore) EntriesForBooking(bookingID uuid.UUID) []ScheduleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduleEntry
	for _, e := range m.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemStore) CreatePendingAction(ctx context.Context, a *PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.ID] = *a
	return nil
}

func (m *MemStore) GetPendingActionByID(ctx context.Context, id uuid.UUID) (*PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAction(id)
}

func (m *MemStore) getAction(id uuid.UUID) (*PendingAction, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrPendingActionNotFound
	}
	return &a, nil
}

func (m *MemStore) TransitionPendingAction(ctx context.Context, id uuid.UUID, from, to ActionStatus, resultRef *uuid.UUID) (*PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionAction(id, from, to, resultRef)
}

func (m *MemStore) transitionAction(id uuid.UUID, from, to ActionStatus, resultRef *uuid.UUID) (*PendingAction, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrPendingActionNotFound
	}
	if a.Status != from {
		return nil, ErrAlreadyProcessed
	}
	a.Status = to
	if resultRef != nil {
		a.ResultRef = resultRef
	}
	m.actions[id] = a
	return &a, nil
}

// WithTx serializes the whole transaction under the store lock and applies
// fn against an unlocked view. Rollback restores the pre-transaction maps.
func (m *MemStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	if err := fn(&txStore{s: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MemStore) clone() *MemStore {
	c := NewMemStore()
	for k, v := range m.patients {
		c.patients[k] = v
	}
	for k, v := range m.resources {
		c.resources[k] = v
	}
	for k, v := range m.bookings {
		c.bookings[k] = v
	}
	for k, v := range m.entries {
		c.entries[k] = v
	}
	for k, v := range m.actions {
		c.actions[k] = v
	}
	return c
}

func (m *MemStore) restore(snapshot *MemStore) {
	m.patients = snapshot.patients
	m.resources = snapshot.resources
	m.bookings = snapshot.bookings
	m.entries = snapshot.entries
	m.actions = snapshot.actions
}

// txStore is the view handed to WithTx callbacks: same data, no re-locking.
type txStore struct {
	s *MemStore
}

func (t *txStore) CreatePatient(ctx context.Context, p *Patient) error {
	return t.s.createPatient(p)
}

func (t *txStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return t.s.getPatient(id)
}

func (t *txStore) FindPatientsByName(ctx context.Context, name string) ([]Patient, error) {
	return t.s.findPatients(name), nil
}

func (t *txStore) GetResourceByID(ctx context.Context, id uuid.UUID) (*ResourceInstance, error) {
	return t.s.getResource(id)
}

func (t *txStore) ListActiveResources(ctx context.Context, kind ResourceKind) ([]ResourceInstance, error) {
	return t.s.listResources(kind), nil
}

func (t *txStore) LockResource(ctx context.Context, id uuid.UUID) error {
	return t.s.lockResource(id)
}

func (t *txStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return t.s.getBooking(id)
}

func (t *txStore) CreateBooking(ctx context.Context, b *Booking) error {
	return t.s.createBooking(b)
}

func (t *txStore) UpdateBooking(ctx context.Context, b *Booking, expectedVersion int) error {
	return t.s.updateBooking(b, expectedVersion)
}

func (t *txStore) ListActiveBookingsByResourceDate(ctx context.Context, resourceID uuid.UUID, date time.Time) ([]Booking, error) {
	return t.s.listBookings(func(b Booking) bool {
		return b.ResourceID == resourceID && SameDate(b.Date, date)
	}), nil
}

func (t *txStore) ListActiveBookingsByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]Booking, error) {
	return t.s.listBookings(func(b Booking) bool {
		return b.PatientID == patientID && SameDate(b.Date, date)
	}), nil
}

func (t *txStore) CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	t.s.entries[e.ID] = *e
	return nil
}

func (t *txStore) CancelPlannedEntries(ctx context.Context, bookingID uuid.UUID) (int, error) {
	return t.s.cancelEntries(bookingID), nil
}

func (t *txStore) CreatePendingAction(ctx context.Context, a *PendingAction) error {
	t.s.actions[a.ID] = *a
	return nil
}

func (t *txStore) GetPendingActionByID(ctx context.Context, id uuid.UUID) (*PendingAction, error) {
	return t.s.getAction(id)
}

func (t *txStore) TransitionPendingAction(ctx context.Context, id uuid.UUID, from, to ActionStatus, resultRef *uuid.UUID) (*PendingAction, error) {
	return t.s.transitionAction(id, from, to, resultRef)
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}
