package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GridConfig describes the operating-hours grid scanned for alternative
// slots.
type GridConfig struct {
	StartMin        int // inclusive, minutes from midnight
	EndMin          int // exclusive end of operations
	StepMin         int
	MaxAlternatives int
}

func DefaultGrid() GridConfig {
	return GridConfig{StartMin: 9 * 60, EndMin: 17 * 60, StepMin: 30, MaxAlternatives: 6}
}

// Window is a candidate occupancy to check: [StartMin, StartMin+DurationMin)
// extended by BufferMin for the effective interval.
type Window struct {
	Date        time.Time
	StartMin    int
	DurationMin int
	BufferMin   int
}

func (w Window) effectiveEnd() int {
	return w.StartMin + w.DurationMin + w.BufferMin
}

// ConflictCheck is the result of an overlap scan.
type ConflictCheck struct {
	HasConflict bool
	Conflicting []Booking
}

// ConflictDetector decides whether a candidate window overlaps existing
// active bookings. The buffer counts on both sides: a booking's buffer can
// never be absorbed by a neighbour's.
type ConflictDetector struct {
	store Store
	grid  GridConfig
}

func NewConflictDetector(store Store, grid GridConfig) *ConflictDetector {
	if grid.StepMin <= 0 {
		grid = DefaultGrid()
	}
	return &ConflictDetector{store: store, grid: grid}
}

// overlaps implements the symmetric-buffer interval test:
// newStart < otherEffectiveEnd AND otherStart < newEffectiveEnd.
func overlaps(w Window, b Booking) bool {
	return w.StartMin < b.EffectiveEnd() && b.StartMin < w.effectiveEnd()
}

// CheckResource scans active bookings on one resource for the date.
// excludeBookingID skips the booking being modified; pass uuid.Nil otherwise.
func (d *ConflictDetector) CheckResource(ctx context.Context, resourceID uuid.UUID, w Window, excludeBookingID uuid.UUID) (ConflictCheck, error) {
	existing, err := d.store.ListActiveBookingsByResourceDate(ctx, resourceID, NormalizeDate(w.Date))
	if err != nil {
		return ConflictCheck{}, fmt.Errorf("list bookings for resource: %w", err)
	}
	return scan(w, existing, excludeBookingID), nil
}

// CheckPatient scans the patient's own active bookings for the date,
// regardless of resource. A patient cannot be in two places at once.
func (d *ConflictDetector) CheckPatient(ctx context.Context, patientID uuid.UUID, w Window, excludeBookingID uuid.UUID) (ConflictCheck, error) {
	existing, err := d.store.ListActiveBookingsByPatientDate(ctx, patientID, NormalizeDate(w.Date))
	if err != nil {
		return ConflictCheck{}, fmt.Errorf("list bookings for patient: %w", err)
	}
	return scan(w, existing, excludeBookingID), nil
}

// CheckBooking runs the checks a booking kind requires. Appointments get two
// independent scans, the assigned doctor's calendar and the patient's own;
// either failing is a conflict. Therapy slots check the resource dimension
// plus the patient dimension the same way.
func (d *ConflictDetector) CheckBooking(ctx context.Context, resourceID, patientID uuid.UUID, w Window, excludeBookingID uuid.UUID) (ConflictCheck, error) {
	res, err := d.CheckResource(ctx, resourceID, w, excludeBookingID)
	if err != nil {
		return ConflictCheck{}, err
	}

	pat, err := d.CheckPatient(ctx, patientID, w, excludeBookingID)
	if err != nil {
		return ConflictCheck{}, err
	}

	merged := ConflictCheck{HasConflict: res.HasConflict || pat.HasConflict}
	merged.Conflicting = append(merged.Conflicting, res.Conflicting...)
	for _, b := range pat.Conflicting {
		if !containsBooking(merged.Conflicting, b.ID) {
			merged.Conflicting = append(merged.Conflicting, b)
		}
	}
	return merged, nil
}

// Alternatives scans the operating-hours grid for conflict-free start times
// on the same resource and date, chronologically, capped at
// grid.MaxAlternatives. Results are "HH:MM" strings ready for display.
func (d *ConflictDetector) Alternatives(ctx context.Context, resourceID uuid.UUID, w Window, excludeBookingID uuid.UUID) ([]string, error) {
	existing, err := d.store.ListActiveBookingsByResourceDate(ctx, resourceID, NormalizeDate(w.Date))
	if err != nil {
		return nil, fmt.Errorf("list bookings for resource: %w", err)
	}

	var out []string
	for start := d.grid.StartMin; start+w.DurationMin <= d.grid.EndMin; start += d.grid.StepMin {
		candidate := Window{
			Date:        w.Date,
			StartMin:    start,
			DurationMin: w.DurationMin,
			BufferMin:   w.BufferMin,
		}
		if scan(candidate, existing, excludeBookingID).HasConflict {
			continue
		}
		out = append(out, FormatClock(start))
		if len(out) >= d.grid.MaxAlternatives {
			break
		}
	}
	return out, nil
}

func scan(w Window, existing []Booking, excludeBookingID uuid.UUID) ConflictCheck {
	var check ConflictCheck
	for _, b := range existing {
		if b.ID == excludeBookingID {
			continue
		}
		if b.Status != BookingActive {
			continue
		}
		if overlaps(w, b) {
			check.HasConflict = true
			check.Conflicting = append(check.Conflicting, b)
		}
	}
	return check
}

func containsBooking(list []Booking, id uuid.UUID) bool {
	for _, b := range list {
		if b.ID == id {
			return true
		}
	}
	return false
}
