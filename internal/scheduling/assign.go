package scheduling

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// AutoAssigner picks a concrete resource instance when the caller did not
// specify one. Fixed-capacity pools (rooms, doctors) are walked in declared
// display order; fungible pools (therapists) least-loaded first so the
// day's work spreads evenly.
type AutoAssigner struct {
	store    Store
	detector *ConflictDetector
}

func NewAutoAssigner(store Store, detector *ConflictDetector) *AutoAssigner {
	return &AutoAssigner{store: store, detector: detector}
}

// Assign returns the first active instance of kind whose calendar is free
// for the window, or ErrNoCapacity when every instance conflicts. Callers
// treat ErrNoCapacity as a normal outcome, not a failure.
func (a *AutoAssigner) Assign(ctx context.Context, kind ResourceKind, w Window) (*ResourceInstance, error) {
	instances, err := a.store.ListActiveResources(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list active resources: %w", err)
	}
	if len(instances) == 0 {
		return nil, ErrNoCapacity
	}

	if kind == KindTherapist {
		if err := a.sortByLoad(ctx, instances, w); err != nil {
			return nil, err
		}
	} else {
		sort.SliceStable(instances, func(i, j int) bool {
			return instances[i].DisplayOrder < instances[j].DisplayOrder
		})
	}

	for i := range instances {
		check, err := a.detector.CheckResource(ctx, instances[i].ID, w, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if !check.HasConflict {
			return &instances[i], nil
		}
	}

	return nil, ErrNoCapacity
}

// sortByLoad orders therapists by ascending same-day active booking count,
// ties broken by display order.
func (a *AutoAssigner) sortByLoad(ctx context.Context, instances []ResourceInstance, w Window) error {
	load := make(map[uuid.UUID]int, len(instances))
	for _, inst := range instances {
		bookings, err := a.store.ListActiveBookingsByResourceDate(ctx, inst.ID, NormalizeDate(w.Date))
		if err != nil {
			return fmt.Errorf("count bookings for %s: %w", inst.ID, err)
		}
		load[inst.ID] = len(bookings)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		li, lj := load[instances[i].ID], load[instances[j].ID]
		if li != lj {
			return li < lj
		}
		return instances[i].DisplayOrder < instances[j].DisplayOrder
	})
	return nil
}
