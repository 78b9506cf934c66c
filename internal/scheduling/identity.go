package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careops/hospital-scheduling/pkg/logging"
)

type ResolutionStatus string

const (
	// Resolved carries a concrete patient.
	Resolved ResolutionStatus = "resolved"
	// SameNameCheck asks the caller to confirm identity or supply a birth
	// date: exactly one patient shares the name.
	SameNameCheck ResolutionStatus = "same_name_check"
	// Disambiguation lists the candidates sharing the name; the caller must
	// supply a birth date.
	Disambiguation ResolutionStatus = "disambiguation"
)

// Resolution is the outcome of identity resolution. Ambiguity is a
// first-class outcome here, never an error.
type Resolution struct {
	Status     ResolutionStatus
	Patient    *Patient  // set when Status == Resolved
	Candidates []Patient // set when Status == Disambiguation or SameNameCheck
}

// IdentityResolver maps a free-text patient name to a durable patient
// identity. Unknown names are auto-provisioned: the assistant front-end has
// no registration step, so a missing patient must not break the flow.
type IdentityResolver struct {
	store  Store
	logger *logging.Logger
}

func NewIdentityResolver(store Store, logger *logging.Logger) *IdentityResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &IdentityResolver{store: store, logger: logger}
}

// Resolve implements the same-name collision policy:
//
//   - no match: create a new patient
//   - one match + confirmedSameAs: use it
//   - one match + birth date: use it when the stored date matches,
//     otherwise create a distinct patient sharing the name
//   - one match, nothing else: SameNameCheck
//   - several matches + birth date: use the one it matches, or create
//   - several matches, no birth date: Disambiguation
//
// Resolving the same (name, birthDate) twice yields the same patient id:
// the date-match branches run before any create branch.
func (r *IdentityResolver) Resolve(ctx context.Context, name string, birthDate *time.Time, confirmedSameAs bool) (*Resolution, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("patient_name", "patient name is required")
	}

	matches, err := r.store.FindPatientsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find patients by name: %w", err)
	}

	switch len(matches) {
	case 0:
		return r.create(ctx, name, birthDate)

	case 1:
		existing := matches[0]
		if confirmedSameAs {
			return &Resolution{Status: Resolved, Patient: &existing}, nil
		}
		if birthDate != nil {
			if existing.BirthDate != nil && SameDate(*existing.BirthDate, *birthDate) {
				return &Resolution{Status: Resolved, Patient: &existing}, nil
			}
			// Same name, different person.
			return r.create(ctx, name, birthDate)
		}
		return &Resolution{Status: SameNameCheck, Candidates: matches}, nil

	default:
		if birthDate != nil {
			for i := range matches {
				if matches[i].BirthDate != nil && SameDate(*matches[i].BirthDate, *birthDate) {
					return &Resolution{Status: Resolved, Patient: &matches[i]}, nil
				}
			}
			return r.create(ctx, name, birthDate)
		}
		return &Resolution{Status: Disambiguation, Candidates: matches}, nil
	}
}

func (r *IdentityResolver) create(ctx context.Context, name string, birthDate *time.Time) (*Resolution, error) {
	now := time.Now().UTC()
	p := &Patient{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if birthDate != nil {
		bd := NormalizeDate(*birthDate)
		p.BirthDate = &bd
	}

	if err := r.store.CreatePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	r.logger.Info("patient auto-provisioned", "patient_id", p.ID, "has_birth_date", birthDate != nil)
	return &Resolution{Status: Resolved, Patient: p}, nil
}
