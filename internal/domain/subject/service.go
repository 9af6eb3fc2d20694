package subject

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Patient codes are pseudonymous identifiers assigned by the center; a
// free-form code could smuggle in a real identifier, so the shape is
// restricted.
var patientCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, sub *Subject) error {
	if sub.StudyID == uuid.Nil {
		return fmt.Errorf("study_id is required")
	}
	if sub.CenterCode == "" {
		return fmt.Errorf("center_code is required")
	}
	if !patientCodePattern.MatchString(sub.PatientCode) {
		return fmt.Errorf("patient_code must be a pseudonymous code (letters, digits, - or _)")
	}
	if sub.Sex != "" && sub.Sex != "F" && sub.Sex != "M" {
		return fmt.Errorf("sex must be F or M")
	}
	return s.repo.Create(ctx, sub)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, sub *Subject) error {
	if sub.Sex != "" && sub.Sex != "F" && sub.Sex != "M" {
		return fmt.Errorf("sex must be F or M")
	}
	return s.repo.Update(ctx, sub)
}

// Invalidate soft-deletes: the row stays referencable by issues and audit
// entries.
func (s *Service) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.repo.Invalidate(ctx, id)
}

func (s *Service) ListByStudy(ctx context.Context, studyID uuid.UUID, limit, offset int) ([]*Subject, int, error) {
	return s.repo.ListByStudy(ctx, studyID, limit, offset)
}
