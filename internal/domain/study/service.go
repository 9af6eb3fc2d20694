package study

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWriteGateClosed is returned when the study's write gate is closed.
// Callers must check the gate before invoking the quality engine.
type ErrWriteGateClosed struct {
	StudyID uuid.UUID
}

func (e *ErrWriteGateClosed) Error() string {
	return fmt.Sprintf("write access for study %s is disabled", e.StudyID)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, st *Study) error {
	if st.Code == "" {
		return fmt.Errorf("code is required")
	}
	if st.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Create(ctx, st)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Study, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, st *Study) error {
	return s.repo.Update(ctx, st)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Study, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// CheckWriteGate is the precondition evaluated before any clinical write.
// It returns ErrWriteGateClosed when submissions are disabled, so the
// quality engine is never invoked for a gated study.
func (s *Service) CheckWriteGate(ctx context.Context, studyID uuid.UUID) error {
	st, err := s.repo.GetByID(ctx, studyID)
	if err != nil {
		return fmt.Errorf("load study %s: %w", studyID, err)
	}
	if !st.WriteAllowed(time.Now().UTC()) {
		return &ErrWriteGateClosed{StudyID: studyID}
	}
	return nil
}
