package subject

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Subject) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subject, error)
	GetByCode(ctx context.Context, studyID uuid.UUID, centerCode, patientCode string) (*Subject, error)
	Update(ctx context.Context, s *Subject) error
	Invalidate(ctx context.Context, id uuid.UUID) error
	ListByStudy(ctx context.Context, studyID uuid.UUID, limit, offset int) ([]*Subject, int, error)
	// Lock takes the subject's row lock for the duration of the enclosing
	// transaction, serializing concurrent writes to the same subject's
	// record stream so prior-value lookups stay consistent.
	Lock(ctx context.Context, id uuid.UUID) error
}
