package study

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	GetByCode(ctx context.Context, code string) (*Study, error)
	Update(ctx context.Context, s *Study) error
	List(ctx context.Context, limit, offset int) ([]*Study, int, error)
}
