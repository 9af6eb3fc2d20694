package issue

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage contract of the issue ledger. RaiseOrUpdate
// must be backed by a uniqueness constraint scoped to non-terminal
// statuses at the storage layer, because raise and resolve can race from
// different write paths.
type Repository interface {
	// RaiseOrUpdate inserts a new OPEN issue for the key, or updates the
	// message and severity of the existing non-terminal one in place.
	RaiseOrUpdate(ctx context.Context, iss *Issue) error
	// FindOpen returns the non-terminal issue for the key, or nil.
	FindOpen(ctx context.Context, key DedupKey) (*Issue, error)
	// Resolve transitions the non-terminal issue for the key to RESOLVED
	// with the given note. Reports whether an issue was transitioned.
	Resolve(ctx context.Context, key DedupKey, note string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Issue, error)
	// UpdateStatus sets status, resolution note and resolved-at on one
	// issue row. Transition legality is the service's concern.
	UpdateStatus(ctx context.Context, iss *Issue) error
	ListBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Issue, int, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID, status string, limit, offset int) ([]*Issue, int, error)
	CountOpenBySeverity(ctx context.Context, studyID uuid.UUID) ([]SeverityCount, error)
	// CountTotals returns (raised, closed) counts for the closure-rate
	// projection; closed covers both terminal statuses.
	CountTotals(ctx context.Context, studyID uuid.UUID) (int, int, error)
	// MissingCoreRate is the share of the study's lab panels with an open
	// issue for the given completeness rule.
	MissingCoreRate(ctx context.Context, studyID uuid.UUID, ruleCode string) (float64, error)
}
