package study

import (
	"time"

	"github.com/google/uuid"
)

// Study is one research protocol enrolling subjects across centers. The
// write-gate fields control whether new clinical data may be submitted:
// a disabled or expired study short-circuits before the quality engine
// ever runs.
type Study struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Code           string     `db:"code" json:"code"`
	Name           string     `db:"name" json:"name"`
	WriteEnabled   bool       `db:"write_enabled" json:"write_enabled"`
	TrialExpiresAt *time.Time `db:"trial_expires_at" json:"trial_expires_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// WriteAllowed reports whether the gate is open at the given instant.
func (s *Study) WriteAllowed(now time.Time) bool {
	if !s.WriteEnabled {
		return false
	}
	if s.TrialExpiresAt != nil && now.After(*s.TrialExpiresAt) {
		return false
	}
	return true
}
