package issue

import (
	"time"

	"github.com/google/uuid"
)

// Issue statuses. OPEN and IN_PROGRESS are the non-terminal subset over
// which the dedup-key uniqueness invariant holds; RESOLVED and WONT_FIX
// are terminal for that occurrence.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusWontFix    = "wont_fix"
)

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusResolved || status == StatusWontFix
}

// DedupKey identifies "the same underlying problem": at most one
// non-terminal issue may exist per key.
type DedupKey struct {
	StudyID    uuid.UUID
	SubjectID  uuid.UUID
	RecordType string
	RecordID   uuid.UUID
	RuleCode   string
}

// Issue is a durable, deduplicated record of a non-blocking problem found
// by the validator set, with a resolution lifecycle of its own.
type Issue struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	StudyID        uuid.UUID  `db:"study_id" json:"study_id"`
	SubjectID      uuid.UUID  `db:"subject_id" json:"subject_id"`
	RecordType     string     `db:"record_type" json:"record_type"`
	RecordID       uuid.UUID  `db:"record_id" json:"record_id"`
	RuleCode       string     `db:"rule_code" json:"rule_code"`
	Severity       string     `db:"severity" json:"severity"`
	Status         string     `db:"status" json:"status"`
	Message        string     `db:"message" json:"message"`
	ResolutionNote *string    `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Key returns the issue's dedup key.
func (i *Issue) Key() DedupKey {
	return DedupKey{
		StudyID:    i.StudyID,
		SubjectID:  i.SubjectID,
		RecordType: i.RecordType,
		RecordID:   i.RecordID,
		RuleCode:   i.RuleCode,
	}
}

// SeverityCount is one row of the open-issue breakdown projection.
type SeverityCount struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// StudyStats is the read-only projection the snapshot/versioning component
// stamps into exported metadata.
type StudyStats struct {
	OpenBySeverity []SeverityCount `json:"open_by_severity"`
	TotalRaised    int             `json:"total_raised"`
	TotalClosed    int             `json:"total_closed"`
	ClosureRate    float64         `json:"closure_rate"`
	// MissingCoreRate is the share of the study's lab panels with an open
	// core-completeness issue.
	MissingCoreRate float64 `json:"missing_core_rate"`
}
