package subject

import (
	"time"

	"github.com/google/uuid"
)

// Subject is a de-identified study participant. The registry stores only a
// center-scoped pseudonymous code plus the baseline attributes needed by
// the validators and the derived-field calculator: birth year (never full
// date of birth), sex, and the baseline anchor dates. Subjects with issues
// or audit history are soft-invalidated, never hard-deleted.
type Subject struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	StudyID        uuid.UUID  `db:"study_id" json:"study_id"`
	CenterCode     string     `db:"center_code" json:"center_code"`
	PatientCode    string     `db:"patient_code" json:"patient_code"`
	Sex            string     `db:"sex" json:"sex"`
	BirthYear      *int       `db:"birth_year" json:"birth_year,omitempty"`
	EnrollmentDate *time.Time `db:"enrollment_date" json:"enrollment_date,omitempty"`
	BaselineDate   *time.Time `db:"baseline_date" json:"baseline_date,omitempty"`
	BaselineScr    *float64   `db:"baseline_scr" json:"baseline_scr,omitempty"`
	BaselineScrUnit *string   `db:"baseline_scr_unit" json:"baseline_scr_unit,omitempty"`
	BaselineUPCR   *float64   `db:"baseline_upcr" json:"baseline_upcr,omitempty"`
	Note           *string    `db:"note" json:"note,omitempty"`
	InvalidatedAt  *time.Time `db:"invalidated_at" json:"invalidated_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
