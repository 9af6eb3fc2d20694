package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateVisit(ctx context.Context, v *Visit) error
	GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error)
	UpdateVisit(ctx context.Context, v *Visit) error
	ListVisitsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Visit, int, error)

	CreateLab(ctx context.Context, l *LabResult) error
	GetLab(ctx context.Context, id uuid.UUID) (*LabResult, error)
	UpdateLab(ctx context.Context, l *LabResult) error
	ListLabsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*LabResult, int, error)

	CreateMedication(ctx context.Context, m *Medication) error
	GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error)
	UpdateMedication(ctx context.Context, m *Medication) error
	ListMedicationsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*Medication, int, error)

	CreateEvent(ctx context.Context, e *OutcomeEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*OutcomeEvent, error)
	UpdateEvent(ctx context.Context, e *OutcomeEvent) error
	ListEventsBySubject(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]*OutcomeEvent, int, error)

	Invalidate(ctx context.Context, recordType string, id uuid.UUID) error

	// FirstVisitDate supports the baseline anchor fallback for subjects
	// without an explicit baseline date.
	FirstVisitDate(ctx context.Context, subjectID uuid.UUID) (*time.Time, error)

	// PriorCanonical returns the subject's most recent canonical value for
	// the quantity measured on or before the given date, excluding the
	// record being written. The date bound keeps a backdated submission
	// comparing against its clinical past, not values measured after it.
	// Read under the subject lock.
	PriorCanonical(ctx context.Context, subjectID uuid.UUID, quantity string, onOrBefore time.Time, excludeID uuid.UUID) (*float64, error)

	// CountSameDay counts existing records of the given type for the
	// subject on the same calendar date, excluding the record being
	// written. Invalidated records do not count.
	CountSameDay(ctx context.Context, subjectID uuid.UUID, recordType string, date time.Time, excludeID uuid.UUID) (int, error)

	// ReplaceMeasurements rewrites the measurement projection rows for one
	// record. The projection is what PriorCanonical and the study quality
	// stats read.
	ReplaceMeasurements(ctx context.Context, recordType string, recordID, subjectID uuid.UUID, measuredAt time.Time, canonical map[string]float64) error
}
