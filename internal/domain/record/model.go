// Package record holds the clinical record types submitted by centers and
// the submit pipeline that runs every write through the data-quality
// engine inside a single transaction.
package record

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kidneysphere/registry/internal/platform/derive"
	"github.com/kidneysphere/registry/internal/platform/quality"
)

// Record type discriminators, used in issue dedup keys, audit entries and
// the measurement projection.
const (
	TypeVisit      = "visit"
	TypeLab        = "lab"
	TypeMedication = "medication"
	TypeEvent      = "event"
)

// Analyte is one measured value as it arrived: the raw value, the unit the
// center reported it in, and the canonical value assigned during
// standardization. Raw value and unit are kept verbatim for review.
type Analyte struct {
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Canonical *float64 `json:"canonical,omitempty"`
}

func (a Analyte) measurement(quantity string) (quality.Measurement, bool) {
	if a.Value == nil {
		return quality.Measurement{}, false
	}
	return quality.Measurement{Quantity: quantity, Value: *a.Value, Unit: a.Unit}, true
}

// Visit is a scheduled follow-up encounter carrying vitals.
type Visit struct {
	ID            uuid.UUID  `json:"id"`
	StudyID       uuid.UUID  `json:"study_id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	VisitDate     time.Time  `json:"visit_date"`
	Sbp           Analyte    `json:"sbp"`
	Dbp           Analyte    `json:"dbp"`
	Note          *string    `json:"note,omitempty"`
	Justification *string    `json:"justification,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (v *Visit) RecordType() string    { return TypeVisit }
func (v *Visit) RecordID() uuid.UUID   { return v.ID }
func (v *Visit) Study() uuid.UUID      { return v.StudyID }
func (v *Visit) Subject() uuid.UUID    { return v.SubjectID }
func (v *Visit) Date() time.Time       { return v.VisitDate }
func (v *Visit) RequiredQuantities() []string { return nil }

func (v *Visit) Measurements() []quality.Measurement {
	var ms []quality.Measurement
	if m, ok := v.Sbp.measurement("sbp"); ok {
		ms = append(ms, m)
	}
	if m, ok := v.Dbp.measurement("dbp"); ok {
		ms = append(ms, m)
	}
	return ms
}

func (v *Visit) FreeText() map[string]string {
	return textFields(map[string]*string{"note": v.Note})
}

// LabResult is one laboratory panel drawn on a single date. Serum
// creatinine and UPCR are the panel's core quantities: their absence opens
// a completeness issue. The eGFR block carries the caller-supplied value
// (if any) plus the annotation stamped by the derived-field calculator.
type LabResult struct {
	ID            uuid.UUID  `json:"id"`
	StudyID       uuid.UUID  `json:"study_id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	TestDate      time.Time  `json:"test_date"`
	Scr           Analyte    `json:"scr"`
	Upcr          Analyte    `json:"upcr"`
	Potassium     Analyte    `json:"potassium"`
	Hemoglobin    Analyte    `json:"hemoglobin"`
	Albumin       Analyte    `json:"albumin"`
	EGFR          Analyte    `json:"egfr"`
	EGFRStatus    string     `json:"egfr_status,omitempty"`
	EGFRFormula   string     `json:"egfr_formula_version,omitempty"`
	Note          *string    `json:"note,omitempty"`
	Justification *string    `json:"justification,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (l *LabResult) RecordType() string  { return TypeLab }
func (l *LabResult) RecordID() uuid.UUID { return l.ID }
func (l *LabResult) Study() uuid.UUID    { return l.StudyID }
func (l *LabResult) Subject() uuid.UUID  { return l.SubjectID }
func (l *LabResult) Date() time.Time     { return l.TestDate }

func (l *LabResult) RequiredQuantities() []string { return []string{"scr", "upcr"} }

func (l *LabResult) Measurements() []quality.Measurement {
	var ms []quality.Measurement
	for _, p := range []struct {
		quantity string
		a        Analyte
	}{
		{"scr", l.Scr},
		{"upcr", l.Upcr},
		{"potassium", l.Potassium},
		{"hemoglobin", l.Hemoglobin},
		{"albumin", l.Albumin},
	} {
		if m, ok := p.a.measurement(p.quantity); ok {
			ms = append(ms, m)
		}
	}
	return ms
}

func (l *LabResult) FreeText() map[string]string {
	return textFields(map[string]*string{"note": l.Note})
}

// Medication is a drug course with an optional end date.
type Medication struct {
	ID            uuid.UUID  `json:"id"`
	StudyID       uuid.UUID  `json:"study_id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	DrugName      string     `json:"drug_name"`
	Dose          *float64   `json:"dose,omitempty"`
	DoseUnit      string     `json:"dose_unit,omitempty"`
	Frequency     string     `json:"frequency,omitempty"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Note          *string    `json:"note,omitempty"`
	Justification *string    `json:"justification,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (m *Medication) RecordType() string  { return TypeMedication }
func (m *Medication) RecordID() uuid.UUID { return m.ID }
func (m *Medication) Study() uuid.UUID    { return m.StudyID }
func (m *Medication) Subject() uuid.UUID  { return m.SubjectID }
func (m *Medication) Date() time.Time     { return m.StartDate }

func (m *Medication) RequiredQuantities() []string           { return nil }
func (m *Medication) Measurements() []quality.Measurement    { return nil }
func (m *Medication) DateSpan() (time.Time, *time.Time)      { return m.StartDate, m.EndDate }

func (m *Medication) FreeText() map[string]string {
	return textFields(map[string]*string{"drug_name": &m.DrugName, "note": m.Note})
}

// Event kinds for OutcomeEvent. Free-form kinds are accepted too; these
// are the ones the registry's endpoints analyses recognize.
const (
	EventDialysisStart   = "dialysis_start"
	EventTransplant      = "transplant"
	EventESRD            = "esrd"
	EventDeath           = "death"
	EventHospitalization = "hospitalization"
)

// OutcomeEvent is a clinical endpoint event (dialysis start, transplant,
// death, hospitalization).
type OutcomeEvent struct {
	ID            uuid.UUID  `json:"id"`
	StudyID       uuid.UUID  `json:"study_id"`
	SubjectID     uuid.UUID  `json:"subject_id"`
	EventType     string     `json:"event_type"`
	EventDate     time.Time  `json:"event_date"`
	Description   *string    `json:"description,omitempty"`
	Justification *string    `json:"justification,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (e *OutcomeEvent) RecordType() string  { return TypeEvent }
func (e *OutcomeEvent) RecordID() uuid.UUID { return e.ID }
func (e *OutcomeEvent) Study() uuid.UUID    { return e.StudyID }
func (e *OutcomeEvent) Subject() uuid.UUID  { return e.SubjectID }
func (e *OutcomeEvent) Date() time.Time     { return e.EventDate }

func (e *OutcomeEvent) RequiredQuantities() []string        { return nil }
func (e *OutcomeEvent) Measurements() []quality.Measurement { return nil }

func (e *OutcomeEvent) FreeText() map[string]string {
	return textFields(map[string]*string{"description": e.Description})
}

func textFields(fields map[string]*string) map[string]string {
	out := make(map[string]string, len(fields))
	for name, v := range fields {
		if v != nil && *v != "" {
			out[name] = *v
		}
	}
	return out
}

// clinical is what the submit pipeline needs beyond the engine's view of a
// record: reading the caller's justification and manual eGFR, and writing
// back the engine's results before the row is persisted.
type clinical interface {
	quality.Record
	justification() string
	manualEGFR() *float64
	applyCanonical(map[string]float64)
	applyEGFR(derive.Annotation)
	// auditFields is the canonical textual representation of every field
	// tracked by the audit trail.
	auditFields() map[string]string
	table() string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (v *Visit) justification() string { return deref(v.Justification) }
func (v *Visit) manualEGFR() *float64  { return nil }
func (v *Visit) table() string         { return "visit" }

func (v *Visit) applyCanonical(canonical map[string]float64) {
	applyTo(canonical, map[string]*Analyte{"sbp": &v.Sbp, "dbp": &v.Dbp})
}

func (v *Visit) applyEGFR(derive.Annotation) {}

func (l *LabResult) justification() string { return deref(l.Justification) }
func (l *LabResult) manualEGFR() *float64  { return l.EGFR.Value }
func (l *LabResult) table() string         { return "lab_result" }

func (l *LabResult) applyCanonical(canonical map[string]float64) {
	applyTo(canonical, map[string]*Analyte{
		"scr":        &l.Scr,
		"upcr":       &l.Upcr,
		"potassium":  &l.Potassium,
		"hemoglobin": &l.Hemoglobin,
		"albumin":    &l.Albumin,
	})
}

func (l *LabResult) applyEGFR(ann derive.Annotation) {
	if ann.Status == "" {
		return
	}
	l.EGFRStatus = ann.Status
	l.EGFRFormula = ann.FormulaVersion
	if ann.Value != nil {
		v := *ann.Value
		l.EGFR.Canonical = &v
	}
}

func (m *Medication) justification() string            { return deref(m.Justification) }
func (m *Medication) manualEGFR() *float64             { return nil }
func (m *Medication) table() string                    { return "medication" }
func (m *Medication) applyCanonical(map[string]float64) {}
func (m *Medication) applyEGFR(derive.Annotation)       {}

func (e *OutcomeEvent) justification() string            { return deref(e.Justification) }
func (e *OutcomeEvent) manualEGFR() *float64             { return nil }
func (e *OutcomeEvent) table() string                    { return "outcome_event" }
func (e *OutcomeEvent) applyCanonical(map[string]float64) {}
func (e *OutcomeEvent) applyEGFR(derive.Annotation)       {}

func (v *Visit) auditFields() map[string]string {
	return map[string]string{
		"visit_date":    fmtDate(v.VisitDate),
		"sbp":           fmtFloat(v.Sbp.Value),
		"sbp_unit":      v.Sbp.Unit,
		"dbp":           fmtFloat(v.Dbp.Value),
		"dbp_unit":      v.Dbp.Unit,
		"note":          deref(v.Note),
		"justification": deref(v.Justification),
	}
}

func (l *LabResult) auditFields() map[string]string {
	return map[string]string{
		"test_date":       fmtDate(l.TestDate),
		"scr":             fmtFloat(l.Scr.Value),
		"scr_unit":        l.Scr.Unit,
		"upcr":            fmtFloat(l.Upcr.Value),
		"upcr_unit":       l.Upcr.Unit,
		"potassium":       fmtFloat(l.Potassium.Value),
		"potassium_unit":  l.Potassium.Unit,
		"hemoglobin":      fmtFloat(l.Hemoglobin.Value),
		"hemoglobin_unit": l.Hemoglobin.Unit,
		"albumin":         fmtFloat(l.Albumin.Value),
		"albumin_unit":    l.Albumin.Unit,
		"egfr":            fmtFloat(l.EGFR.Value),
		"note":            deref(l.Note),
		"justification":   deref(l.Justification),
	}
}

func (m *Medication) auditFields() map[string]string {
	f := map[string]string{
		"drug_name":     m.DrugName,
		"dose":          fmtFloat(m.Dose),
		"dose_unit":     m.DoseUnit,
		"frequency":     m.Frequency,
		"start_date":    fmtDate(m.StartDate),
		"note":          deref(m.Note),
		"justification": deref(m.Justification),
	}
	if m.EndDate != nil {
		f["end_date"] = fmtDate(*m.EndDate)
	} else {
		f["end_date"] = ""
	}
	return f
}

func (e *OutcomeEvent) auditFields() map[string]string {
	return map[string]string{
		"event_type":    e.EventType,
		"event_date":    fmtDate(e.EventDate),
		"description":   deref(e.Description),
		"justification": deref(e.Justification),
	}
}

func fmtFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func applyTo(canonical map[string]float64, targets map[string]*Analyte) {
	for q, a := range targets {
		if v, ok := canonical[q]; ok {
			vv := v
			a.Canonical = &vv
		} else {
			a.Canonical = nil
		}
	}
}
