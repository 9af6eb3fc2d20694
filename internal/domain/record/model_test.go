package record

import (
	"testing"
	"time"

	"github.com/kidneysphere/registry/internal/platform/derive"
)

func TestLabMeasurementsSkipAbsentValues(t *testing.T) {
	l := &LabResult{
		Scr:       Analyte{Value: fp(1.2), Unit: "mg/dL"},
		Potassium: Analyte{Value: fp(4.5)},
	}
	ms := l.Measurements()
	if len(ms) != 2 {
		t.Fatalf("got %d measurements, want 2", len(ms))
	}
	for _, m := range ms {
		if m.Quantity != "scr" && m.Quantity != "potassium" {
			t.Errorf("unexpected quantity %q", m.Quantity)
		}
	}
}

func TestMedicationFreeTextCoversDrugName(t *testing.T) {
	m := &Medication{DrugName: "lisinopril", Note: sp("titrate up in 2 weeks")}
	texts := m.FreeText()
	if texts["drug_name"] != "lisinopril" {
		t.Error("drug name must be screened as free text")
	}
	if texts["note"] != "titrate up in 2 weeks" {
		t.Error("note must be screened as free text")
	}

	m.Note = nil
	if _, ok := m.FreeText()["note"]; ok {
		t.Error("absent note should not appear as a text field")
	}
}

func TestApplyCanonicalClearsStaleValues(t *testing.T) {
	l := &LabResult{
		Scr:  Analyte{Value: fp(1.2), Unit: "mg/dL", Canonical: fp(9.9)},
		Upcr: Analyte{Value: fp(0.8), Unit: "g/g", Canonical: fp(9.9)},
	}
	l.applyCanonical(map[string]float64{"scr": 1.2})
	if l.Scr.Canonical == nil || *l.Scr.Canonical != 1.2 {
		t.Errorf("scr canonical = %v, want 1.2", l.Scr.Canonical)
	}
	if l.Upcr.Canonical != nil {
		t.Errorf("upcr canonical = %v, want cleared when standardization produced nothing", l.Upcr.Canonical)
	}
}

func TestApplyEGFRZeroAnnotationIsNoOp(t *testing.T) {
	l := &LabResult{EGFRStatus: "computed"}
	l.applyEGFR(derive.Annotation{})
	if l.EGFRStatus != "computed" {
		t.Error("empty annotation must not clobber the stored status")
	}
}

func TestVisitAuditFields(t *testing.T) {
	v := &Visit{
		VisitDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Sbp:       Analyte{Value: fp(142), Unit: "mmHg"},
		Note:      sp("stable"),
	}
	f := v.auditFields()
	if f["visit_date"] != "2024-06-01" {
		t.Errorf("visit_date = %q", f["visit_date"])
	}
	if f["sbp"] != "142" {
		t.Errorf("sbp = %q", f["sbp"])
	}
	if f["dbp"] != "" {
		t.Errorf("absent dbp should format empty, got %q", f["dbp"])
	}
}

func TestMedicationAuditFieldsEndDate(t *testing.T) {
	m := &Medication{
		DrugName:  "lisinopril",
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if got := m.auditFields()["end_date"]; got != "" {
		t.Errorf("open-ended course end_date = %q, want empty", got)
	}
	end := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	m.EndDate = &end
	if got := m.auditFields()["end_date"]; got != "2024-09-01" {
		t.Errorf("end_date = %q", got)
	}
}
