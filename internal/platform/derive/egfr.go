// Package derive computes dependent clinical fields from normalized
// measurements plus subject baseline attributes, tagging every result with
// the formula version used or the reason it could not be computed.
package derive

import (
	"fmt"
	"math"
	"time"
)

// EGFRFormulaVersion identifies the estimation formula stamped onto
// computed annotations: the race-free CKD-EPI 2021 creatinine equation.
const EGFRFormulaVersion = "CKD-EPI-2021"

// Valid age window of the formula. Outside it the calculator declines to
// guess and reports inputs-missing.
const (
	minFormulaAge = 18
	maxFormulaAge = 100
)

// Annotation statuses.
const (
	StatusComputed       = "computed"
	StatusManualOverride = "manual-override"
	StatusInputsMissing  = "inputs-missing"
)

// Annotation records a derived value together with its provenance. A
// caller-supplied value is never overwritten; it is kept and marked as a
// manual override.
type Annotation struct {
	Value          *float64 `json:"value,omitempty"`
	Status         string   `json:"status"`
	FormulaVersion string   `json:"formula_version,omitempty"`
	Detail         string   `json:"detail,omitempty"`
}

// EGFR evaluates the CKD-EPI 2021 creatinine equation. Serum creatinine is
// in mg/dL; sex is "F" or "M". The two power-law pieces split at
// scr/kappa = 1 with sex-specific kappa and alpha.
func EGFR(scrMgDL float64, age int, sex string) (float64, error) {
	if scrMgDL <= 0 || math.IsNaN(scrMgDL) || math.IsInf(scrMgDL, 0) {
		return 0, fmt.Errorf("creatinine %v is not a positive finite value", scrMgDL)
	}
	if age < minFormulaAge || age > maxFormulaAge {
		return 0, fmt.Errorf("age %d outside formula range %d-%d", age, minFormulaAge, maxFormulaAge)
	}
	female := sex == "F"
	kappa, alpha := 0.9, -0.302
	if female {
		kappa, alpha = 0.7, -0.241
	}
	ratio := scrMgDL / kappa
	egfr := 142.0 *
		math.Pow(math.Min(ratio, 1), alpha) *
		math.Pow(math.Max(ratio, 1), -1.200) *
		math.Pow(0.9938, float64(age))
	if female {
		egfr *= 1.012
	}
	return math.Round(egfr*100) / 100, nil
}

// EGFRInputs carries what the calculator needs: the normalized creatinine
// value, the subject's birth year and sex, the measurement date, and an
// explicit caller-supplied eGFR, if any.
type EGFRInputs struct {
	ScrMgDL   *float64
	BirthYear *int
	Sex       string
	At        time.Time
	Manual    *float64
}

// ComputeEGFR applies the override/compute/missing policy and returns the
// annotation to attach to the record.
func ComputeEGFR(in EGFRInputs) Annotation {
	if in.Manual != nil {
		v := *in.Manual
		return Annotation{Value: &v, Status: StatusManualOverride}
	}
	if in.ScrMgDL == nil {
		return Annotation{Status: StatusInputsMissing, Detail: "creatinine not available in canonical units"}
	}
	if in.BirthYear == nil {
		return Annotation{Status: StatusInputsMissing, Detail: "birth year not recorded"}
	}
	if in.Sex != "F" && in.Sex != "M" {
		return Annotation{Status: StatusInputsMissing, Detail: "sex not recorded"}
	}
	age := in.At.Year() - *in.BirthYear
	v, err := EGFR(*in.ScrMgDL, age, in.Sex)
	if err != nil {
		return Annotation{Status: StatusInputsMissing, Detail: err.Error()}
	}
	return Annotation{Value: &v, Status: StatusComputed, FormulaVersion: EGFRFormulaVersion}
}
