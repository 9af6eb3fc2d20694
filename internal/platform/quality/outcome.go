// Package quality implements the write-path data-quality engine: unit
// normalization, the validator set, derived-field enrichment, and the error
// taxonomy surfaced to the write API. Every clinical write runs through it
// inside the same transaction that persists the record.
package quality

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validator outcome. A record's final disposition is
// the most severe outcome across all validators that examined it.
type Severity int

const (
	SeverityNone Severity = iota
	// SeverityInfo outcomes never block a write; they surface as advisory
	// messages and open trackable issues.
	SeverityInfo
	// SeverityNeedsAck outcomes let the write proceed only when the caller
	// supplies a non-empty justification, which is persisted.
	SeverityNeedsAck
	// SeverityBlocking outcomes refuse the write outright.
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityNeedsAck:
		return "warning"
	case SeverityBlocking:
		return "blocking"
	default:
		return "none"
	}
}

// Machine-stable rule codes. These identify "the same underlying problem"
// in issue dedup keys and in rejection payloads, so they must never change
// meaning once data references them.
const (
	RuleRangeHard     = "RANGE_HARD"
	RuleDateOrder     = "DATE_ORDER"
	RuleDuplicateDay  = "DUP_SAME_DAY"
	RuleJump          = "VALUE_JUMP"
	RuleCoreMissing   = "CORE_MISSING"
	RuleUnitUnknown   = "UNIT_UNKNOWN"
	RuleDerivedInputs = "DERIVED_INPUTS"
	RulePIISuspect    = "PII_SUSPECT"
)

// Outcome is the classified result of one validator examining one record.
type Outcome struct {
	RuleCode string   `json:"rule_code"`
	Severity Severity `json:"-"`
	Quantity string   `json:"quantity,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// Measurement is one raw measured value carried by a clinical record.
type Measurement struct {
	Quantity string
	Value    float64
	Unit     string
}

// Record is the view of a clinical record the engine needs. Visit, lab,
// medication and event records all implement it.
type Record interface {
	RecordType() string
	RecordID() uuid.UUID
	Study() uuid.UUID
	Subject() uuid.UUID
	Date() time.Time
	Measurements() []Measurement
	FreeText() map[string]string
	// RequiredQuantities lists quantity codes whose absence from this
	// record type is a completeness issue. Nil when not applicable.
	RequiredQuantities() []string
}

// Spanned is implemented by records that cover a date range (medication
// courses). The validator set checks that the range is ordered.
type Spanned interface {
	DateSpan() (start time.Time, end *time.Time)
}

// Context supplies the subject's prior state needed by the trend and
// duplicate checks, plus baseline attributes for derived fields. The
// caller loads it inside the write transaction, after taking the subject
// lock, so "most recent prior value" stays consistent under concurrency.
type Context struct {
	// BaselineAnchor is the subject's effective baseline date: the explicit
	// baseline date when recorded, else the first visit date.
	BaselineAnchor *time.Time
	BirthYear      *int
	Sex            string
	// Prior maps quantity code to the subject's most recent prior canonical
	// value, excluding the record being written.
	Prior map[string]float64
	// SameDayCount is the number of existing records of the same type for
	// this subject on the same date, excluding the record being written.
	SameDayCount int
	// ManualEGFR is a caller-supplied derived value, never overwritten.
	ManualEGFR *float64
	// Now anchors the future-date check; zero means time.Now.
	Now time.Time
}

func (c *Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}
