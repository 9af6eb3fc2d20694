package quality

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kidneysphere/registry/internal/platform/derive"
	"github.com/kidneysphere/registry/internal/platform/units"
)

// Engine evaluates one record against the full validator set. It holds no
// storage handles: normalized values, outcomes, and the derived-field
// annotation come back in a Result, and the calling service decides what
// to persist inside its transaction.
type Engine struct {
	catalog  *units.Catalog
	detector Detector
	log      zerolog.Logger
}

func NewEngine(catalog *units.Catalog, detector Detector, log zerolog.Logger) *Engine {
	return &Engine{catalog: catalog, detector: detector, log: log}
}

func (e *Engine) Catalog() *units.Catalog { return e.catalog }

// Result is the engine's verdict on one record.
type Result struct {
	Outcomes []Outcome
	// Canonical maps quantity code to the normalized value for every
	// measurement that standardized successfully.
	Canonical map[string]float64
	// EGFR is the derived-field annotation; zero Status means the record
	// type carries no derived field.
	EGFR derive.Annotation
}

// Disposition is the most severe outcome across all validators.
func (r *Result) Disposition() Severity {
	max := SeverityNone
	for _, o := range r.Outcomes {
		if o.Severity > max {
			max = o.Severity
		}
	}
	return max
}

// BySeverity returns the outcomes at exactly the given severity.
func (r *Result) BySeverity(s Severity) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Severity == s {
			out = append(out, o)
		}
	}
	return out
}

// IssueOutcomes returns the non-blocking outcomes, which the issue ledger
// tracks for accepted-but-imperfect data. Blocking outcomes never reach
// the ledger because the record itself is never persisted.
func (r *Result) IssueOutcomes() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Severity == SeverityInfo || o.Severity == SeverityNeedsAck {
			out = append(out, o)
		}
	}
	return out
}

// Evaluate normalizes the record's measurements and runs every validator.
// It is pure: same record and context, same result.
func (e *Engine) Evaluate(rec Record, rctx *Context) *Result {
	res := &Result{Canonical: make(map[string]float64)}

	// Normalization first; validators consume canonical values. A unit
	// mismatch on a core quantity blocks, on an optional quantity it is
	// tracked as an issue and the raw value is preserved for review.
	for _, m := range rec.Measurements() {
		unit := m.Unit
		if unit == "" {
			// An omitted unit means "as defined", not "unknown".
			if def, ok := e.catalog.Quantity(m.Quantity); ok {
				unit = def.CanonicalUnit
			}
		}
		v, err := e.catalog.Normalize(m.Quantity, m.Value, unit)
		if err == nil {
			res.Canonical[m.Quantity] = v
			continue
		}
		sev := SeverityInfo
		var nc *units.NotConvertibleError
		if def, ok := e.catalog.Quantity(m.Quantity); (ok && def.Core) || !errors.As(err, &nc) {
			sev = SeverityBlocking
		}
		res.Outcomes = append(res.Outcomes, Outcome{
			RuleCode: RuleUnitUnknown,
			Severity: sev,
			Quantity: m.Quantity,
			Message:  fmt.Sprintf("standardization failed: %v", err),
		})
	}

	res.Outcomes = append(res.Outcomes, CheckRange(e.catalog, res.Canonical)...)
	res.Outcomes = append(res.Outcomes, CheckDateOrder(rec, rctx)...)
	res.Outcomes = append(res.Outcomes, CheckDuplicate(rec, rctx)...)
	res.Outcomes = append(res.Outcomes, CheckJump(e.catalog, res.Canonical, rctx)...)
	res.Outcomes = append(res.Outcomes, CheckCompleteness(rec)...)
	res.Outcomes = append(res.Outcomes, CheckFreeText(e.detector, rec)...)

	e.deriveEGFR(rec, rctx, res)

	if d := res.Disposition(); d > SeverityNone {
		e.log.Debug().
			Str("record_type", rec.RecordType()).
			Str("subject_id", rec.Subject().String()).
			Str("disposition", d.String()).
			Int("outcomes", len(res.Outcomes)).
			Msg("record evaluated")
	}
	return res
}

// deriveEGFR attaches the derived-field annotation when the record carries
// a creatinine measurement or an explicit caller-supplied eGFR. An
// annotation the formula could not compute is advisory, never blocking.
func (e *Engine) deriveEGFR(rec Record, rctx *Context, res *Result) {
	scrMeasured := false
	for _, m := range rec.Measurements() {
		if m.Quantity == "scr" {
			scrMeasured = true
			break
		}
	}
	if !scrMeasured && rctx.ManualEGFR == nil {
		return
	}

	var scr *float64
	if v, ok := res.Canonical["scr"]; ok {
		scr = &v
	}
	res.EGFR = derive.ComputeEGFR(derive.EGFRInputs{
		ScrMgDL:   scr,
		BirthYear: rctx.BirthYear,
		Sex:       rctx.Sex,
		At:        rec.Date(),
		Manual:    rctx.ManualEGFR,
	})
	if res.EGFR.Status == derive.StatusInputsMissing {
		res.Outcomes = append(res.Outcomes, Outcome{
			RuleCode: RuleDerivedInputs,
			Severity: SeverityInfo,
			Quantity: "egfr",
			Message:  fmt.Sprintf("eGFR not computed: %s", res.EGFR.Detail),
		})
	}
}
