package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/kidneysphere/registry/internal/platform/units"
)

// Validators are pure functions over (record, context); they carry no state
// and touch no storage, so each is testable in isolation and the set runs
// in a deterministic order inside the engine.

// CheckRange flags canonical values outside the quantity's absolute
// physiologic bounds. Hard-bound violations are blocking: such a value is
// a unit or entry error, not a plausible observation.
func CheckRange(cat *units.Catalog, canonical map[string]float64) []Outcome {
	var out []Outcome
	for _, q := range sortedKeys(canonical) {
		def, ok := cat.Quantity(q)
		if !ok {
			continue
		}
		v := canonical[q]
		if v < def.HardMin || v > def.HardMax {
			out = append(out, Outcome{
				RuleCode: RuleRangeHard,
				Severity: SeverityBlocking,
				Quantity: q,
				Message: fmt.Sprintf("%s %.4g %s outside physiologic bounds [%g, %g]",
					def.Display, v, def.CanonicalUnit, def.HardMin, def.HardMax),
			})
		}
	}
	return out
}

// CheckDateOrder rejects records dated before the subject's baseline
// anchor or in the future, and medication courses that end before they
// start.
func CheckDateOrder(rec Record, rctx *Context) []Outcome {
	var out []Outcome
	date := rec.Date()
	if date.IsZero() {
		out = append(out, Outcome{
			RuleCode: RuleDateOrder,
			Severity: SeverityBlocking,
			Message:  "record date is required",
		})
		return out
	}
	if date.After(rctx.now().Add(24 * time.Hour)) {
		out = append(out, Outcome{
			RuleCode: RuleDateOrder,
			Severity: SeverityBlocking,
			Message:  fmt.Sprintf("record date %s is in the future", date.Format("2006-01-02")),
		})
	}
	if rctx.BaselineAnchor != nil && date.Before(*rctx.BaselineAnchor) {
		out = append(out, Outcome{
			RuleCode: RuleDateOrder,
			Severity: SeverityBlocking,
			Message: fmt.Sprintf("record date %s precedes subject baseline %s",
				date.Format("2006-01-02"), rctx.BaselineAnchor.Format("2006-01-02")),
		})
	}
	if sp, ok := rec.(Spanned); ok {
		start, end := sp.DateSpan()
		if end != nil && end.Before(start) {
			out = append(out, Outcome{
				RuleCode: RuleDateOrder,
				Severity: SeverityBlocking,
				Message: fmt.Sprintf("end date %s precedes start date %s",
					end.Format("2006-01-02"), start.Format("2006-01-02")),
			})
		}
	}
	return out
}

// CheckDuplicate flags a second record of the same type on the same day
// for the same subject. The write proceeds only with a justification.
func CheckDuplicate(rec Record, rctx *Context) []Outcome {
	if rctx.SameDayCount == 0 {
		return nil
	}
	return []Outcome{{
		RuleCode: RuleDuplicateDay,
		Severity: SeverityNeedsAck,
		Message: fmt.Sprintf("subject already has %d %s record(s) dated %s",
			rctx.SameDayCount, rec.RecordType(), rec.Date().Format("2006-01-02")),
	}}
}

// CheckJump compares each new canonical value against the subject's most
// recent prior value for the same quantity and flags implausible ratios.
// Thresholds are per-quantity policy; the reciprocal bound catches drops
// as well as spikes.
func CheckJump(cat *units.Catalog, canonical map[string]float64, rctx *Context) []Outcome {
	var out []Outcome
	for _, q := range sortedKeys(canonical) {
		prior, ok := rctx.Prior[q]
		if !ok || prior <= 0 {
			continue
		}
		v := canonical[q]
		if v <= 0 {
			continue
		}
		factor := cat.JumpFactor(q)
		ratio := v / prior
		if ratio > factor || ratio < 1/factor {
			out = append(out, Outcome{
				RuleCode: RuleJump,
				Severity: SeverityNeedsAck,
				Quantity: q,
				Message: fmt.Sprintf("%s changed %.2fx from prior value %.4g (threshold %.1fx)",
					q, ratio, prior, factor),
			})
		}
	}
	return out
}

// CheckCompleteness reports required quantities the record does not carry.
// Missing core data never blocks the write; it opens a trackable issue so
// the gap is visible until corrected.
func CheckCompleteness(rec Record) []Outcome {
	required := rec.RequiredQuantities()
	if len(required) == 0 {
		return nil
	}
	present := make(map[string]bool, len(required))
	for _, m := range rec.Measurements() {
		present[m.Quantity] = true
	}
	var out []Outcome
	for _, q := range required {
		if !present[q] {
			out = append(out, Outcome{
				RuleCode: RuleCoreMissing,
				Severity: SeverityInfo,
				Quantity: q,
				Message:  fmt.Sprintf("core quantity %s missing from %s record", q, rec.RecordType()),
			})
		}
	}
	return out
}

// CheckFreeText scans every free-text field with the PII detector. Any
// match blocks the write regardless of surrounding clinical content.
func CheckFreeText(det Detector, rec Record) []Outcome {
	if det == nil {
		return nil
	}
	texts := rec.FreeText()
	var out []Outcome
	for _, field := range sortedTextKeys(texts) {
		if rule, found := det.LooksLikePII(texts[field]); found {
			out = append(out, Outcome{
				RuleCode: RulePIISuspect,
				Severity: SeverityBlocking,
				Field:    field,
				Message:  fmt.Sprintf("field %q matches identifying-information pattern %q", field, rule),
			})
		}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTextKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
