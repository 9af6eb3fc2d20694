// Package units holds the registry of measurable clinical quantities, their
// canonical units, and the conversion rules that map heterogeneous input
// units onto a single comparable scale per quantity.
package units

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultJumpFactor is the jump-check ratio threshold applied to quantities
// that do not declare their own. Thresholds are policy constants, tunable
// per deployment through the catalog file.
const DefaultJumpFactor = 4.0

// QuantityDef describes one measurable clinical concept. Quantities are
// registered once by administrators and treated as immutable at runtime;
// every measurement references one by code.
type QuantityDef struct {
	Code          string  `yaml:"code" json:"code"`
	Display       string  `yaml:"display" json:"display"`
	CanonicalUnit string  `yaml:"canonical_unit" json:"canonical_unit"`
	Core          bool    `yaml:"core" json:"core"`
	Decimals      int     `yaml:"decimals" json:"decimals"`
	HardMin       float64 `yaml:"hard_min" json:"hard_min"`
	HardMax       float64 `yaml:"hard_max" json:"hard_max"`
	JumpFactor    float64 `yaml:"jump_factor" json:"jump_factor"`
}

// Conversion maps an input unit of a quantity to the canonical scale:
// canonical = value*Multiplier + Offset. Exactly one conversion per
// quantity is the canonical identity (multiplier 1, offset 0).
type Conversion struct {
	Quantity   string  `yaml:"quantity" json:"quantity"`
	Unit       string  `yaml:"unit" json:"unit"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Offset     float64 `yaml:"offset" json:"offset"`
	Canonical  bool    `yaml:"canonical" json:"canonical"`
}

type convKey struct {
	quantity string
	unit     string
}

// Catalog is the unit registry consulted by the normalizer and validators.
type Catalog struct {
	quantities  map[string]QuantityDef
	conversions map[convKey]Conversion
}

type catalogFile struct {
	Quantities  []QuantityDef `yaml:"quantities"`
	Conversions []Conversion  `yaml:"conversions"`
}

// Load reads a catalog from a YAML file, falling back to the compiled-in
// default catalog when path is empty. An invalid catalog (missing or
// duplicate canonical conversions) is rejected.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read unit catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse unit catalog: %w", err)
	}
	if len(f.Quantities) == 0 {
		return nil, fmt.Errorf("unit catalog %s defines no quantities", path)
	}
	return NewCatalog(f.Quantities, f.Conversions)
}

// NewCatalog builds and validates a catalog. Every quantity must have
// exactly one canonical conversion whose multiplier is 1 and offset is 0.
func NewCatalog(quantities []QuantityDef, conversions []Conversion) (*Catalog, error) {
	c := &Catalog{
		quantities:  make(map[string]QuantityDef, len(quantities)),
		conversions: make(map[convKey]Conversion, len(conversions)),
	}
	for _, q := range quantities {
		code := strings.ToLower(strings.TrimSpace(q.Code))
		if code == "" {
			return nil, fmt.Errorf("quantity with empty code")
		}
		if _, dup := c.quantities[code]; dup {
			return nil, fmt.Errorf("duplicate quantity %q", code)
		}
		if q.JumpFactor <= 1 {
			q.JumpFactor = DefaultJumpFactor
		}
		q.Code = code
		c.quantities[code] = q
	}

	canonicalSeen := make(map[string]bool, len(quantities))
	for _, conv := range conversions {
		key := convKey{strings.ToLower(strings.TrimSpace(conv.Quantity)), normalizeUnit(conv.Unit)}
		q, ok := c.quantities[key.quantity]
		if !ok {
			return nil, fmt.Errorf("conversion for unknown quantity %q", conv.Quantity)
		}
		if _, dup := c.conversions[key]; dup {
			return nil, fmt.Errorf("duplicate conversion %q/%q", conv.Quantity, conv.Unit)
		}
		if conv.Canonical {
			if canonicalSeen[key.quantity] {
				return nil, fmt.Errorf("quantity %q has more than one canonical unit", key.quantity)
			}
			if conv.Multiplier != 1 || conv.Offset != 0 {
				return nil, fmt.Errorf("canonical conversion for %q must be identity", key.quantity)
			}
			if normalizeUnit(q.CanonicalUnit) != key.unit {
				return nil, fmt.Errorf("canonical conversion for %q is %q, catalog says %q",
					key.quantity, conv.Unit, q.CanonicalUnit)
			}
			canonicalSeen[key.quantity] = true
		}
		c.conversions[key] = conv
	}
	for code := range c.quantities {
		if !canonicalSeen[code] {
			return nil, fmt.Errorf("quantity %q has no canonical conversion", code)
		}
	}
	return c, nil
}

// Quantity looks up a quantity definition by code, case-insensitively.
func (c *Catalog) Quantity(code string) (QuantityDef, bool) {
	q, ok := c.quantities[strings.ToLower(strings.TrimSpace(code))]
	return q, ok
}

// Conversion looks up the conversion rule for a (quantity, unit) pair.
func (c *Catalog) Conversion(quantity, unit string) (Conversion, bool) {
	conv, ok := c.conversions[convKey{strings.ToLower(strings.TrimSpace(quantity)), normalizeUnit(unit)}]
	return conv, ok
}

// CoreQuantities returns the codes of quantities flagged as core, whose
// absence from a record raises a data-quality issue.
func (c *Catalog) CoreQuantities() []string {
	var codes []string
	for code, q := range c.quantities {
		if q.Core {
			codes = append(codes, code)
		}
	}
	return codes
}

// JumpFactor returns the per-quantity spike threshold, or the default for
// unknown quantities.
func (c *Catalog) JumpFactor(quantity string) float64 {
	if q, ok := c.Quantity(quantity); ok {
		return q.JumpFactor
	}
	return DefaultJumpFactor
}

// normalizeUnit canonicalizes unit spellings so that "µmol/L", "umol/l" and
// "μmol/L" are the same registry key.
func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, "µ", "u") // micro sign
	u = strings.ReplaceAll(u, "μ", "u") // greek mu
	return u
}

// DefaultCatalog is the compiled-in registry for the kidney-disease study
// modules. Conversion factors follow the conventions of the analysis
// pipeline: creatinine is compared in mg/dL (1 mg/dL = 88.4 umol/L), so
// 88.4 umol/L standardizes to exactly 1.0000.
func DefaultCatalog() *Catalog {
	quantities := []QuantityDef{
		{Code: "scr", Display: "Serum creatinine", CanonicalUnit: "mg/dL", Core: true, Decimals: 2, HardMin: 0.1, HardMax: 30, JumpFactor: 3},
		{Code: "upcr", Display: "Urine protein/creatinine ratio", CanonicalUnit: "g/g", Core: true, Decimals: 2, HardMin: 0, HardMax: 50, JumpFactor: 5},
		{Code: "potassium", Display: "Serum potassium", CanonicalUnit: "mmol/L", Decimals: 1, HardMin: 1, HardMax: 10, JumpFactor: 2},
		{Code: "sbp", Display: "Systolic blood pressure", CanonicalUnit: "mmHg", Decimals: 0, HardMin: 40, HardMax: 300},
		{Code: "dbp", Display: "Diastolic blood pressure", CanonicalUnit: "mmHg", Decimals: 0, HardMin: 20, HardMax: 200},
		{Code: "hemoglobin", Display: "Hemoglobin", CanonicalUnit: "g/dL", Decimals: 1, HardMin: 2, HardMax: 25},
		{Code: "albumin", Display: "Serum albumin", CanonicalUnit: "g/dL", Decimals: 1, HardMin: 0.5, HardMax: 7},
		{Code: "egfr", Display: "Estimated GFR", CanonicalUnit: "mL/min/1.73m2", Decimals: 1, HardMin: 0, HardMax: 250},
	}
	conversions := []Conversion{
		{Quantity: "scr", Unit: "mg/dL", Multiplier: 1, Canonical: true},
		{Quantity: "scr", Unit: "umol/L", Multiplier: 1.0 / 88.4},
		{Quantity: "scr", Unit: "mg/L", Multiplier: 0.1},
		{Quantity: "upcr", Unit: "g/g", Multiplier: 1, Canonical: true},
		{Quantity: "upcr", Unit: "mg/g", Multiplier: 0.001},
		{Quantity: "upcr", Unit: "mg/mmol", Multiplier: 0.00884},
		{Quantity: "potassium", Unit: "mmol/L", Multiplier: 1, Canonical: true},
		{Quantity: "potassium", Unit: "mEq/L", Multiplier: 1},
		{Quantity: "sbp", Unit: "mmHg", Multiplier: 1, Canonical: true},
		{Quantity: "dbp", Unit: "mmHg", Multiplier: 1, Canonical: true},
		{Quantity: "hemoglobin", Unit: "g/dL", Multiplier: 1, Canonical: true},
		{Quantity: "hemoglobin", Unit: "g/L", Multiplier: 0.1},
		{Quantity: "albumin", Unit: "g/dL", Multiplier: 1, Canonical: true},
		{Quantity: "albumin", Unit: "g/L", Multiplier: 0.1},
		{Quantity: "egfr", Unit: "mL/min/1.73m2", Multiplier: 1, Canonical: true},
	}
	c, err := NewCatalog(quantities, conversions)
	if err != nil {
		// The default catalog is fixed at compile time; a validation error
		// here is a programming bug, not an operational condition.
		panic(err)
	}
	return c
}
