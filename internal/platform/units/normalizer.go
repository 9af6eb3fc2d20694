package units

import (
	"fmt"
	"math"
)

// Precision is the fixed decimal precision of normalized values. Rounding
// at a fixed precision keeps canonical values reproducible across sites.
const Precision = 4

// NotConvertibleError is returned when a (quantity, unit) pair is not in
// the registry. Normalization fails closed: an unknown unit is never
// treated as the canonical unit.
type NotConvertibleError struct {
	Quantity string
	Unit     string
}

func (e *NotConvertibleError) Error() string {
	return fmt.Sprintf("unit %q is not registered for quantity %q", e.Unit, e.Quantity)
}

// Normalize converts a raw (value, unit) pair into the quantity's canonical
// unit, rounded to Precision decimals. It is a pure function over catalog
// state. Non-finite values and unregistered pairs yield an error; the raw
// value is left to the caller for human review.
func (c *Catalog) Normalize(quantity string, value float64, unit string) (float64, error) {
	if _, ok := c.Quantity(quantity); !ok {
		return 0, fmt.Errorf("unknown quantity %q", quantity)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("value for %q is not a finite number", quantity)
	}
	conv, ok := c.Conversion(quantity, unit)
	if !ok {
		return 0, &NotConvertibleError{Quantity: quantity, Unit: unit}
	}
	return roundTo(value*conv.Multiplier+conv.Offset, Precision), nil
}

// ToUnit converts a canonical value back into a registered input unit.
// Used for display and for verifying the round-trip law in tests.
func (c *Catalog) ToUnit(quantity string, canonical float64, unit string) (float64, error) {
	conv, ok := c.Conversion(quantity, unit)
	if !ok {
		return 0, &NotConvertibleError{Quantity: quantity, Unit: unit}
	}
	return (canonical - conv.Offset) / conv.Multiplier, nil
}

// roundTo rounds half away from zero at the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
