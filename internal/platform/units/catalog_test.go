package units

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogQuantities(t *testing.T) {
	c := DefaultCatalog()

	scr, ok := c.Quantity("scr")
	if !ok {
		t.Fatal("scr missing from default catalog")
	}
	if !scr.Core {
		t.Error("scr should be a core quantity")
	}
	if scr.CanonicalUnit != "mg/dL" {
		t.Errorf("scr canonical unit = %q, want mg/dL", scr.CanonicalUnit)
	}
	if scr.JumpFactor != 3 {
		t.Errorf("scr jump factor = %v, want 3", scr.JumpFactor)
	}

	if got := c.JumpFactor("upcr"); got != 5 {
		t.Errorf("upcr jump factor = %v, want 5", got)
	}
	if got := c.JumpFactor("potassium"); got != 2 {
		t.Errorf("potassium jump factor = %v, want 2", got)
	}
	// sbp declares none, so the default applies.
	if got := c.JumpFactor("sbp"); got != DefaultJumpFactor {
		t.Errorf("sbp jump factor = %v, want default %v", got, DefaultJumpFactor)
	}
	if got := c.JumpFactor("no-such-quantity"); got != DefaultJumpFactor {
		t.Errorf("unknown quantity jump factor = %v, want default", got)
	}
}

func TestQuantityLookupCaseInsensitive(t *testing.T) {
	c := DefaultCatalog()
	if _, ok := c.Quantity("SCR"); !ok {
		t.Error("uppercase code should resolve")
	}
	if _, ok := c.Quantity("  scr "); !ok {
		t.Error("padded code should resolve")
	}
}

func TestUnitSpellingAliases(t *testing.T) {
	c := DefaultCatalog()
	for _, unit := range []string{"umol/L", "µmol/L", "μmol/L", "UMOL/l"} {
		if _, ok := c.Conversion("scr", unit); !ok {
			t.Errorf("spelling %q should resolve to the registered umol/L conversion", unit)
		}
	}
}

func TestNewCatalogValidation(t *testing.T) {
	base := QuantityDef{Code: "scr", CanonicalUnit: "mg/dL", HardMax: 30}

	t.Run("missing canonical conversion", func(t *testing.T) {
		_, err := NewCatalog([]QuantityDef{base}, []Conversion{
			{Quantity: "scr", Unit: "umol/L", Multiplier: 0.0113},
		})
		if err == nil {
			t.Fatal("expected error for quantity without canonical conversion")
		}
	})

	t.Run("two canonical conversions", func(t *testing.T) {
		_, err := NewCatalog([]QuantityDef{base}, []Conversion{
			{Quantity: "scr", Unit: "mg/dL", Multiplier: 1, Canonical: true},
			{Quantity: "scr", Unit: "mg/dl2", Multiplier: 1, Canonical: true},
		})
		if err == nil {
			t.Fatal("expected error for two canonical conversions")
		}
	})

	t.Run("non-identity canonical", func(t *testing.T) {
		_, err := NewCatalog([]QuantityDef{base}, []Conversion{
			{Quantity: "scr", Unit: "mg/dL", Multiplier: 2, Canonical: true},
		})
		if err == nil {
			t.Fatal("expected error for non-identity canonical conversion")
		}
	})

	t.Run("conversion for unknown quantity", func(t *testing.T) {
		_, err := NewCatalog([]QuantityDef{base}, []Conversion{
			{Quantity: "scr", Unit: "mg/dL", Multiplier: 1, Canonical: true},
			{Quantity: "glucose", Unit: "mg/dL", Multiplier: 1},
		})
		if err == nil {
			t.Fatal("expected error for conversion referencing unknown quantity")
		}
	})
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `
quantities:
  - code: scr
    display: Serum creatinine
    canonical_unit: mg/dL
    core: true
    hard_min: 0.1
    hard_max: 30
    jump_factor: 3
conversions:
  - quantity: scr
    unit: mg/dL
    multiplier: 1
    canonical: true
  - quantity: scr
    unit: umol/L
    multiplier: 0.0113122172
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := c.Normalize("scr", 88.4, "umol/L")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if v != 1.0 {
		t.Errorf("88.4 umol/L = %v mg/dL, want 1.0000", v)
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if _, ok := c.Quantity("scr"); !ok {
		t.Error("default catalog should register scr")
	}
}

func TestNormalizeCreatinineScenario(t *testing.T) {
	c := DefaultCatalog()

	// The registered multiplier maps 88.4 umol/L exactly onto 1.0000 mg/dL,
	// matching the analysis pipeline's division by 88.4.
	got, err := c.Normalize("scr", 88.4, "umol/L")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.0 {
		t.Errorf("88.4 umol/L = %v, want 1.0000", got)
	}

	got, err = c.Normalize("scr", 88.42, "umol/L")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.0002 {
		t.Errorf("88.42 umol/L = %v, want 1.0002", got)
	}
}

func TestNormalizeFailsClosed(t *testing.T) {
	c := DefaultCatalog()

	_, err := c.Normalize("scr", 1.0, "mmol/L")
	var nc *NotConvertibleError
	if !errors.As(err, &nc) {
		t.Fatalf("unregistered unit should yield NotConvertibleError, got %v", err)
	}
	if nc.Quantity != "scr" || nc.Unit != "mmol/L" {
		t.Errorf("error carries %q/%q, want scr/mmol/L", nc.Quantity, nc.Unit)
	}

	if _, err := c.Normalize("glucose", 5.0, "mmol/L"); err == nil {
		t.Error("unknown quantity should be rejected")
	}
	if _, err := c.Normalize("scr", math.NaN(), "mg/dL"); err == nil {
		t.Error("NaN should be rejected")
	}
	if _, err := c.Normalize("scr", math.Inf(1), "mg/dL"); err == nil {
		t.Error("Inf should be rejected")
	}
}

func TestRoundTripLaw(t *testing.T) {
	c := DefaultCatalog()

	// Identity conversions round-trip exactly.
	canonical, err := c.Normalize("potassium", 4.2, "mEq/L")
	if err != nil {
		t.Fatal(err)
	}
	back, err := c.ToUnit("potassium", canonical, "mEq/L")
	if err != nil {
		t.Fatal(err)
	}
	if back != 4.2 {
		t.Errorf("round trip = %v, want 4.2 exactly", back)
	}

	// Lossy conversions round-trip within the canonical precision.
	canonical, err = c.Normalize("scr", 150, "umol/L")
	if err != nil {
		t.Fatal(err)
	}
	back, err = c.ToUnit("scr", canonical, "umol/L")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(back-150) > 0.01 {
		t.Errorf("round trip = %v, want 150 within rounding tolerance", back)
	}
}

func TestRoundingAtFixedPrecision(t *testing.T) {
	c := DefaultCatalog()
	got, err := c.Normalize("upcr", 1.23456, "g/g")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.2346 {
		t.Errorf("1.23456 rounds to %v, want 1.2346", got)
	}
	got, err = c.Normalize("upcr", 1.23454, "g/g")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.2345 {
		t.Errorf("1.23454 rounds to %v, want 1.2345", got)
	}
}
