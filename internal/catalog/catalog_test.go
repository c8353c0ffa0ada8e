package catalog

import (
	"math"
	"strings"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	groups := c.Groups()
	if len(groups) != len(Categories) {
		t.Fatalf("expected %d groups, got %d", len(Categories), len(groups))
	}
	for _, cat := range Categories {
		g, ok := groups[cat]
		if !ok {
			t.Errorf("missing group %s", cat)
			continue
		}
		if len(g.Parameters) == 0 {
			t.Errorf("group %s has no parameters", cat)
		}
		for _, def := range g.Parameters {
			if def.Category != cat {
				t.Errorf("%s: expected category %s, got %s", def.Key, cat, def.Category)
			}
		}
	}

	if n := len(c.Definitions()); n < 45 {
		t.Errorf("expected at least 45 definitions, got %d", n)
	}
}

func TestDependenciesExist(t *testing.T) {
	c := MustDefault()
	for _, def := range c.Definitions() {
		for _, dep := range def.Dependencies {
			if _, ok := c.Definition(dep); !ok {
				t.Errorf("%s depends on missing parameter %s", def.Key, dep)
			}
		}
	}
}

func TestDefaultsAreValid(t *testing.T) {
	c := MustDefault()
	for key, value := range c.Defaults() {
		if v := c.Validate(key, value); !v.Valid {
			t.Errorf("default for %s is invalid: %v", key, v.Errors)
		}
	}
}

func TestDefinitionLookup(t *testing.T) {
	c := MustDefault()

	def, ok := c.Definition("accounts_receivable_days")
	if !ok {
		t.Fatal("expected accounts_receivable_days to exist")
	}
	if def.Type != TypeDays || def.DefaultValue != 45 {
		t.Errorf("unexpected definition: %+v", def)
	}

	if _, ok := c.Definition("no_such_parameter"); ok {
		t.Error("expected unknown key to be reported as not found")
	}
}

func TestValidate(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		name       string
		key        string
		value      float64
		valid      bool
		notFound   bool
		errorCount int
	}{
		{"Default inflation", "inflation_rate", 0.03, true, false, 0},
		{"Above explicit max", "inflation_rate", 0.75, false, false, 1},
		{"Below explicit min", "gdp_growth_rate", -0.5, false, false, 1},
		{"Percentage implicit max", "material_cost_percentage", 1.2, false, false, 1},
		{"Percentage implicit min", "material_cost_percentage", -0.1, false, false, 1},
		{"Percentage upper edge", "material_cost_percentage", 1.0, true, false, 0},
		{"Days in range", "inventory_days", 90, true, false, 0},
		{"Days out of range", "inventory_days", 400, false, false, 1},
		{"Integer years", "projection_period_years", 7, true, false, 0},
		{"Fractional years and above max accumulate", "projection_period_years", 31.5, false, false, 2},
		{"Currency has no max", "opening_cash_balance", 1e12, true, false, 0},
		{"Unknown key", "unknown", 1, false, true, 1},
		{"NaN", "beta", math.NaN(), false, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Validate(tt.key, tt.value)
			if v.Valid != tt.valid {
				t.Errorf("Valid = %v, expected %v (errors: %v)", v.Valid, tt.valid, v.Errors)
			}
			if v.NotFound != tt.notFound {
				t.Errorf("NotFound = %v, expected %v", v.NotFound, tt.notFound)
			}
			if len(v.Errors) != tt.errorCount {
				t.Errorf("expected %d errors, got %d: %v", tt.errorCount, len(v.Errors), v.Errors)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	c := MustDefault()
	failures := c.ValidateAll(
		[]string{"inflation_rate", "beta", "inventory_days"},
		map[string]float64{"inflation_rate": 0.02, "beta": 9, "inventory_days": -1},
	)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d: %+v", len(failures), failures)
	}
	if failures[0].Key != "beta" || failures[1].Key != "inventory_days" {
		t.Errorf("unexpected failure order: %+v", failures)
	}
}

func TestDependentsAndOrder(t *testing.T) {
	c := MustDefault()

	dependents := c.Dependents("inflation_rate")
	if len(dependents) == 0 {
		t.Fatal("expected inflation_rate to affect other parameters")
	}

	order := c.DependencyOrder()
	if len(order) != len(c.Definitions()) {
		t.Fatalf("dependency order has %d keys, expected %d", len(order), len(c.Definitions()))
	}
	position := make(map[string]int, len(order))
	for i, key := range order {
		position[key] = i
	}
	for _, def := range c.Definitions() {
		for _, dep := range def.Dependencies {
			if position[dep] > position[def.Key] {
				t.Errorf("%s ordered before its dependency %s", def.Key, dep)
			}
		}
	}
}

func TestAffected(t *testing.T) {
	c := MustDefault()

	affected := c.Affected("inflation_rate")
	seen := make(map[string]bool, len(affected))
	for _, k := range affected {
		seen[k] = true
	}
	// interest_rate_long_term depends on inflation_rate and
	// long_term_debt_percentage depends on interest_rate_long_term.
	for _, k := range []string{"interest_rate_long_term", "long_term_debt_percentage", "terminal_growth_rate"} {
		if !seen[k] {
			t.Errorf("expected %s to be affected by inflation_rate", k)
		}
	}
	if seen["inflation_rate"] {
		t.Error("a parameter should not affect itself")
	}
	if seen["beta"] {
		t.Error("beta does not depend on inflation_rate")
	}

	if got := c.Affected("projection_period_years"); len(got) != 0 {
		t.Errorf("expected no affected parameters, got %v", got)
	}
}

func TestParseRejectsInvalidTables(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		wantErr string
	}{
		{
			name: "Dangling dependency",
			table: `groups:
  - category: tax
    parameters:
      - {key: a, name: A, type: number, default: 1, dependencies: [missing]}`,
			wantErr: "unknown parameter",
		},
		{
			name: "Cycle",
			table: `groups:
  - category: tax
    parameters:
      - {key: a, name: A, type: number, default: 1, dependencies: [b]}
      - {key: b, name: B, type: number, default: 1, dependencies: [a]}`,
			wantErr: "cycle",
		},
		{
			name: "Duplicate key",
			table: `groups:
  - category: tax
    parameters:
      - {key: a, name: A, type: number, default: 1}
      - {key: a, name: A, type: number, default: 1}`,
			wantErr: "duplicate",
		},
		{
			name: "Unknown category",
			table: `groups:
  - category: marketing
    parameters: []`,
			wantErr: "unknown category",
		},
		{
			name: "Default out of bounds",
			table: `groups:
  - category: tax
    parameters:
      - {key: a, name: A, type: percentage, default: 2}`,
			wantErr: "invalid default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.table))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGroupsAreCopies(t *testing.T) {
	c := MustDefault()
	groups := c.Groups()
	g := groups[CategoryTax]
	g.Parameters[0].Name = "mutated"

	def, _ := c.Definition(g.Parameters[0].Key)
	if def.Name == "mutated" {
		t.Error("mutating a returned group must not change the catalog")
	}
}
