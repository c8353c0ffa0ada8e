package catalog

import (
	"fmt"
	"math"
)

// Validation is the outcome of checking a value against a definition.
// Errors holds one message per violated rule.
type Validation struct {
	Key      string   `json:"key"`
	Value    float64  `json:"value"`
	Valid    bool     `json:"valid"`
	NotFound bool     `json:"notFound,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Validate checks value against the definition registered under key. It
// never mutates the catalog. An unknown key yields NotFound rather than a
// panic or error so callers can report it alongside other problems.
func (c *Catalog) Validate(key string, value float64) Validation {
	result := Validation{Key: key, Value: value}

	def, ok := c.byKey[key]
	if !ok {
		result.NotFound = true
		result.Errors = []string{fmt.Sprintf("parameter %q not found", key)}
		return result
	}

	result.Errors = CheckDefinition(def, value)
	result.Valid = len(result.Errors) == 0
	return result
}

// CheckDefinition returns every rule of def that value violates.
func CheckDefinition(def Definition, value float64) []string {
	var errs []string

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return []string{fmt.Sprintf("%s must be a finite number", def.Name)}
	}

	min, max := def.Bounds()
	if min != nil && value < *min {
		errs = append(errs, fmt.Sprintf("%s must be at least %g, got %g", def.Name, *min, value))
	}
	if max != nil && value > *max {
		errs = append(errs, fmt.Sprintf("%s must be at most %g, got %g", def.Name, *max, value))
	}
	if def.Integer && value != math.Trunc(value) {
		errs = append(errs, fmt.Sprintf("%s must be a whole number, got %g", def.Name, value))
	}

	return errs
}

// ValidateAll checks every value in values and returns the results for the
// keys that failed, in the order given by keys.
func (c *Catalog) ValidateAll(keys []string, values map[string]float64) []Validation {
	var failures []Validation
	for _, key := range keys {
		if v := c.Validate(key, values[key]); !v.Valid {
			failures = append(failures, v)
		}
	}
	return failures
}
