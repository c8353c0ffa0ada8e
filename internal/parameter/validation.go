package parameter

import (
	"fmt"
	"math"
	"strings"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/store"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
)

// Problem lists every rule one value violates.
type Problem struct {
	ParameterID string   `json:"parameterId,omitempty"`
	Key         string   `json:"key"`
	Value       float64  `json:"value"`
	Errors      []string `json:"errors"`
}

// ValidationError is returned when one or more values fail validation. It
// carries every problem found, not just the first.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		p := e.Problems[0]
		return fmt.Sprintf("invalid value %g for %s: %s", p.Value, p.Key, strings.Join(p.Errors, "; "))
	}
	return fmt.Sprintf("%d invalid parameter values", len(e.Problems))
}

// checkValue applies the bounds of the parameter followed by its custom
// rules. Keyed parameters use the tighter of the catalog bounds and the
// bounds detected in the file; custom ones use their own.
func (s *Service) checkValue(p store.Parameter, value float64) []string {
	def, ok := s.catalog.Definition(p.Key)
	if ok {
		def = tightenBounds(def, p.MinValue, p.MaxValue)
	} else {
		def = catalog.Definition{
			Key:      p.Key,
			Name:     p.Name,
			Type:     catalog.Type(p.Type),
			MinValue: p.MinValue,
			MaxValue: p.MaxValue,
		}
	}
	errs := catalog.CheckDefinition(def, value)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errs
	}

	for _, rule := range p.ValidationRules {
		if msg, failed := checkRule(rule, p.Name, value); failed {
			errs = append(errs, msg)
		}
	}
	return errs
}

// tightenBounds narrows the effective bounds of def to min and max where
// they are stricter. Looser values never widen the catalog range.
func tightenBounds(def catalog.Definition, min, max *float64) catalog.Definition {
	lo, hi := def.Bounds()
	if min != nil && (lo == nil || *min > *lo) {
		def.MinValue = min
	}
	if max != nil && (hi == nil || *max < *hi) {
		def.MaxValue = max
	}
	return def
}

func checkRule(rule store.ValidationRule, name string, value float64) (string, bool) {
	var failed bool
	var msg string
	switch rule.Kind {
	case store.RuleMin:
		failed = value < rule.Value
		msg = fmt.Sprintf("%s must be at least %g, got %g", name, rule.Value, value)
	case store.RuleMax:
		failed = value > rule.Value
		msg = fmt.Sprintf("%s must be at most %g, got %g", name, rule.Value, value)
	case store.RuleNonZero:
		failed = mathutil.WithinTolerance(value, 0, constants.ComparisonEpsilon)
		msg = fmt.Sprintf("%s must not be zero", name)
	case store.RuleInteger:
		failed = value != math.Trunc(value)
		msg = fmt.Sprintf("%s must be a whole number, got %g", name, value)
	default:
		return fmt.Sprintf("%s has unknown validation rule %q", name, rule.Kind), true
	}
	if rule.Message != "" {
		msg = rule.Message
	}
	return msg, failed
}
