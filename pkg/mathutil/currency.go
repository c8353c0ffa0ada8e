// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/iwvelando/finance-model/pkg/constants"
)

// Round rounds a value to two decimals, i.e. to represent real currency.
// Used for making logical comparisons.
func Round(val float64) float64 {
	return math.Round(val*constants.DecimalPrecision) / constants.DecimalPrecision
}

// IsZero checks if a value is effectively zero (within tolerance)
func IsZero(val float64) bool {
	return math.Abs(val) <= constants.CurrencyTolerance
}

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// IsFinite reports whether val is neither NaN nor infinite.
func IsFinite(val float64) bool {
	return !math.IsNaN(val) && !math.IsInf(val, 0)
}

// SafeDivide returns numerator / denominator, or 0 when the denominator is
// zero or the quotient is not finite.
func SafeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	q := numerator / denominator
	if !IsFinite(q) {
		return 0
	}
	return q
}

// CalculatePercentage calculates what percentage value is of total
func CalculatePercentage(value, total float64) float64 {
	return SafeDivide(value, total) * constants.PercentageMultiplier
}

// PercentChange returns the change from base to value in percent of |base|.
// A zero base yields 0.
func PercentChange(base, value float64) float64 {
	return SafeDivide(value-base, math.Abs(base)) * constants.PercentageMultiplier
}

// DaysToBalance converts an annual flow into a balance held for the given
// number of days.
func DaysToBalance(annualFlow, days float64) float64 {
	return annualFlow * days / constants.DaysPerYear
}
