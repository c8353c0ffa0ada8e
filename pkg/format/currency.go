// Package format renders monetary and ratio values for human-readable output.
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency returns a currency string with a dollar sign and thousands separators (e.g., "-$1,234.56").
func Currency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	formatted := groupThousands(d.Abs().StringFixed(2))
	if d.IsNegative() {
		return "-$" + formatted
	}
	return "$" + formatted
}

// NumericCurrency returns a currency string without a currency symbol but with separators (e.g., "-1,234.56").
func NumericCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	formatted := groupThousands(d.Abs().StringFixed(2))
	if d.IsNegative() {
		return "-" + formatted
	}
	return formatted
}

// Percent renders a fraction (0.125) as a percentage with the given number
// of decimals ("12.50%").
func Percent(fraction float64, places int32) string {
	return decimal.NewFromFloat(fraction).Shift(2).StringFixed(places) + "%"
}

// Ratio renders a plain ratio with two decimals ("1.75x").
func Ratio(value float64) string {
	return decimal.NewFromFloat(value).StringFixed(2) + "x"
}

func groupThousands(fixed string) string {
	parts := strings.SplitN(fixed, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
