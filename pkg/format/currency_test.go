package format

import "testing"

func TestCurrency(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		expected string
	}{
		{"Small positive", 12.5, "$12.50"},
		{"Thousands", 1234.56, "$1,234.56"},
		{"Millions", 1052500, "$1,052,500.00"},
		{"Negative", -1234.567, "-$1,234.57"},
		{"Zero", 0, "$0.00"},
		{"Rounds to zero", -0.001, "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Currency(tt.amount); got != tt.expected {
				t.Errorf("Currency(%v) = %q, expected %q", tt.amount, got, tt.expected)
			}
		})
	}
}

func TestNumericCurrency(t *testing.T) {
	if got := NumericCurrency(-9876543.21); got != "-9,876,543.21" {
		t.Errorf("NumericCurrency() = %q", got)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(0.125, 2); got != "12.50%" {
		t.Errorf("Percent(0.125, 2) = %q", got)
	}
	if got := Percent(-0.05, 1); got != "-5.0%" {
		t.Errorf("Percent(-0.05, 1) = %q", got)
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(2.6789); got != "2.68x" {
		t.Errorf("Ratio(2.6789) = %q", got)
	}
}
