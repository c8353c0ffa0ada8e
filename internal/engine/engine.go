// Package engine derives the financial statements and DCF valuation from a
// resolved parameter set.
//
// Calculation runs in a fixed order: the income statement, the balance sheet
// positions, the cash flow statement, the closing balance sheet and finally
// the valuation. Every function here is pure and safe to call concurrently.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/iwvelando/finance-model/pkg/constants"
)

// Calculate derives every statement for one period. prior is the previous
// period's balance sheet, or nil for an opening period. Inputs are not
// modified and only Timestamp depends on the wall clock.
func Calculate(p CoreParameters, baseRevenue float64, prior *BalanceSheet) Model {
	pl := CalculateProfitLoss(p, baseRevenue, prior)
	bs, mv := buildBalanceSheet(p, pl, prior)
	cf := buildCashFlow(p, pl, bs, mv, prior)
	bs = closeBalanceSheet(bs, mv, cf)
	dcf := CalculateDCF(p, pl, bs, cf)

	return Model{
		ProfitLoss:   pl,
		BalanceSheet: bs,
		CashFlow:     cf,
		DCF:          dcf,
		Parameters:   p,
		BaseRevenue:  baseRevenue,
		Timestamp:    time.Now().UTC(),
	}
}

// RunPeriods chains period calculations. Each period's closing balance
// sheet is the next period's prior and its total revenue the next base.
func RunPeriods(p CoreParameters, baseRevenue float64, prior *BalanceSheet, periods int) []Model {
	if periods < 1 {
		periods = 1
	}

	models := make([]Model, 0, periods)
	revenue := baseRevenue
	for i := 0; i < periods; i++ {
		m := Calculate(p, revenue, prior)
		models = append(models, m)
		closing := m.BalanceSheet
		prior = &closing
		revenue = m.ProfitLoss.TotalRevenue
	}
	return models
}

// CheckBalance verifies the accounting identities of a balance sheet. The
// generator balances by construction, so this is an independent check for
// tests and diagnostics rather than part of the calculation.
func CheckBalance(bs BalanceSheet) error {
	checks := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"total assets", bs.TotalAssets, bs.TotalLiabilities + bs.TotalEquity},
		{"asset subtotal", bs.TotalAssets, bs.TotalCurrentAssets + bs.TotalNonCurrentAssets},
		{"liability subtotal", bs.TotalLiabilities, bs.TotalCurrentLiabilities + bs.LongTermDebt},
		{"equity components", bs.TotalEquity, bs.paidInCapital() + bs.RetainedEarnings},
	}

	for _, c := range checks {
		tolerance := constants.CurrencyTolerance * math.Max(1, math.Abs(c.expected)/1e9)
		if math.IsNaN(c.got) || math.Abs(c.got-c.expected) > tolerance {
			return fmt.Errorf("balance sheet %s mismatch: %.2f != %.2f", c.name, c.got, c.expected)
		}
	}
	return nil
}
