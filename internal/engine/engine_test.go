package engine

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/iwvelando/finance-model/internal/catalog"
)

const baseRevenue = 1_000_000.0

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestCalculateDefaults(t *testing.T) {
	m := Calculate(DefaultParameters(), baseRevenue, nil)

	expectedRevenue := baseRevenue * (0.7*1.05 + 0.25*1.07 + 0.03 + 0.02)
	if !approxEqual(m.ProfitLoss.TotalRevenue, expectedRevenue, 0.01) {
		t.Errorf("TotalRevenue = %.2f, expected %.2f", m.ProfitLoss.TotalRevenue, expectedRevenue)
	}
	if m.ProfitLoss.NetIncome <= 0 {
		t.Errorf("expected positive net income, got %.2f", m.ProfitLoss.NetIncome)
	}
	if m.BalanceSheet.CurrentRatio <= 1 {
		t.Errorf("expected current ratio > 1, got %.2f", m.BalanceSheet.CurrentRatio)
	}
	if err := CheckBalance(m.BalanceSheet); err != nil {
		t.Errorf("CheckBalance() error = %v", err)
	}
	if !approxEqual(m.DCF.WACC, 0.0919, 1e-9) {
		t.Errorf("WACC = %.6f, expected 0.0919", m.DCF.WACC)
	}
	if m.DCF.TerminalValueGuarded {
		t.Error("terminal value should not be guarded at default assumptions")
	}
	if m.DCF.EnterpriseValue <= 0 {
		t.Errorf("expected positive enterprise value, got %.2f", m.DCF.EnterpriseValue)
	}
	if len(m.DCF.Projections) != 5 {
		t.Errorf("expected 5 projection years, got %d", len(m.DCF.Projections))
	}
	if m.BaseRevenue != baseRevenue {
		t.Errorf("BaseRevenue = %.2f, expected %.2f", m.BaseRevenue, baseRevenue)
	}
	if m.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestCashMatchesCashFlow(t *testing.T) {
	m := Calculate(DefaultParameters(), baseRevenue, nil)

	if m.CashFlow.BeginningCash != DefaultParameters().OpeningCashBalance {
		t.Errorf("BeginningCash = %.2f, expected opening cash balance", m.CashFlow.BeginningCash)
	}
	if m.BalanceSheet.Cash != m.CashFlow.EndingCash {
		t.Errorf("balance sheet cash %.2f != cash flow ending cash %.2f", m.BalanceSheet.Cash, m.CashFlow.EndingCash)
	}
	net := m.CashFlow.OperatingCashFlow + m.CashFlow.InvestingCashFlow + m.CashFlow.FinancingCashFlow
	if !approxEqual(net, m.CashFlow.NetCashFlow, 1e-6) {
		t.Errorf("NetCashFlow = %.2f, expected %.2f", m.CashFlow.NetCashFlow, net)
	}
	if m.CashFlow.CapitalExpenditures >= 0 {
		t.Errorf("capex should be an outflow, got %.2f", m.CashFlow.CapitalExpenditures)
	}
	if m.CashFlow.Depreciation <= 0 || m.CashFlow.Amortization <= 0 {
		t.Errorf("expected positive D&A, got %.2f and %.2f", m.CashFlow.Depreciation, m.CashFlow.Amortization)
	}
	if m.CashFlow.ChangeAccountsReceivable != 0 || m.CashFlow.ChangeInventory != 0 {
		t.Error("working capital deltas must be zero without a prior period")
	}
}

func TestZeroRevenueStaysFinite(t *testing.T) {
	m := Calculate(DefaultParameters(), 0, nil)

	values := map[string]float64{
		"gross margin":     m.ProfitLoss.GrossMarginPercentage,
		"operating margin": m.ProfitLoss.OperatingMarginPercentage,
		"net margin":       m.ProfitLoss.NetMarginPercentage,
		"current ratio":    m.BalanceSheet.CurrentRatio,
		"quick ratio":      m.BalanceSheet.QuickRatio,
		"debt to equity":   m.BalanceSheet.DebtToEquity,
		"enterprise value": m.DCF.EnterpriseValue,
		"value per share":  m.DCF.ValuePerShare,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s is not finite: %v", name, v)
		}
	}
	if m.ProfitLoss.GrossMarginPercentage != 0 {
		t.Errorf("expected zero gross margin, got %v", m.ProfitLoss.GrossMarginPercentage)
	}
	if err := CheckBalance(m.BalanceSheet); err != nil {
		t.Errorf("CheckBalance() error = %v", err)
	}
}

func TestRevenueGrowthMonotonic(t *testing.T) {
	growthRates := []float64{0.0, 0.02, 0.05, 0.08, 0.12}

	var prevRevenue, prevEV float64
	for i, g := range growthRates {
		p, err := DefaultParameters().With(map[string]float64{"product_revenue_growth": g})
		if err != nil {
			t.Fatalf("With() error = %v", err)
		}
		m := Calculate(p, baseRevenue, nil)
		if i > 0 {
			if m.ProfitLoss.TotalRevenue <= prevRevenue {
				t.Errorf("growth %.2f: revenue %.2f did not increase from %.2f", g, m.ProfitLoss.TotalRevenue, prevRevenue)
			}
			if m.DCF.EnterpriseValue <= prevEV {
				t.Errorf("growth %.2f: enterprise value %.2f did not increase from %.2f", g, m.DCF.EnterpriseValue, prevEV)
			}
		}
		prevRevenue = m.ProfitLoss.TotalRevenue
		prevEV = m.DCF.EnterpriseValue
	}
}

func TestCalculateDeterministic(t *testing.T) {
	p := DefaultParameters()
	prior := Calculate(p, baseRevenue, nil).BalanceSheet

	first := Calculate(p, 2_500_000, &prior)
	second := Calculate(p, 2_500_000, &prior)
	first.Timestamp = time.Time{}
	second.Timestamp = time.Time{}

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different models")
	}
}

func TestCalculateDoesNotMutateInputs(t *testing.T) {
	p := DefaultParameters()
	before := p
	prior := Calculate(p, baseRevenue, nil).BalanceSheet
	priorCopy := prior

	_ = Calculate(p, baseRevenue, &prior)

	if !reflect.DeepEqual(p, before) {
		t.Error("parameters were mutated")
	}
	if !reflect.DeepEqual(prior, priorCopy) {
		t.Error("prior balance sheet was mutated")
	}
}

func TestTerminalValueGuard(t *testing.T) {
	tests := []struct {
		name    string
		growth  float64
		guarded bool
	}{
		{"Spread positive", 0.025, false},
		{"Growth equals WACC", 0.0919, true},
		{"Growth above WACC", 0.15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DefaultParameters().With(map[string]float64{"terminal_growth_rate": tt.growth})
			if err != nil {
				t.Fatalf("With() error = %v", err)
			}
			dcf := Calculate(p, baseRevenue, nil).DCF
			if dcf.TerminalValueGuarded != tt.guarded {
				t.Errorf("TerminalValueGuarded = %v, expected %v", dcf.TerminalValueGuarded, tt.guarded)
			}
			if math.IsInf(dcf.EnterpriseValue, 0) || math.IsNaN(dcf.EnterpriseValue) {
				t.Errorf("enterprise value is not finite: %v", dcf.EnterpriseValue)
			}
			if tt.guarded && dcf.TerminalValue != 0 {
				t.Errorf("expected zero terminal value when guarded, got %.2f", dcf.TerminalValue)
			}
			if tt.guarded && !approxEqual(dcf.EnterpriseValue, dcf.SumPresentValueFCF, 1e-6) {
				t.Error("guarded enterprise value should equal the explicit horizon")
			}
		})
	}
}

func TestRevolverCoversMinimumCash(t *testing.T) {
	p, err := DefaultParameters().With(map[string]float64{"minimum_cash_balance": 5_000_000})
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	m := Calculate(p, baseRevenue, nil)

	if m.CashFlow.RevolverDraw <= 0 {
		t.Fatalf("expected a revolver draw, got %.2f", m.CashFlow.RevolverDraw)
	}
	if !approxEqual(m.BalanceSheet.Cash, 5_000_000, 1e-6) {
		t.Errorf("cash = %.2f, expected the minimum balance", m.BalanceSheet.Cash)
	}
	if m.BalanceSheet.RevolverBalance != m.CashFlow.RevolverDraw {
		t.Errorf("RevolverBalance = %.2f, expected %.2f", m.BalanceSheet.RevolverBalance, m.CashFlow.RevolverDraw)
	}
	if err := CheckBalance(m.BalanceSheet); err != nil {
		t.Errorf("CheckBalance() error = %v", err)
	}

	// Dropping the minimum lets the next period repay the revolver.
	relaxed, _ := p.With(map[string]float64{"minimum_cash_balance": 0})
	next := Calculate(relaxed, m.ProfitLoss.TotalRevenue, &m.BalanceSheet)
	if next.CashFlow.RevolverDraw >= 0 {
		t.Errorf("expected a revolver repayment, got %.2f", next.CashFlow.RevolverDraw)
	}
	if next.BalanceSheet.RevolverBalance < 0 {
		t.Errorf("revolver balance went negative: %.2f", next.BalanceSheet.RevolverBalance)
	}
}

func TestRunPeriods(t *testing.T) {
	models := RunPeriods(DefaultParameters(), baseRevenue, nil, 3)
	if len(models) != 3 {
		t.Fatalf("expected 3 periods, got %d", len(models))
	}

	for i, m := range models {
		if err := CheckBalance(m.BalanceSheet); err != nil {
			t.Errorf("period %d: %v", i+1, err)
		}
		if i == 0 {
			continue
		}
		prev := models[i-1]
		if m.BaseRevenue != prev.ProfitLoss.TotalRevenue {
			t.Errorf("period %d base revenue %.2f, expected %.2f", i+1, m.BaseRevenue, prev.ProfitLoss.TotalRevenue)
		}
		if m.CashFlow.BeginningCash != prev.BalanceSheet.Cash {
			t.Errorf("period %d beginning cash %.2f, expected %.2f", i+1, m.CashFlow.BeginningCash, prev.BalanceSheet.Cash)
		}
		if m.BalanceSheet.AccumulatedDepreciation <= prev.BalanceSheet.AccumulatedDepreciation {
			t.Errorf("period %d accumulated depreciation did not grow", i+1)
		}
		if m.CashFlow.ChangeAccountsReceivable >= 0 {
			t.Errorf("period %d: growing receivables should consume cash, got %.2f", i+1, m.CashFlow.ChangeAccountsReceivable)
		}
	}

	if got := RunPeriods(DefaultParameters(), baseRevenue, nil, 0); len(got) != 1 {
		t.Errorf("expected at least one period, got %d", len(got))
	}
}

func TestBalanceIdentityAcrossParameterSpace(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	defs := catalog.MustDefault().Definitions()

	for i := 0; i < 1000; i++ {
		overrides := make(map[string]float64, len(defs))
		for _, def := range defs {
			min, max := def.Bounds()
			lo, hi := 0.0, def.DefaultValue*2
			if min != nil {
				lo = *min
			}
			if max != nil {
				hi = *max
			}
			if hi < lo {
				hi = lo
			}
			v := lo + rng.Float64()*(hi-lo)
			if def.Integer {
				v = math.Round(v)
			}
			overrides[def.Key] = v
		}

		p, err := DefaultParameters().With(overrides)
		if err != nil {
			t.Fatalf("With() error = %v", err)
		}
		revenue := rng.Float64() * 10_000_000

		for period, m := range RunPeriods(p, revenue, nil, 3) {
			bs := m.BalanceSheet
			if bs.TotalAssets != bs.TotalLiabilities+bs.TotalEquity {
				t.Fatalf("iteration %d period %d: assets %v != liabilities %v + equity %v",
					i, period+1, bs.TotalAssets, bs.TotalLiabilities, bs.TotalEquity)
			}
			if err := CheckBalance(bs); err != nil {
				t.Fatalf("iteration %d period %d: %v", i, period+1, err)
			}
			for name, v := range map[string]float64{
				"gross margin":     m.ProfitLoss.GrossMarginPercentage,
				"operating margin": m.ProfitLoss.OperatingMarginPercentage,
				"net margin":       m.ProfitLoss.NetMarginPercentage,
				"enterprise value": m.DCF.EnterpriseValue,
			} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("iteration %d period %d: %s not finite", i, period+1, name)
				}
			}
		}
	}
}

func TestCheckBalanceDetectsMismatch(t *testing.T) {
	bs := Calculate(DefaultParameters(), baseRevenue, nil).BalanceSheet
	bs.TotalEquity += 1000

	if err := CheckBalance(bs); err == nil {
		t.Error("expected mismatch to be reported")
	}
}
