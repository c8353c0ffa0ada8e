package engine

import (
	"math"

	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
)

// CostOfCapital returns the CAPM cost of equity, the after-tax cost of debt
// and their blend at the fixed debt/equity weights.
func CostOfCapital(p CoreParameters) (costOfEquity, costOfDebt, wacc float64) {
	costOfEquity = p.RiskFreeRate + p.Beta*p.MarketRiskPremium
	costOfDebt = p.InterestRateLongTerm * (1 - p.CorporateTaxRate)
	wacc = constants.DebtWeight*costOfDebt + constants.EquityWeight*costOfEquity
	return costOfEquity, costOfDebt, wacc
}

// CalculateDCF values the business from the period's statements. Free cash
// flow is projected at a fixed operating margin with revenue compounding at
// the product growth rate; D&A and working capital scale with revenue at the
// period's observed ratios.
//
// The Gordon terminal value is only defined when WACC exceeds the terminal
// growth rate. Otherwise the terminal value is 0 and TerminalValueGuarded is
// set, so the enterprise value covers the explicit horizon alone.
func CalculateDCF(p CoreParameters, pl ProfitLoss, bs BalanceSheet, cf CashFlow) DCFValuation {
	var dcf DCFValuation
	dcf.CostOfEquity, dcf.CostOfDebt, dcf.WACC = CostOfCapital(p)

	years := p.ProjectionPeriodYears
	if years < 1 {
		years = 1
	}

	baseRevenue := pl.TotalRevenue
	daRatio := mathutil.SafeDivide(cf.Depreciation+cf.Amortization, baseRevenue)
	nwcRatio := mathutil.SafeDivide(bs.operatingWorkingCapital(), baseRevenue)
	growth := p.ProductRevenueGrowth
	discountBase := 1 + dcf.WACC

	dcf.Projections = make([]Projection, 0, years)
	previous := baseRevenue
	for year := 1; year <= years; year++ {
		revenue := previous * (1 + growth)
		nopat := revenue * constants.DCFOperatingMargin * (1 - p.CorporateTaxRate)
		fcf := nopat + revenue*daRatio - revenue*p.CapexPercentage - (revenue-previous)*nwcRatio

		factor := 0.0
		if discountBase > 0 {
			factor = 1 / math.Pow(discountBase, float64(year))
		}

		dcf.Projections = append(dcf.Projections, Projection{
			Year:           year,
			Revenue:        revenue,
			NOPAT:          nopat,
			FreeCashFlow:   fcf,
			DiscountFactor: factor,
			PresentValue:   fcf * factor,
		})
		dcf.SumPresentValueFCF += fcf * factor
		previous = revenue
	}

	final := dcf.Projections[len(dcf.Projections)-1]
	spread := dcf.WACC - p.TerminalGrowthRate
	if spread <= constants.ComparisonEpsilon || discountBase <= 0 {
		dcf.TerminalValueGuarded = true
	} else {
		dcf.TerminalValue = final.FreeCashFlow * (1 + p.TerminalGrowthRate) / spread
		dcf.PresentTerminalValue = dcf.TerminalValue * final.DiscountFactor
	}

	dcf.EnterpriseValue = dcf.SumPresentValueFCF + dcf.PresentTerminalValue
	dcf.NetDebt = bs.ShortTermDebt + bs.LongTermDebt - bs.Cash
	dcf.EquityValue = dcf.EnterpriseValue - dcf.NetDebt
	dcf.ValuePerShare = dcf.EquityValue / constants.SharesOutstanding

	return dcf
}
