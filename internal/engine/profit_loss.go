package engine

import (
	"math"

	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
)

// CalculateProfitLoss derives the income statement. Interest is charged on
// the prior period's debt and earned on its closing cash; without a prior
// period the opening balances implied by the parameters are used.
func CalculateProfitLoss(p CoreParameters, baseRevenue float64, prior *BalanceSheet) ProfitLoss {
	var pl ProfitLoss

	fx := p.ExchangeRate
	pl.ProductRevenue = baseRevenue * p.ProductRevenueMix * (1 + p.ProductRevenueGrowth) * fx
	pl.ServiceRevenue = baseRevenue * p.ServiceRevenueMix * (1 + p.ServiceRevenueGrowth) * fx
	pl.LicensingRevenue = baseRevenue * p.LicensingRevenueMix * fx
	pl.OtherRevenue = baseRevenue * p.OtherRevenueMix * fx
	pl.TotalRevenue = pl.ProductRevenue + pl.ServiceRevenue + pl.LicensingRevenue + pl.OtherRevenue

	revenue := pl.TotalRevenue
	pl.MaterialCosts = revenue * p.MaterialCostPercentage * (1 + p.MaterialCostInflation)
	pl.LaborCosts = revenue * p.LaborCostPercentage * (1 + p.LaborCostInflation)
	pl.OverheadCosts = revenue * p.OverheadCostPercentage * (1 + p.InflationRate)
	pl.TotalCOGS = pl.MaterialCosts + pl.LaborCosts + pl.OverheadCosts
	pl.GrossProfit = revenue - pl.TotalCOGS

	pl.SalesMarketing = revenue * p.SalesMarketingPercentage
	pl.ResearchDev = revenue * p.RDPercentage
	pl.GeneralAdmin = revenue * p.GeneralAdminPercentage
	pl.OtherOpex = revenue * p.OtherOpexPercentage
	pl.TotalOpex = pl.SalesMarketing + pl.ResearchDev + pl.GeneralAdmin + pl.OtherOpex
	pl.OperatingIncome = pl.GrossProfit - pl.TotalOpex

	openingCash := p.OpeningCashBalance
	shortDebt := revenue * p.ShortTermDebtPercentage
	longDebt := revenue * p.LongTermDebtPercentage
	if prior != nil {
		openingCash = prior.Cash
		shortDebt = prior.ShortTermDebt
		longDebt = prior.LongTermDebt
	}
	pl.InterestIncome = math.Max(openingCash, 0) * p.InterestRateShortTerm * (1 - p.WithholdingTaxRate)
	pl.InterestExpense = shortDebt*p.InterestRateShortTerm + longDebt*p.InterestRateLongTerm

	pl.IncomeBeforeTax = pl.OperatingIncome + pl.InterestIncome - pl.InterestExpense
	pl.TaxExpense = math.Max(0, pl.IncomeBeforeTax*p.CorporateTaxRate-p.TaxCredits)
	pl.NetIncome = pl.IncomeBeforeTax - pl.TaxExpense

	pl.GrossMarginPercentage = mathutil.SafeDivide(pl.GrossProfit, revenue) * constants.PercentageMultiplier
	pl.OperatingMarginPercentage = mathutil.SafeDivide(pl.OperatingIncome, revenue) * constants.PercentageMultiplier
	pl.NetMarginPercentage = mathutil.SafeDivide(pl.NetIncome, revenue) * constants.PercentageMultiplier

	return pl
}
