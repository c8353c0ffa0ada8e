package engine

import (
	"math"

	"github.com/iwvelando/finance-model/pkg/mathutil"
)

// movements carries the period flows the balance sheet roll-forward produces
// and the cash flow statement consumes.
type movements struct {
	capex             float64
	acquisitions      float64
	disposedBookValue float64
	debtIssued        float64
	debtRepaid        float64
	sharesIssued      float64
	sharesBought      float64

	// Accumulated balances carried in from the prior period, net of disposals.
	openingDepreciation float64
	openingAmortization float64
	openingRevolver     float64
}

// buildBalanceSheet computes every position except cash and the revolver.
// closeBalanceSheet completes it once the cash flow is known.
func buildBalanceSheet(p CoreParameters, pl ProfitLoss, prior *BalanceSheet) (BalanceSheet, movements) {
	var bs BalanceSheet
	var mv movements

	revenue := pl.TotalRevenue
	cogs := pl.TotalCOGS

	bs.AccountsReceivable = mathutil.DaysToBalance(revenue, p.AccountsReceivableDays)
	bs.BadDebtAllowance = bs.AccountsReceivable * p.BadDebtPercentage
	bs.Inventory = mathutil.DaysToBalance(cogs, p.InventoryDays)
	bs.PrepaidExpenses = revenue * p.PrepaidExpensesPercentage
	bs.OtherCurrentAssets = revenue * p.OtherCurrentAssetsPercentage

	// Property, plant and equipment.
	openingGross := revenue * p.OpeningPPEPercentage
	openingAccum := 0.0
	if prior != nil {
		openingGross = prior.PPEGross
		openingAccum = prior.AccumulatedDepreciation
	}
	disposedGross := openingGross * p.AssetDisposalPercentage
	disposedAccum := openingAccum * p.AssetDisposalPercentage
	mv.disposedBookValue = disposedGross - disposedAccum
	mv.capex = revenue * p.CapexPercentage

	retainedGross := openingGross - disposedGross
	bs.PPEGross = retainedGross + mv.capex
	mv.openingDepreciation = openingAccum - disposedAccum

	depreciation := 0.0
	if p.AssetUsefulLife > 0 {
		// Half-year convention on the period's additions.
		depreciation = (retainedGross + mv.capex/2) * (1 - p.SalvageValuePercentage) / p.AssetUsefulLife
	}
	depreciableCeiling := math.Max(bs.PPEGross*(1-p.SalvageValuePercentage), mv.openingDepreciation)
	bs.AccumulatedDepreciation = math.Min(mv.openingDepreciation+math.Max(depreciation, 0), depreciableCeiling)
	bs.PPENet = bs.PPEGross - bs.AccumulatedDepreciation

	// Intangibles amortize straight-line with no residual.
	bs.IntangiblesGross = revenue * p.IntangibleAssetsPercentage
	if prior != nil {
		bs.IntangiblesGross = prior.IntangiblesGross
		mv.openingAmortization = prior.AccumulatedAmortization
	}
	amortization := 0.0
	if p.AmortizationPeriod > 0 {
		amortization = bs.IntangiblesGross / p.AmortizationPeriod
	}
	bs.AccumulatedAmortization = math.Min(mv.openingAmortization+math.Max(amortization, 0),
		math.Max(bs.IntangiblesGross, mv.openingAmortization))
	bs.IntangiblesNet = bs.IntangiblesGross - bs.AccumulatedAmortization

	mv.acquisitions = revenue * p.AcquisitionsPercentage
	bs.Goodwill = p.Goodwill + mv.acquisitions
	if prior != nil {
		bs.Goodwill = prior.Goodwill + mv.acquisitions
	}

	bs.TotalNonCurrentAssets = bs.PPENet + bs.IntangiblesNet + bs.Goodwill

	bs.AccountsPayable = mathutil.DaysToBalance(cogs, p.AccountsPayableDays)
	bs.AccruedExpenses = revenue * p.AccruedExpensesPercentage
	bs.TaxesPayable = mathutil.DaysToBalance(pl.TaxExpense+revenue*p.VATRate, p.TaxPaymentDays)

	// Term short-term debt only; the revolver is added on close.
	bs.ShortTermDebt = revenue * p.ShortTermDebtPercentage
	openingLongTerm := revenue * p.LongTermDebtPercentage
	if prior != nil {
		bs.ShortTermDebt = prior.ShortTermDebt - prior.RevolverBalance
		openingLongTerm = prior.LongTermDebt
		mv.openingRevolver = prior.RevolverBalance
	}
	mv.debtIssued = math.Max(revenue*p.DebtIssuancePercentage, 0)
	mv.debtRepaid = math.Min(math.Max(revenue*p.DebtRepaymentPercentage, 0), openingLongTerm+mv.debtIssued)
	bs.LongTermDebt = openingLongTerm + mv.debtIssued - mv.debtRepaid

	mv.sharesIssued = p.ShareIssuance
	mv.sharesBought = p.ShareBuyback
	bs.CommonStock = p.CommonStock
	bs.AdditionalPaidInCapital = p.AdditionalPaidInCapital + mv.sharesIssued
	bs.TreasuryStock = mv.sharesBought
	if prior != nil {
		bs.CommonStock = prior.CommonStock
		bs.AdditionalPaidInCapital = prior.AdditionalPaidInCapital + mv.sharesIssued
		bs.TreasuryStock = prior.TreasuryStock + mv.sharesBought
	}

	return bs, mv
}

// closeBalanceSheet books the period's closing cash and revolver, then
// derives totals, the retained earnings plug and ratios.
func closeBalanceSheet(bs BalanceSheet, mv movements, cf CashFlow) BalanceSheet {
	bs.Cash = cf.EndingCash
	bs.RevolverBalance = mv.openingRevolver + cf.RevolverDraw
	bs.ShortTermDebt += bs.RevolverBalance

	bs.TotalCurrentAssets = bs.Cash + bs.netReceivables() + bs.Inventory + bs.PrepaidExpenses + bs.OtherCurrentAssets
	bs.TotalAssets = bs.TotalCurrentAssets + bs.TotalNonCurrentAssets

	bs.TotalCurrentLiabilities = bs.AccountsPayable + bs.AccruedExpenses + bs.TaxesPayable + bs.ShortTermDebt
	bs.TotalLiabilities = bs.TotalCurrentLiabilities + bs.LongTermDebt

	// Equity is the plug. Restating assets from it keeps
	// assets == liabilities + equity exact in floating point.
	bs.TotalEquity = bs.TotalAssets - bs.TotalLiabilities
	bs.TotalAssets = bs.TotalLiabilities + bs.TotalEquity
	bs.RetainedEarnings = bs.TotalEquity - bs.paidInCapital()

	debt := bs.ShortTermDebt + bs.LongTermDebt
	bs.CurrentRatio = mathutil.SafeDivide(bs.TotalCurrentAssets, bs.TotalCurrentLiabilities)
	bs.QuickRatio = mathutil.SafeDivide(bs.TotalCurrentAssets-bs.Inventory, bs.TotalCurrentLiabilities)
	bs.DebtToEquity = mathutil.SafeDivide(debt, bs.TotalEquity)
	bs.DebtToAssets = mathutil.SafeDivide(debt, bs.TotalAssets)
	bs.WorkingCapital = bs.TotalCurrentAssets - bs.TotalCurrentLiabilities

	return bs
}

func (bs BalanceSheet) netReceivables() float64 {
	return bs.AccountsReceivable - bs.BadDebtAllowance
}

func (bs BalanceSheet) paidInCapital() float64 {
	return bs.CommonStock + bs.AdditionalPaidInCapital - bs.TreasuryStock
}

// operatingWorkingCapital excludes cash and debt.
func (bs BalanceSheet) operatingWorkingCapital() float64 {
	return bs.netReceivables() + bs.Inventory + bs.PrepaidExpenses + bs.OtherCurrentAssets -
		bs.AccountsPayable - bs.AccruedExpenses
}
