package engine

import "math"

// buildCashFlow derives the cash flow statement from the income statement
// and the pre-cash balance sheet. When the closing cash would fall below
// the minimum cash balance the shortfall is drawn on the revolver; surplus
// cash repays any outstanding revolver first.
func buildCashFlow(p CoreParameters, pl ProfitLoss, bs BalanceSheet, mv movements, prior *BalanceSheet) CashFlow {
	var cf CashFlow

	cf.NetIncome = pl.NetIncome
	cf.Depreciation = bs.AccumulatedDepreciation - mv.openingDepreciation
	cf.Amortization = bs.AccumulatedAmortization - mv.openingAmortization

	// Working capital deltas are zero without a prior period.
	if prior != nil {
		cf.ChangeAccountsReceivable = -(bs.netReceivables() - prior.netReceivables())
		cf.ChangeInventory = -(bs.Inventory - prior.Inventory)
		cf.ChangePrepaidExpenses = -(bs.PrepaidExpenses - prior.PrepaidExpenses)
		cf.ChangeOtherCurrentAssets = -(bs.OtherCurrentAssets - prior.OtherCurrentAssets)
		cf.ChangeAccountsPayable = bs.AccountsPayable - prior.AccountsPayable
		cf.ChangeAccruedExpenses = bs.AccruedExpenses - prior.AccruedExpenses
		cf.ChangeTaxesPayable = bs.TaxesPayable - prior.TaxesPayable
	}

	cf.OperatingCashFlow = cf.NetIncome + cf.Depreciation + cf.Amortization +
		cf.ChangeAccountsReceivable + cf.ChangeInventory + cf.ChangePrepaidExpenses +
		cf.ChangeOtherCurrentAssets + cf.ChangeAccountsPayable + cf.ChangeAccruedExpenses +
		cf.ChangeTaxesPayable

	cf.CapitalExpenditures = -mv.capex
	cf.Acquisitions = -mv.acquisitions
	cf.DisposalProceeds = math.Max(mv.disposedBookValue, 0) * p.DisposalRecoveryRate
	cf.InvestingCashFlow = cf.CapitalExpenditures + cf.Acquisitions + cf.DisposalProceeds

	cf.DebtIssuance = mv.debtIssued
	cf.DebtRepayment = -mv.debtRepaid
	cf.DividendsPaid = -math.Max(pl.NetIncome, 0) * p.DividendPayoutRatio
	cf.ShareIssuance = mv.sharesIssued
	cf.ShareBuyback = -mv.sharesBought
	cf.FinancingCashFlow = cf.DebtIssuance + cf.DebtRepayment + cf.DividendsPaid +
		cf.ShareIssuance + cf.ShareBuyback

	cf.BeginningCash = p.OpeningCashBalance
	if prior != nil {
		cf.BeginningCash = prior.Cash
	}

	projected := cf.BeginningCash + cf.OperatingCashFlow + cf.InvestingCashFlow + cf.FinancingCashFlow
	switch {
	case projected < p.MinimumCashBalance:
		cf.RevolverDraw = p.MinimumCashBalance - projected
	case mv.openingRevolver > 0:
		cf.RevolverDraw = -math.Min(projected-p.MinimumCashBalance, mv.openingRevolver)
	}
	cf.FinancingCashFlow += cf.RevolverDraw

	cf.NetCashFlow = cf.OperatingCashFlow + cf.InvestingCashFlow + cf.FinancingCashFlow
	cf.EndingCash = cf.BeginningCash + cf.NetCashFlow
	cf.FreeCashFlow = cf.OperatingCashFlow + cf.CapitalExpenditures

	return cf
}
