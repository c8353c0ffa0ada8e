package engine

import "time"

// ProfitLoss is the income statement for one period.
type ProfitLoss struct {
	ProductRevenue   float64 `json:"productRevenue"`
	ServiceRevenue   float64 `json:"serviceRevenue"`
	LicensingRevenue float64 `json:"licensingRevenue"`
	OtherRevenue     float64 `json:"otherRevenue"`
	TotalRevenue     float64 `json:"totalRevenue"`

	MaterialCosts float64 `json:"materialCosts"`
	LaborCosts    float64 `json:"laborCosts"`
	OverheadCosts float64 `json:"overheadCosts"`
	TotalCOGS     float64 `json:"totalCogs"`
	GrossProfit   float64 `json:"grossProfit"`

	SalesMarketing float64 `json:"salesMarketing"`
	ResearchDev    float64 `json:"researchDevelopment"`
	GeneralAdmin   float64 `json:"generalAdmin"`
	OtherOpex      float64 `json:"otherOpex"`
	TotalOpex      float64 `json:"totalOpex"`

	OperatingIncome float64 `json:"operatingIncome"`
	InterestIncome  float64 `json:"interestIncome"`
	InterestExpense float64 `json:"interestExpense"`
	IncomeBeforeTax float64 `json:"incomeBeforeTax"`
	TaxExpense      float64 `json:"taxExpense"`
	NetIncome       float64 `json:"netIncome"`

	GrossMarginPercentage     float64 `json:"grossMarginPercentage"`
	OperatingMarginPercentage float64 `json:"operatingMarginPercentage"`
	NetMarginPercentage       float64 `json:"netMarginPercentage"`
}

// BalanceSheet is the closing position for one period. It doubles as the
// prior-period input to the next Calculate call.
type BalanceSheet struct {
	Cash               float64 `json:"cash"`
	AccountsReceivable float64 `json:"accountsReceivable"`
	BadDebtAllowance   float64 `json:"badDebtAllowance"`
	Inventory          float64 `json:"inventory"`
	PrepaidExpenses    float64 `json:"prepaidExpenses"`
	OtherCurrentAssets float64 `json:"otherCurrentAssets"`
	TotalCurrentAssets float64 `json:"totalCurrentAssets"`

	PPEGross                float64 `json:"ppeGross"`
	AccumulatedDepreciation float64 `json:"accumulatedDepreciation"`
	PPENet                  float64 `json:"ppeNet"`
	IntangiblesGross        float64 `json:"intangiblesGross"`
	AccumulatedAmortization float64 `json:"accumulatedAmortization"`
	IntangiblesNet          float64 `json:"intangiblesNet"`
	Goodwill                float64 `json:"goodwill"`
	TotalNonCurrentAssets   float64 `json:"totalNonCurrentAssets"`
	TotalAssets             float64 `json:"totalAssets"`

	AccountsPayable         float64 `json:"accountsPayable"`
	AccruedExpenses         float64 `json:"accruedExpenses"`
	TaxesPayable            float64 `json:"taxesPayable"`
	ShortTermDebt           float64 `json:"shortTermDebt"`
	RevolverBalance         float64 `json:"revolverBalance"`
	TotalCurrentLiabilities float64 `json:"totalCurrentLiabilities"`
	LongTermDebt            float64 `json:"longTermDebt"`
	TotalLiabilities        float64 `json:"totalLiabilities"`

	CommonStock             float64 `json:"commonStock"`
	AdditionalPaidInCapital float64 `json:"additionalPaidInCapital"`
	TreasuryStock           float64 `json:"treasuryStock"`
	RetainedEarnings        float64 `json:"retainedEarnings"`
	TotalEquity             float64 `json:"totalEquity"`

	CurrentRatio   float64 `json:"currentRatio"`
	QuickRatio     float64 `json:"quickRatio"`
	DebtToEquity   float64 `json:"debtToEquity"`
	DebtToAssets   float64 `json:"debtToAssets"`
	WorkingCapital float64 `json:"workingCapital"`
}

// CashFlow is the cash flow statement for one period. Outflows are negative.
type CashFlow struct {
	NetIncome                float64 `json:"netIncome"`
	Depreciation             float64 `json:"depreciation"`
	Amortization             float64 `json:"amortization"`
	ChangeAccountsReceivable float64 `json:"changeAccountsReceivable"`
	ChangeInventory          float64 `json:"changeInventory"`
	ChangePrepaidExpenses    float64 `json:"changePrepaidExpenses"`
	ChangeOtherCurrentAssets float64 `json:"changeOtherCurrentAssets"`
	ChangeAccountsPayable    float64 `json:"changeAccountsPayable"`
	ChangeAccruedExpenses    float64 `json:"changeAccruedExpenses"`
	ChangeTaxesPayable       float64 `json:"changeTaxesPayable"`
	OperatingCashFlow        float64 `json:"operatingCashFlow"`

	CapitalExpenditures float64 `json:"capitalExpenditures"`
	Acquisitions        float64 `json:"acquisitions"`
	DisposalProceeds    float64 `json:"disposalProceeds"`
	InvestingCashFlow   float64 `json:"investingCashFlow"`

	DebtIssuance      float64 `json:"debtIssuance"`
	DebtRepayment     float64 `json:"debtRepayment"`
	DividendsPaid     float64 `json:"dividendsPaid"`
	ShareIssuance     float64 `json:"shareIssuance"`
	ShareBuyback      float64 `json:"shareBuyback"`
	RevolverDraw      float64 `json:"revolverDraw"`
	FinancingCashFlow float64 `json:"financingCashFlow"`

	NetCashFlow   float64 `json:"netCashFlow"`
	BeginningCash float64 `json:"beginningCash"`
	EndingCash    float64 `json:"endingCash"`
	FreeCashFlow  float64 `json:"freeCashFlow"`
}

// Projection is one projected year of the DCF.
type Projection struct {
	Year           int     `json:"year"`
	Revenue        float64 `json:"revenue"`
	NOPAT          float64 `json:"nopat"`
	FreeCashFlow   float64 `json:"freeCashFlow"`
	DiscountFactor float64 `json:"discountFactor"`
	PresentValue   float64 `json:"presentValue"`
}

// DCFValuation is the discounted cash flow valuation derived from a period.
type DCFValuation struct {
	CostOfEquity         float64      `json:"costOfEquity"`
	CostOfDebt           float64      `json:"costOfDebt"`
	WACC                 float64      `json:"wacc"`
	Projections          []Projection `json:"projections"`
	SumPresentValueFCF   float64      `json:"sumPresentValueFcf"`
	TerminalValue        float64      `json:"terminalValue"`
	PresentTerminalValue float64      `json:"presentTerminalValue"`
	TerminalValueGuarded bool         `json:"terminalValueGuarded"`
	EnterpriseValue      float64      `json:"enterpriseValue"`
	NetDebt              float64      `json:"netDebt"`
	EquityValue          float64      `json:"equityValue"`
	ValuePerShare        float64      `json:"valuePerShare"`
}

// Model bundles every statement produced by one Calculate call.
type Model struct {
	ProfitLoss   ProfitLoss     `json:"profitLoss"`
	BalanceSheet BalanceSheet   `json:"balanceSheet"`
	CashFlow     CashFlow       `json:"cashFlow"`
	DCF          DCFValuation   `json:"dcfValuation"`
	Parameters   CoreParameters `json:"parameters"`
	BaseRevenue  float64        `json:"baseRevenue"`
	Timestamp    time.Time      `json:"timestamp"`
}
