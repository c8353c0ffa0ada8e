package engine

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/mitchellh/mapstructure"
)

// ErrUnknownParameter is returned when an override names a key that
// CoreParameters does not carry.
var ErrUnknownParameter = errors.New("unknown parameter")

// CoreParameters is the resolved parameter set consumed by Calculate. It is a
// value type; use With to derive a modified copy.
type CoreParameters struct {
	// Economic environment
	InflationRate         float64 `mapstructure:"inflation_rate" json:"inflation_rate"`
	GDPGrowthRate         float64 `mapstructure:"gdp_growth_rate" json:"gdp_growth_rate"`
	InterestRateShortTerm float64 `mapstructure:"interest_rate_short_term" json:"interest_rate_short_term"`
	InterestRateLongTerm  float64 `mapstructure:"interest_rate_long_term" json:"interest_rate_long_term"`
	ExchangeRate          float64 `mapstructure:"exchange_rate" json:"exchange_rate"`

	// Tax
	CorporateTaxRate   float64 `mapstructure:"corporate_tax_rate" json:"corporate_tax_rate"`
	TaxCredits         float64 `mapstructure:"tax_credits" json:"tax_credits"`
	VATRate            float64 `mapstructure:"vat_rate" json:"vat_rate"`
	WithholdingTaxRate float64 `mapstructure:"withholding_tax_rate" json:"withholding_tax_rate"`

	// Revenue
	ProductRevenueGrowth float64 `mapstructure:"product_revenue_growth" json:"product_revenue_growth"`
	ServiceRevenueGrowth float64 `mapstructure:"service_revenue_growth" json:"service_revenue_growth"`
	ProductRevenueMix    float64 `mapstructure:"product_revenue_mix" json:"product_revenue_mix"`
	ServiceRevenueMix    float64 `mapstructure:"service_revenue_mix" json:"service_revenue_mix"`
	LicensingRevenueMix  float64 `mapstructure:"licensing_revenue_mix" json:"licensing_revenue_mix"`
	OtherRevenueMix      float64 `mapstructure:"other_revenue_mix" json:"other_revenue_mix"`

	// Cost of goods sold
	MaterialCostPercentage float64 `mapstructure:"material_cost_percentage" json:"material_cost_percentage"`
	LaborCostPercentage    float64 `mapstructure:"labor_cost_percentage" json:"labor_cost_percentage"`
	OverheadCostPercentage float64 `mapstructure:"overhead_cost_percentage" json:"overhead_cost_percentage"`
	MaterialCostInflation  float64 `mapstructure:"material_cost_inflation" json:"material_cost_inflation"`
	LaborCostInflation     float64 `mapstructure:"labor_cost_inflation" json:"labor_cost_inflation"`

	// Operating expenses
	SalesMarketingPercentage float64 `mapstructure:"sales_marketing_percentage" json:"sales_marketing_percentage"`
	RDPercentage             float64 `mapstructure:"rd_percentage" json:"rd_percentage"`
	GeneralAdminPercentage   float64 `mapstructure:"general_admin_percentage" json:"general_admin_percentage"`
	OtherOpexPercentage      float64 `mapstructure:"other_opex_percentage" json:"other_opex_percentage"`

	// Financial
	ShortTermDebtPercentage float64 `mapstructure:"short_term_debt_percentage" json:"short_term_debt_percentage"`
	LongTermDebtPercentage  float64 `mapstructure:"long_term_debt_percentage" json:"long_term_debt_percentage"`
	DebtIssuancePercentage  float64 `mapstructure:"debt_issuance_percentage" json:"debt_issuance_percentage"`
	DebtRepaymentPercentage float64 `mapstructure:"debt_repayment_percentage" json:"debt_repayment_percentage"`
	DividendPayoutRatio     float64 `mapstructure:"dividend_payout_ratio" json:"dividend_payout_ratio"`

	// Operational
	AccountsReceivableDays    float64 `mapstructure:"accounts_receivable_days" json:"accounts_receivable_days"`
	InventoryDays             float64 `mapstructure:"inventory_days" json:"inventory_days"`
	AccountsPayableDays       float64 `mapstructure:"accounts_payable_days" json:"accounts_payable_days"`
	AccruedExpensesPercentage float64 `mapstructure:"accrued_expenses_percentage" json:"accrued_expenses_percentage"`
	PrepaidExpensesPercentage float64 `mapstructure:"prepaid_expenses_percentage" json:"prepaid_expenses_percentage"`

	// Cash flow lifecycle
	OpeningCashBalance float64 `mapstructure:"opening_cash_balance" json:"opening_cash_balance"`
	MinimumCashBalance float64 `mapstructure:"minimum_cash_balance" json:"minimum_cash_balance"`
	BadDebtPercentage  float64 `mapstructure:"bad_debt_percentage" json:"bad_debt_percentage"`
	TaxPaymentDays     float64 `mapstructure:"tax_payment_days" json:"tax_payment_days"`

	// Cash flow statement
	CapexPercentage        float64 `mapstructure:"capex_percentage" json:"capex_percentage"`
	AcquisitionsPercentage float64 `mapstructure:"acquisitions_percentage" json:"acquisitions_percentage"`
	DisposalRecoveryRate   float64 `mapstructure:"disposal_recovery_rate" json:"disposal_recovery_rate"`
	ShareIssuance          float64 `mapstructure:"share_issuance" json:"share_issuance"`
	ShareBuyback           float64 `mapstructure:"share_buyback" json:"share_buyback"`

	// Balance sheet
	CommonStock                  float64 `mapstructure:"common_stock" json:"common_stock"`
	AdditionalPaidInCapital      float64 `mapstructure:"additional_paid_in_capital" json:"additional_paid_in_capital"`
	Goodwill                     float64 `mapstructure:"goodwill" json:"goodwill"`
	OtherCurrentAssetsPercentage float64 `mapstructure:"other_current_assets_percentage" json:"other_current_assets_percentage"`
	IntangibleAssetsPercentage   float64 `mapstructure:"intangible_assets_percentage" json:"intangible_assets_percentage"`

	// Asset lifecycle
	OpeningPPEPercentage    float64 `mapstructure:"opening_ppe_percentage" json:"opening_ppe_percentage"`
	AssetUsefulLife         float64 `mapstructure:"asset_useful_life" json:"asset_useful_life"`
	SalvageValuePercentage  float64 `mapstructure:"salvage_value_percentage" json:"salvage_value_percentage"`
	AmortizationPeriod      float64 `mapstructure:"amortization_period" json:"amortization_period"`
	AssetDisposalPercentage float64 `mapstructure:"asset_disposal_percentage" json:"asset_disposal_percentage"`

	// Valuation
	RiskFreeRate          float64 `mapstructure:"risk_free_rate" json:"risk_free_rate"`
	MarketRiskPremium     float64 `mapstructure:"market_risk_premium" json:"market_risk_premium"`
	Beta                  float64 `mapstructure:"beta" json:"beta"`
	TerminalGrowthRate    float64 `mapstructure:"terminal_growth_rate" json:"terminal_growth_rate"`
	ProjectionPeriodYears int     `mapstructure:"projection_period_years" json:"projection_period_years"`
}

var parameterKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(CoreParameters{})
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" {
			keys[tag] = true
		}
	}
	return keys
}()

// DefaultParameters returns the catalog defaults as CoreParameters.
func DefaultParameters() CoreParameters {
	p, err := CoreParameters{}.With(catalog.MustDefault().Defaults())
	if err != nil {
		panic(fmt.Sprintf("engine: catalog defaults do not match CoreParameters: %v", err))
	}
	return p
}

// Keys returns every parameter key CoreParameters carries, sorted.
func Keys() []string {
	keys := make([]string, 0, len(parameterKeys))
	for k := range parameterKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnown reports whether key is a CoreParameters field.
func IsKnown(key string) bool {
	return parameterKeys[key]
}

// With returns a copy of p with overrides applied. The receiver is not
// modified. Unknown keys are rejected with ErrUnknownParameter.
func (p CoreParameters) With(overrides map[string]float64) (CoreParameters, error) {
	if len(overrides) == 0 {
		return p, nil
	}

	var unknown []string
	for k := range overrides {
		if !parameterKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return p, fmt.Errorf("%w: %s", ErrUnknownParameter, strings.Join(unknown, ", "))
	}

	out := p
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return p, fmt.Errorf("failed to build parameter decoder: %w", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return p, fmt.Errorf("failed to apply parameter overrides: %w", err)
	}
	return out, nil
}

// Values returns every parameter keyed by catalog key.
func (p CoreParameters) Values() map[string]float64 {
	raw := make(map[string]interface{}, len(parameterKeys))
	if err := mapstructure.Decode(p, &raw); err != nil {
		return nil
	}

	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out
}

// Get returns the value of a single parameter.
func (p CoreParameters) Get(key string) (float64, bool) {
	if !parameterKeys[key] {
		return 0, false
	}
	v, ok := p.Values()[key]
	return v, ok
}
