// Package constants provides shared constants for the finance-model application.
package constants

// Calendar and rounding constants
const (
	// DaysPerYear converts days-based working capital balances to annual flows.
	DaysPerYear = 365.0

	// DecimalPrecision is the precision for currency rounding (2 decimal places)
	DecimalPrecision = 100

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0
)

// Valuation assumptions that are not modeled as parameters.
const (
	// DebtWeight is the fixed share of debt in the WACC blend.
	DebtWeight = 0.30

	// EquityWeight is the fixed share of equity in the WACC blend.
	EquityWeight = 0.70

	// DCFOperatingMargin is the operating margin assumed for projected free cash flow.
	DCFOperatingMargin = 0.15

	// SharesOutstanding is the share count used for value per share.
	SharesOutstanding = 1_000_000.0
)

// Analysis defaults
const (
	// DefaultVariation is the default one-at-a-time sensitivity perturbation (20%).
	DefaultVariation = 0.20

	// DefaultMonteCarloIterations is used when a request does not set an iteration count.
	DefaultMonteCarloIterations = 1000

	// MaxMonteCarloIterations is the hard cap on iterations for a single simulation.
	MaxMonteCarloIterations = 100_000

	// DefaultAnalysisWorkers bounds the worker pool used for repeated engine runs.
	DefaultAnalysisWorkers = 4

	// DefaultProjectionPeriods is the number of chained periods the CLI computes.
	DefaultProjectionPeriods = 1

	// MaxCalculatePeriods bounds the chained periods of one API calculation.
	MaxCalculatePeriods = 50
)

// Scenario constants
const (
	// InitialScenarioVersion is assigned to scenarios created without a parent.
	InitialScenarioVersion = "1.0"

	// UpToDate is reported when a recalculation was skipped.
	UpToDate = "up_to_date"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default model configuration file name
	DefaultConfigFile = "model.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "model.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxBodySizeBytes is the default maximum request body size (1 MB)
	DefaultMaxBodySizeBytes int64 = 1024 * 1024

	// DefaultAnalysisTimeout bounds sensitivity and Monte Carlo requests.
	DefaultAnalysisTimeout = "30s"
)

// Validation constants
const (
	// CurrencyTolerance is the tolerance for currency comparisons (1 cent)
	CurrencyTolerance = 0.01

	// ComparisonEpsilon is the smallest parameter difference reported by scenario comparisons.
	ComparisonEpsilon = 1e-9
)
