package scenario

import (
	"context"
	"math"
	"sort"

	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ParameterDifference is one parameter whose value differs between two
// scenarios. PercentChange is relative to the base value.
type ParameterDifference struct {
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	Category      string  `json:"category,omitempty"`
	BaseValue     float64 `json:"baseValue"`
	TargetValue   float64 `json:"targetValue"`
	Difference    float64 `json:"difference"`
	PercentChange float64 `json:"percentChange"`
}

// ComparisonSummary aggregates the differences.
type ComparisonSummary struct {
	TotalDifferences     int                  `json:"totalDifferences"`
	TotalVariance        float64              `json:"totalVariance"`
	AveragePercentChange float64              `json:"averagePercentChange"`
	LargestIncrease      *ParameterDifference `json:"largestIncrease,omitempty"`
	LargestDecrease      *ParameterDifference `json:"largestDecrease,omitempty"`
	MostSignificant      *ParameterDifference `json:"mostSignificant,omitempty"`
}

// ResultDifference compares one output metric of two calculated scenarios.
type ResultDifference struct {
	Metric        string  `json:"metric"`
	BaseValue     float64 `json:"baseValue"`
	TargetValue   float64 `json:"targetValue"`
	Difference    float64 `json:"difference"`
	PercentChange float64 `json:"percentChange"`
}

// Comparison is the result of Compare.
type Comparison struct {
	BaseScenarioID   string                `json:"baseScenarioId"`
	TargetScenarioID string                `json:"targetScenarioId"`
	Differences      []ParameterDifference `json:"differences"`
	Summary          ComparisonSummary     `json:"summary"`
	Results          []ResultDifference    `json:"results,omitempty"`
}

// Compare diffs the effective parameter values of two scenarios and, when
// both have been calculated, their headline results.
func (m *Manager) Compare(ctx context.Context, baseID, targetID string) (Comparison, error) {
	base, err := m.repo.GetScenario(ctx, baseID)
	if err != nil {
		return Comparison{}, err
	}
	target, err := m.repo.GetScenario(ctx, targetID)
	if err != nil {
		return Comparison{}, err
	}

	baseValues, err := m.EffectiveValues(ctx, base)
	if err != nil {
		return Comparison{}, err
	}
	targetValues, err := m.EffectiveValues(ctx, target)
	if err != nil {
		return Comparison{}, err
	}

	keys := make(map[string]bool, len(baseValues)+len(targetValues))
	for k := range baseValues {
		keys[k] = true
	}
	for k := range targetValues {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	cmp := Comparison{BaseScenarioID: base.ID, TargetScenarioID: target.ID, Differences: []ParameterDifference{}}
	for _, key := range sorted {
		b, inBase := baseValues[key]
		t, inTarget := targetValues[key]

		diff := ParameterDifference{Key: key, BaseValue: b.Value, TargetValue: t.Value}
		if inBase {
			diff.Name, diff.Category = b.Parameter.Name, b.Parameter.Category
		} else if inTarget {
			diff.Name, diff.Category = t.Parameter.Name, t.Parameter.Category
		}
		diff.Difference = diff.TargetValue - diff.BaseValue
		if math.Abs(diff.Difference) <= constants.ComparisonEpsilon {
			continue
		}
		diff.PercentChange = mathutil.PercentChange(diff.BaseValue, diff.TargetValue)
		cmp.Differences = append(cmp.Differences, diff)
	}

	cmp.Summary = summarize(cmp.Differences)
	if base.CalculationResults != nil && target.CalculationResults != nil {
		cmp.Results = DiffResults(base.CalculationResults, target.CalculationResults)
	}

	m.logger.Debug("compared scenarios",
		zap.String("op", "scenario.Compare"),
		zap.String("base", base.ID),
		zap.String("target", target.ID),
		zap.Int("differences", cmp.Summary.TotalDifferences),
	)
	return cmp, nil
}

func summarize(diffs []ParameterDifference) ComparisonSummary {
	summary := ComparisonSummary{TotalDifferences: len(diffs)}
	if len(diffs) == 0 {
		return summary
	}

	variance := decimal.Zero
	percentTotal := decimal.Zero
	for i := range diffs {
		d := &diffs[i]
		variance = variance.Add(decimal.NewFromFloat(math.Abs(d.Difference)))
		percentTotal = percentTotal.Add(decimal.NewFromFloat(d.PercentChange))

		if d.Difference > 0 && (summary.LargestIncrease == nil || d.Difference > summary.LargestIncrease.Difference) {
			summary.LargestIncrease = d
		}
		if d.Difference < 0 && (summary.LargestDecrease == nil || d.Difference < summary.LargestDecrease.Difference) {
			summary.LargestDecrease = d
		}
		if summary.MostSignificant == nil || math.Abs(d.PercentChange) > math.Abs(summary.MostSignificant.PercentChange) {
			summary.MostSignificant = d
		}
	}

	summary.TotalVariance = variance.InexactFloat64()
	summary.AveragePercentChange = percentTotal.Div(decimal.NewFromInt(int64(len(diffs)))).InexactFloat64()
	return summary
}

// DiffResults compares the headline metrics of two engine runs.
func DiffResults(base, target *engine.Model) []ResultDifference {
	metrics := []struct {
		name   string
		base   float64
		target float64
	}{
		{"total_revenue", base.ProfitLoss.TotalRevenue, target.ProfitLoss.TotalRevenue},
		{"net_income", base.ProfitLoss.NetIncome, target.ProfitLoss.NetIncome},
		{"ending_cash", base.CashFlow.EndingCash, target.CashFlow.EndingCash},
		{"enterprise_value", base.DCF.EnterpriseValue, target.DCF.EnterpriseValue},
		{"equity_value", base.DCF.EquityValue, target.DCF.EquityValue},
		{"value_per_share", base.DCF.ValuePerShare, target.DCF.ValuePerShare},
	}

	out := make([]ResultDifference, 0, len(metrics))
	for _, mt := range metrics {
		out = append(out, ResultDifference{
			Metric:        mt.name,
			BaseValue:     mt.base,
			TargetValue:   mt.target,
			Difference:    mt.target - mt.base,
			PercentChange: mathutil.PercentChange(mt.base, mt.target),
		})
	}
	return out
}
