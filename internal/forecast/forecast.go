// Package forecast runs the batch model over every active scenario of a
// configuration.
package forecast

import (
	"fmt"

	"github.com/iwvelando/finance-model/internal/config"
	"github.com/iwvelando/finance-model/internal/engine"
	"go.uber.org/zap"
)

// Forecast holds the chained periods calculated for one scenario.
type Forecast struct {
	Name       string
	Parameters engine.CoreParameters
	Periods    []engine.Model
	Notes      map[int][]string
}

// GetForecast processes the Forecasts for all Scenarios.
func GetForecast(logger *zap.Logger, conf config.Configuration) ([]Forecast, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var results []Forecast
	for _, scenario := range conf.Scenarios {
		if !scenario.Active {
			logger.Debug(fmt.Sprintf("skipping scenario %s because it is inactive", scenario.Name),
				zap.String("op", "forecast.GetForecast"),
			)
			continue
		}

		params, err := conf.ScenarioParameters(scenario)
		if err != nil {
			return results, err
		}

		result := Forecast{
			Name:       scenario.Name,
			Parameters: params,
			Periods:    engine.RunPeriods(params, conf.BaseRevenue, nil, conf.Periods),
			Notes:      make(map[int][]string),
		}
		for i, m := range result.Periods {
			notes := periodNotes(m)
			if err := engine.CheckBalance(m.BalanceSheet); err != nil {
				notes = append(notes, err.Error())
				logger.Warn("balance sheet does not balance",
					zap.String("op", "forecast.GetForecast"),
					zap.String("scenario", scenario.Name),
					zap.Int("period", i+1),
					zap.Error(err),
				)
			}
			if len(notes) > 0 {
				result.Notes[i+1] = notes
			}
		}

		logger.Debug("calculated scenario",
			zap.String("op", "forecast.GetForecast"),
			zap.String("scenario", scenario.Name),
			zap.Int("periods", len(result.Periods)),
		)
		results = append(results, result)
	}

	return results, nil
}

func periodNotes(m engine.Model) []string {
	var notes []string
	if m.CashFlow.RevolverDraw > 0 {
		notes = append(notes, "revolver drawn to cover a cash shortfall")
	}
	if m.DCF.TerminalValueGuarded {
		notes = append(notes, "terminal value omitted: growth rate not below WACC")
	}
	if m.ProfitLoss.NetIncome < 0 {
		notes = append(notes, "net loss")
	}
	return notes
}
