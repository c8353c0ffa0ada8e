// Package testutil provides common utility functions for testing.
package testutil

import (
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/internal/forecast"
)

// FindScenario finds a scenario by name in the results slice.
// Returns a pointer to the forecast if found, nil otherwise.
func FindScenario(results []forecast.Forecast, name string) *forecast.Forecast {
	for i := range results {
		if results[i].Name == name {
			return &results[i]
		}
	}
	return nil
}

// FinalPeriod returns the last calculated period of a forecast, or nil when
// it has none.
func FinalPeriod(f *forecast.Forecast) *engine.Model {
	if f == nil || len(f.Periods) == 0 {
		return nil
	}
	return &f.Periods[len(f.Periods)-1]
}
