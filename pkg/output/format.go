// Package output provides utilities for formatting and displaying model results.
package output

import (
	"fmt"
	"strings"

	"github.com/iwvelando/finance-model/internal/forecast"
	"github.com/iwvelando/finance-model/pkg/format"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PrettyFormat outputs a human-readable rather than machine-readable table.
func PrettyFormat(results []forecast.Forecast) {
	p := message.NewPrinter(language.English)
	for _, result := range results {
		fmt.Printf("--- Results for scenario %s ---\n", result.Name)
		fmt.Printf("Period | Revenue | Net Income | Ending Cash | Enterprise Value | Notes\n")
		fmt.Printf("______ | _______ | __________ | ___________ | ________________ | _____\n")
		for i, m := range result.Periods {
			_, _ = p.Printf("%d | $%.2f | $%.2f | $%.2f | $%.2f | %s\n",
				i+1,
				m.ProfitLoss.TotalRevenue,
				m.ProfitLoss.NetIncome,
				m.CashFlow.EndingCash,
				m.DCF.EnterpriseValue,
				strings.Join(result.Notes[i+1], ","),
			)
		}

		if n := len(result.Periods); n > 0 {
			last := result.Periods[n-1]
			fmt.Printf("Valuation (period %d): WACC %s, equity value %s, %s per share, net margin %s\n",
				n,
				format.Percent(last.DCF.WACC, 2),
				format.Currency(last.DCF.EquityValue),
				format.Currency(last.DCF.ValuePerShare),
				format.Percent(last.ProfitLoss.NetMarginPercentage/100, 2),
			)
		}
		if len(results) > 1 {
			fmt.Printf("\n")
		}
	}
}

// CsvFormat outputs in comma-separated value format.
func CsvFormat(results []forecast.Forecast) {
	if len(results) == 0 {
		return
	}

	// Every scenario runs the same number of periods.
	periods := len(results[0].Periods)
	fmt.Printf(`"period"`)
	for _, result := range results {
		fmt.Printf(`,"revenue (%s)","net income (%s)","ending cash (%s)","enterprise value (%s)","notes (%s)"`,
			result.Name, result.Name, result.Name, result.Name, result.Name)
	}
	fmt.Printf("\n")
	for i := 0; i < periods; i++ {
		fmt.Printf(`"%d"`, i+1)
		for _, result := range results {
			if i >= len(result.Periods) {
				fmt.Printf(`,"","","","",""`)
				continue
			}
			m := result.Periods[i]
			fmt.Printf(`,"%.2f","%.2f","%.2f","%.2f"`,
				m.ProfitLoss.TotalRevenue, m.ProfitLoss.NetIncome, m.CashFlow.EndingCash, m.DCF.EnterpriseValue)
			fmt.Printf(`,"%s"`, strings.Join(result.Notes[i+1], ","))
		}
		fmt.Printf("\n")
	}
}
