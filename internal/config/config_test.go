package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/pkg/constants"
)

func TestLoadConfiguration(t *testing.T) {
	tests := []struct {
		name       string
		configPath string
		wantError  bool
	}{
		{
			name:       "Non-existent config file",
			configPath: "nonexistent.yaml",
			wantError:  true,
		},
		{
			name:       "Example model",
			configPath: "testdata/model.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfiguration(tt.configPath)
			if tt.wantError {
				if err == nil {
					t.Errorf("LoadConfiguration() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("LoadConfiguration() error = %v", err)
				return
			}
			if config == nil {
				t.Errorf("LoadConfiguration() returned nil config")
			}
		})
	}
}

func TestLoadConfigurationStructure(t *testing.T) {
	config, err := LoadConfiguration("testdata/model.yaml")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}

	if config.BaseRevenue != 2_500_000 {
		t.Errorf("Expected BaseRevenue = 2500000, got %v", config.BaseRevenue)
	}
	if config.Periods != 3 {
		t.Errorf("Expected Periods = 3, got %d", config.Periods)
	}
	if config.Parameters["corporate_tax_rate"] != 0.21 {
		t.Errorf("Expected shared corporate_tax_rate = 0.21, got %v", config.Parameters["corporate_tax_rate"])
	}

	expectedScenarios := []string{"base case", "aggressive growth", "downturn"}
	if len(config.Scenarios) != len(expectedScenarios) {
		t.Fatalf("Expected %d scenarios, got %d", len(expectedScenarios), len(config.Scenarios))
	}
	for i, expectedName := range expectedScenarios {
		if config.Scenarios[i].Name != expectedName {
			t.Errorf("Expected scenario name %s, got %s", expectedName, config.Scenarios[i].Name)
		}
	}
	if config.Scenarios[2].Active {
		t.Error("Expected downturn to be inactive")
	}
	if config.Scenarios[1].Parameters["product_revenue_growth"] != 0.2 {
		t.Errorf("Expected scenario override 0.2, got %v", config.Scenarios[1].Parameters["product_revenue_growth"])
	}

	if config.Logging.Level != "warn" || config.Logging.Format != "console" {
		t.Errorf("Unexpected logging config: %+v", config.Logging)
	}
	if config.Output.Format != constants.OutputFormatCSV {
		t.Errorf("Expected output format csv, got %s", config.Output.Format)
	}
}

func TestLoadConfigurationDefaultsPeriods(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	content := "baseRevenue: 1000\nscenarios:\n  - name: only\n    active: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if config.Periods != constants.DefaultProjectionPeriods {
		t.Errorf("Expected default periods %d, got %d", constants.DefaultProjectionPeriods, config.Periods)
	}
}

func TestValidate(t *testing.T) {
	cat := catalog.MustDefault()

	tests := []struct {
		name    string
		config  Configuration
		wantErr []string
	}{
		{
			name: "Valid",
			config: Configuration{
				BaseRevenue: 1000,
				Periods:     1,
				Parameters:  map[string]float64{"inflation_rate": 0.02},
				Scenarios:   []Scenario{{Name: "a", Active: true}},
			},
		},
		{
			name: "Negative revenue and zero periods",
			config: Configuration{
				BaseRevenue: -1,
				Scenarios:   []Scenario{{Name: "a", Active: true}},
			},
			wantErr: []string{"baseRevenue must not be negative", "periods must be at least 1"},
		},
		{
			name: "Shared value out of bounds",
			config: Configuration{
				Periods:    1,
				Parameters: map[string]float64{"inventory_days": 500},
			},
			wantErr: []string{"parameters:"},
		},
		{
			name: "Scenario override out of bounds",
			config: Configuration{
				Periods:   1,
				Scenarios: []Scenario{{Name: "bad", Parameters: map[string]float64{"beta": 9}}},
			},
			wantErr: []string{"scenario bad:"},
		},
		{
			name: "Unknown parameter",
			config: Configuration{
				Periods:   1,
				Scenarios: []Scenario{{Name: "bad", Parameters: map[string]float64{"nope": 1}}},
			},
			wantErr: []string{"scenario bad:"},
		},
		{
			name: "Duplicate and unnamed scenarios",
			config: Configuration{
				Periods:   1,
				Scenarios: []Scenario{{Name: "a"}, {Name: "a"}, {Name: " "}},
			},
			wantErr: []string{`scenario "a" is defined twice`, "scenario 2 has no name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(cat)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error but got none")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected error containing %q, got %v", want, err)
				}
			}
		})
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		config   Configuration
		warnings int
	}{
		{"Clean", Configuration{BaseRevenue: 1, Scenarios: []Scenario{{Name: "a", Active: true}}}, 0},
		{"No scenarios", Configuration{BaseRevenue: 1}, 1},
		{"None active", Configuration{BaseRevenue: 1, Scenarios: []Scenario{{Name: "a"}}}, 1},
		{"Zero revenue and none active", Configuration{Scenarios: []Scenario{{Name: "a"}}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.ValidateConfiguration(); len(got) != tt.warnings {
				t.Errorf("expected %d warnings, got %v", tt.warnings, got)
			}
		})
	}
}

func TestScenarioParameters(t *testing.T) {
	config := Configuration{
		Parameters: map[string]float64{"corporate_tax_rate": 0.21, "beta": 1.5},
	}
	s := Scenario{Name: "s", Parameters: map[string]float64{"beta": 0.9}}

	params, err := config.ScenarioParameters(s)
	if err != nil {
		t.Fatalf("ScenarioParameters() error = %v", err)
	}
	if params.CorporateTaxRate != 0.21 {
		t.Errorf("expected shared tax rate 0.21, got %v", params.CorporateTaxRate)
	}
	if params.Beta != 0.9 {
		t.Errorf("expected scenario beta 0.9 to win, got %v", params.Beta)
	}
	if params.InflationRate != 0.03 {
		t.Errorf("expected catalog default inflation 0.03, got %v", params.InflationRate)
	}
	if len(config.Parameters) != 2 || config.Parameters["beta"] != 1.5 {
		t.Error("ScenarioParameters must not modify the shared parameters")
	}

	if _, err := config.ScenarioParameters(Scenario{Name: "x", Parameters: map[string]float64{"nope": 1}}); err == nil {
		t.Error("expected error for unknown parameter")
	}
}
