// Package config defines the model file consumed by the batch CLI and
// includes functions for loading it and resolving scenario parameters.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for a batch model run.
type Configuration struct {
	BaseRevenue float64            `yaml:"baseRevenue"`
	Periods     int                `yaml:"periods,omitempty"`
	Parameters  map[string]float64 `yaml:"parameters,omitempty"` // shared by every scenario
	Scenarios   []Scenario         `yaml:"scenarios"`
	Logging     LoggingConfig      `yaml:"logging,omitempty"`
	Output      OutputConfig       `yaml:"output,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv
}

// Scenario is one named set of overrides applied on top of the shared
// parameters.
type Scenario struct {
	Name       string             `yaml:"name"`
	Active     bool               `yaml:"active"`
	Parameters map[string]float64 `yaml:"parameters,omitempty"`
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()

	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	var configuration Configuration
	err := v.Unmarshal(&configuration)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	if configuration.Periods == 0 {
		configuration.Periods = constants.DefaultProjectionPeriods
	}

	return &configuration, nil
}

// Validate checks the configuration against the catalog and returns every
// problem found joined into one error.
func (conf *Configuration) Validate(cat *catalog.Catalog) error {
	var errs []error

	if conf.BaseRevenue < 0 {
		errs = append(errs, fmt.Errorf("baseRevenue must not be negative, got %g", conf.BaseRevenue))
	}
	if conf.Periods < 1 {
		errs = append(errs, fmt.Errorf("periods must be at least 1, got %d", conf.Periods))
	}

	errs = append(errs, validateParameters(cat, "parameters", conf.Parameters)...)

	seen := make(map[string]bool, len(conf.Scenarios))
	for i, s := range conf.Scenarios {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("scenario %d has no name", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("scenario %q is defined twice", name))
		}
		seen[name] = true

		// Scenario values are checked merged over the shared ones.
		merged := mergeOverrides(conf.Parameters, s.Parameters)
		errs = append(errs, validateParameters(cat, "scenario "+name, merged)...)
	}

	return errors.Join(errs...)
}

// ValidateConfiguration returns non-fatal warnings about the configuration.
func (conf *Configuration) ValidateConfiguration() []string {
	var warnings []string

	active := 0
	for _, s := range conf.Scenarios {
		if s.Active {
			active++
		}
	}
	if len(conf.Scenarios) == 0 {
		warnings = append(warnings, "no scenarios defined")
	} else if active == 0 {
		warnings = append(warnings, "no active scenarios; nothing will be calculated")
	}
	if conf.BaseRevenue == 0 {
		warnings = append(warnings, "baseRevenue is zero; every revenue-driven line will be zero")
	}
	return warnings
}

// ScenarioParameters resolves a scenario: catalog defaults, then the shared
// parameters, then the scenario's own overrides.
func (conf *Configuration) ScenarioParameters(s Scenario) (engine.CoreParameters, error) {
	params, err := engine.DefaultParameters().With(mergeOverrides(conf.Parameters, s.Parameters))
	if err != nil {
		return engine.CoreParameters{}, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return params, nil
}

func mergeOverrides(common, overrides map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(common)+len(overrides))
	for k, v := range common {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func validateParameters(cat *catalog.Catalog, scope string, values map[string]float64) []error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, v := range cat.ValidateAll(keys, values) {
		errs = append(errs, fmt.Errorf("%s: %s", scope, strings.Join(v.Errors, "; ")))
	}
	return errs
}
