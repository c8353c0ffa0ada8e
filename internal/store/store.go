// Package store persists files, parameters, scenarios and their parameter
// value overrides. Repository is implemented in memory and on PostgreSQL.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an update carries a stale revision.
	ErrConflict = errors.New("revision conflict")
)

// Repository is the persistence boundary used by the scenario and parameter
// services. Implementations must be safe for concurrent use.
type Repository interface {
	GetFile(ctx context.Context, id string) (File, error)
	SaveFile(ctx context.Context, file *File) error

	GetParameter(ctx context.Context, id string) (Parameter, error)
	ListParameters(ctx context.Context, fileID string) ([]Parameter, error)
	SaveParameter(ctx context.Context, param *Parameter) error

	GetScenario(ctx context.Context, id string) (Scenario, error)
	ListScenarios(ctx context.Context, filter ScenarioFilter) ([]Scenario, error)
	CreateScenario(ctx context.Context, scenario *Scenario) error
	// UpdateScenario stores scenario if its Revision matches the stored one
	// and increments Revision on success. A mismatch returns ErrConflict.
	UpdateScenario(ctx context.Context, scenario *Scenario) error
	// DeleteScenario removes a scenario and its parameter values.
	DeleteScenario(ctx context.Context, id string) error

	ListParameterValues(ctx context.Context, scenarioID string) ([]ParameterValue, error)
	GetParameterValue(ctx context.Context, scenarioID, parameterID string) (ParameterValue, error)
	// SaveParameterValues upserts values of scenario and appends history
	// atomically. Like UpdateScenario it requires the stored Revision to
	// match scenario.Revision, increments it on success and returns
	// ErrConflict on a mismatch.
	SaveParameterValues(ctx context.Context, scenario *Scenario, values []*ParameterValue, history []ParameterHistory) error

	ListHistory(ctx context.Context, parameterID, scenarioID string) ([]ParameterHistory, error)

	AppendAudit(ctx context.Context, audit CalculationAudit) error
	ListAudits(ctx context.Context, scenarioID string) ([]CalculationAudit, error)

	Close()
}
