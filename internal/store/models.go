package store

import (
	"time"

	"github.com/iwvelando/finance-model/internal/engine"
)

// CalculationStatus is the state of a scenario's last recalculation.
type CalculationStatus string

const (
	StatusPending     CalculationStatus = "pending"
	StatusCalculating CalculationStatus = "calculating"
	StatusCompleted   CalculationStatus = "completed"
	StatusError       CalculationStatus = "error"
)

// File is an ingested source file and the base figures extracted from it.
type File struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	OwnerID           string               `json:"ownerId"`
	BaseRevenue       float64              `json:"baseRevenue"`
	PriorBalanceSheet *engine.BalanceSheet `json:"priorBalanceSheet,omitempty"`
	UploadedAt        time.Time            `json:"uploadedAt"`
}

// ValidationRule is a custom rule attached to a parameter in addition to the
// catalog bounds.
type ValidationRule struct {
	Kind    string  `json:"kind"`
	Value   float64 `json:"value,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Validation rule kinds.
const (
	RuleMin     = "min"
	RuleMax     = "max"
	RuleNonZero = "non_zero"
	RuleInteger = "integer"
)

// Parameter is a persisted parameter detected in, or added to, a file.
// Parameters are never hard-deleted.
type Parameter struct {
	ID               string           `json:"id"`
	FileID           string           `json:"fileId"`
	Key              string           `json:"key,omitempty"`
	Name             string           `json:"name"`
	Category         string           `json:"category"`
	Type             string           `json:"type"`
	Unit             string           `json:"unit,omitempty"`
	Value            float64          `json:"value"`
	CurrentValue     float64          `json:"currentValue"`
	DefaultValue     float64          `json:"defaultValue"`
	MinValue         *float64         `json:"minValue,omitempty"`
	MaxValue         *float64         `json:"maxValue,omitempty"`
	SensitivityLevel string           `json:"sensitivityLevel,omitempty"`
	SourceSheet      string           `json:"sourceSheet,omitempty"`
	SourceCell       string           `json:"sourceCell,omitempty"`
	DependsOn        []string         `json:"dependsOn,omitempty"`
	Affects          []string         `json:"affects,omitempty"`
	ValidationRules  []ValidationRule `json:"validationRules,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ParameterValue is a scenario-scoped override. There is at most one per
// (ParameterID, ScenarioID); OriginalValue is kept from the first write.
type ParameterValue struct {
	ID            string    `json:"id"`
	ParameterID   string    `json:"parameterId"`
	ScenarioID    string    `json:"scenarioId"`
	Value         float64   `json:"value"`
	OriginalValue float64   `json:"originalValue"`
	ChangeReason  string    `json:"changeReason,omitempty"`
	ChangedBy     string    `json:"changedBy,omitempty"`
	ChangedAt     time.Time `json:"changedAt"`
}

// ParameterHistory is an append-only record of one value change.
type ParameterHistory struct {
	ID           string    `json:"id"`
	ParameterID  string    `json:"parameterId"`
	ScenarioID   string    `json:"scenarioId"`
	OldValue     float64   `json:"oldValue"`
	NewValue     float64   `json:"newValue"`
	ChangeReason string    `json:"changeReason,omitempty"`
	ChangedBy    string    `json:"changedBy,omitempty"`
	ChangedAt    time.Time `json:"changedAt"`
}

// CalculationAudit is an append-only record of one recalculation attempt.
type CalculationAudit struct {
	ID         string            `json:"id"`
	ScenarioID string            `json:"scenarioId"`
	Status     CalculationStatus `json:"status"`
	Forced     bool              `json:"forced"`
	StartedAt  time.Time         `json:"startedAt"`
	Duration   time.Duration     `json:"duration"`
	Error      string            `json:"error,omitempty"`
}

// Scenario is a named, versioned bundle of parameter overrides against a
// base file. Revision is incremented by every successful update and every
// save of its parameter values, and used for optimistic locking.
type Scenario struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	Version            string            `json:"version"`
	BaseFileID         string            `json:"baseFileId"`
	ParentScenarioID   string            `json:"parentScenarioId,omitempty"`
	OwnerID            string            `json:"ownerId,omitempty"`
	IsBaseline         bool              `json:"isBaseline"`
	IsTemplate         bool              `json:"isTemplate"`
	CalculationStatus  CalculationStatus `json:"calculationStatus"`
	CalculationResults *engine.Model     `json:"calculationResults,omitempty"`
	CalculationError   string            `json:"calculationError,omitempty"`
	LastCalculatedAt   *time.Time        `json:"lastCalculatedAt,omitempty"`
	Revision           int64             `json:"revision"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// ScenarioFilter narrows ListScenarios. Empty fields match everything.
type ScenarioFilter struct {
	BaseFileID       string
	OwnerID          string
	ParentScenarioID string
}

func (f ScenarioFilter) matches(s Scenario) bool {
	if f.BaseFileID != "" && s.BaseFileID != f.BaseFileID {
		return false
	}
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if f.ParentScenarioID != "" && s.ParentScenarioID != f.ParentScenarioID {
		return false
	}
	return true
}
