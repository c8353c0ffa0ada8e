// Package parameter is the coordination layer for parameter values. It
// registers the parameters detected in a file, validates and persists
// scenario-scoped value changes with their history, and previews the impact
// of a change without persisting it.
package parameter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/internal/notify"
	"github.com/iwvelando/finance-model/internal/scenario"
	"github.com/iwvelando/finance-model/internal/store"
	"github.com/iwvelando/finance-model/pkg/mathutil"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned for malformed requests.
var ErrInvalidRequest = errors.New("invalid parameter request")

// Service validates, persists and previews parameter changes.
type Service struct {
	repo      store.Repository
	catalog   *catalog.Catalog
	scenarios *scenario.Manager
	notifier  notify.Notifier
	logger    *zap.Logger
}

// NewService returns a Service. Writes are serialized through the scenario
// manager's per-scenario locks.
func NewService(repo store.Repository, cat *catalog.Catalog, scenarios *scenario.Manager, notifier notify.Notifier, logger *zap.Logger) *Service {
	if cat == nil {
		cat = catalog.MustDefault()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		catalog:   cat,
		scenarios: scenarios,
		notifier:  notifier,
		logger:    logger,
	}
}

// DetectedParameter is one parameter found in an ingested file. Parameters
// with a catalog Key take their metadata from the catalog where unset.
type DetectedParameter struct {
	Key             string                 `json:"key,omitempty"`
	Name            string                 `json:"name,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Type            string                 `json:"type,omitempty"`
	Unit            string                 `json:"unit,omitempty"`
	Value           float64                `json:"value"`
	MinValue        *float64               `json:"minValue,omitempty"`
	MaxValue        *float64               `json:"maxValue,omitempty"`
	SourceSheet     string                 `json:"sourceSheet,omitempty"`
	SourceCell      string                 `json:"sourceCell,omitempty"`
	ValidationRules []store.ValidationRule `json:"validationRules,omitempty"`
}

// RegisterFileRequest is the output of file ingestion.
type RegisterFileRequest struct {
	Name              string               `json:"name"`
	OwnerID           string               `json:"ownerId,omitempty"`
	BaseRevenue       float64              `json:"baseRevenue"`
	PriorBalanceSheet *engine.BalanceSheet `json:"priorBalanceSheet,omitempty"`
	Parameters        []DetectedParameter  `json:"parameters"`
}

// RegisterFileResult is the stored file and its parameters.
type RegisterFileResult struct {
	File       store.File        `json:"file"`
	Parameters []store.Parameter `json:"parameters"`
}

// RegisterFile stores a file and its detected parameters. Catalog keys are
// matched by key or, failing that, by name, and the catalog dependency graph
// is translated into DependsOn and Affects parameter IDs. Nothing is stored
// if any detected value is invalid.
func (s *Service) RegisterFile(ctx context.Context, req RegisterFileRequest) (RegisterFileResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return RegisterFileResult{}, fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	}
	if req.BaseRevenue < 0 || !mathutil.IsFinite(req.BaseRevenue) {
		return RegisterFileResult{}, fmt.Errorf("%w: base revenue must be a non-negative number", ErrInvalidRequest)
	}

	params := make([]store.Parameter, 0, len(req.Parameters))
	byKey := make(map[string]int, len(req.Parameters))
	seen := make(map[string]bool, len(req.Parameters))
	var problems []Problem
	for _, d := range req.Parameters {
		p, err := s.buildParameter(d)
		if err != nil {
			return RegisterFileResult{}, err
		}
		name := parameterName(p)
		if seen[name] {
			return RegisterFileResult{}, fmt.Errorf("%w: parameter %s detected twice", ErrInvalidRequest, name)
		}
		seen[name] = true

		if errs := s.checkValue(p, p.Value); len(errs) > 0 {
			problems = append(problems, Problem{Key: name, Value: p.Value, Errors: errs})
		}
		if p.Key != "" {
			byKey[p.Key] = len(params)
		}
		params = append(params, p)
	}
	if len(problems) > 0 {
		return RegisterFileResult{}, &ValidationError{Problems: problems}
	}

	for i := range params {
		p := &params[i]
		if p.Key == "" {
			continue
		}
		def, _ := s.catalog.Definition(p.Key)
		for _, dep := range def.Dependencies {
			if j, ok := byKey[dep]; ok {
				p.DependsOn = append(p.DependsOn, params[j].ID)
			}
		}
		for _, dependent := range s.catalog.Dependents(p.Key) {
			if j, ok := byKey[dependent]; ok {
				p.Affects = append(p.Affects, params[j].ID)
			}
		}
	}

	file := &store.File{
		Name:              req.Name,
		OwnerID:           req.OwnerID,
		BaseRevenue:       req.BaseRevenue,
		PriorBalanceSheet: req.PriorBalanceSheet,
	}
	if err := s.repo.SaveFile(ctx, file); err != nil {
		return RegisterFileResult{}, fmt.Errorf("failed to save file: %w", err)
	}
	for i := range params {
		params[i].FileID = file.ID
		if err := s.repo.SaveParameter(ctx, &params[i]); err != nil {
			return RegisterFileResult{}, fmt.Errorf("failed to save parameter %s: %w", parameterName(params[i]), err)
		}
	}

	s.logger.Info("registered file",
		zap.String("op", "parameter.RegisterFile"),
		zap.String("file", file.ID),
		zap.Int("parameters", len(params)),
	)
	return RegisterFileResult{File: *file, Parameters: params}, nil
}

func (s *Service) buildParameter(d DetectedParameter) (store.Parameter, error) {
	p := store.Parameter{
		ID:              uuid.NewString(),
		Key:             strings.TrimSpace(d.Key),
		Name:            strings.TrimSpace(d.Name),
		Category:        d.Category,
		Type:            d.Type,
		Unit:            d.Unit,
		Value:           d.Value,
		CurrentValue:    d.Value,
		MinValue:        d.MinValue,
		MaxValue:        d.MaxValue,
		SourceSheet:     d.SourceSheet,
		SourceCell:      d.SourceCell,
		ValidationRules: d.ValidationRules,
	}

	if p.Key == "" {
		if def, ok := s.definitionByName(p.Name); ok {
			p.Key = def.Key
		}
	}
	if p.Key == "" {
		if p.Name == "" {
			return store.Parameter{}, fmt.Errorf("%w: parameter needs a key or a name", ErrInvalidRequest)
		}
		if p.Type == "" {
			p.Type = string(catalog.TypeNumber)
		}
		return p, nil
	}

	def, ok := s.catalog.Definition(p.Key)
	if !ok {
		return store.Parameter{}, fmt.Errorf("%w: %s", engine.ErrUnknownParameter, p.Key)
	}
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Category == "" {
		p.Category = string(def.Category)
	}
	if p.Type == "" {
		p.Type = string(def.Type)
	}
	if p.Unit == "" {
		p.Unit = def.Unit
	}
	if p.MinValue == nil {
		p.MinValue = def.MinValue
	}
	if p.MaxValue == nil {
		p.MaxValue = def.MaxValue
	}
	p.DefaultValue = def.DefaultValue
	p.SensitivityLevel = string(def.SensitivityLevel)
	return p, nil
}

func (s *Service) definitionByName(name string) (catalog.Definition, bool) {
	if name == "" {
		return catalog.Definition{}, false
	}
	for _, def := range s.catalog.Definitions() {
		if strings.EqualFold(def.Name, name) {
			return def, true
		}
	}
	return catalog.Definition{}, false
}

// ValidateValue checks value against a stored parameter's catalog bounds and
// custom rules. It never writes.
func (s *Service) ValidateValue(ctx context.Context, parameterID string, value float64) (catalog.Validation, error) {
	p, err := s.repo.GetParameter(ctx, parameterID)
	if err != nil {
		return catalog.Validation{}, err
	}
	errs := s.checkValue(p, value)
	return catalog.Validation{
		Key:    parameterName(p),
		Value:  value,
		Valid:  len(errs) == 0,
		Errors: errs,
	}, nil
}

// UpdateRequest changes one parameter value in a scenario.
type UpdateRequest struct {
	ScenarioID  string  `json:"-"`
	ParameterID string  `json:"-"`
	Value       float64 `json:"value"`
	Reason      string  `json:"reason,omitempty"`
	ChangedBy   string  `json:"changedBy,omitempty"`
	Recalculate bool    `json:"recalculate,omitempty"`
}

// UpdateResult reports a committed change. Recalculation is set when one was
// requested; a failed recalculation does not undo the change and is
// reported in RecalculationError.
type UpdateResult struct {
	Value              store.ParameterValue        `json:"value"`
	OldValue           float64                     `json:"oldValue"`
	Unchanged          bool                        `json:"unchanged,omitempty"`
	Recalculation      *scenario.RecalculateResult `json:"recalculation,omitempty"`
	RecalculationError string                      `json:"recalculationError,omitempty"`
}

// UpdateValue validates and stores a scenario-scoped value and appends a
// history entry. Setting a parameter to its current value writes nothing.
func (s *Service) UpdateValue(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	sc, p, err := s.target(ctx, req.ScenarioID, req.ParameterID)
	if err != nil {
		return UpdateResult{}, err
	}
	if errs := s.checkValue(p, req.Value); len(errs) > 0 {
		return UpdateResult{}, &ValidationError{Problems: []Problem{
			{ParameterID: p.ID, Key: parameterName(p), Value: req.Value, Errors: errs},
		}}
	}

	var result UpdateResult
	var change notify.ParameterChange
	err = s.scenarios.WithLock(sc.ID, func() error {
		// The revision read here guards the old value against writers in
		// other processes.
		fresh, err := s.repo.GetScenario(ctx, sc.ID)
		if err != nil {
			return err
		}
		old, err := s.currentValue(ctx, sc.ID, p)
		if err != nil {
			return err
		}
		result.OldValue = old
		if equal(old, req.Value) {
			result.Unchanged = true
			result.Value, err = s.repo.GetParameterValue(ctx, sc.ID, p.ID)
			if errors.Is(err, store.ErrNotFound) {
				result.Value = store.ParameterValue{ParameterID: p.ID, ScenarioID: sc.ID, Value: old, OriginalValue: old}
				err = nil
			}
			return err
		}

		value, history := s.change(sc.ID, p, old, req.Value, req.Reason, req.ChangedBy)
		if err := s.repo.SaveParameterValues(ctx, &fresh, []*store.ParameterValue{value}, []store.ParameterHistory{history}); err != nil {
			return fmt.Errorf("failed to store value of %s: %w", parameterName(p), err)
		}
		result.Value = *value
		change = notify.ParameterChange{
			ScenarioID:  sc.ID,
			ParameterID: p.ID,
			Key:         parameterName(p),
			OldValue:    old,
			NewValue:    req.Value,
			ChangedBy:   req.ChangedBy,
			Reason:      req.Reason,
			ChangedAt:   value.ChangedAt,
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if !result.Unchanged {
		s.notifier.ParameterChanged(ctx, change)
		s.logger.Info("updated parameter value",
			zap.String("op", "parameter.UpdateValue"),
			zap.String("scenario", sc.ID),
			zap.String("parameter", change.Key),
			zap.Float64("old", result.OldValue),
			zap.Float64("new", req.Value),
		)
	}

	if req.Recalculate {
		result.Recalculation, result.RecalculationError = s.recalculate(ctx, sc.ID)
	}
	return result, nil
}

// Change is one entry of a batch update.
type Change struct {
	ParameterID string  `json:"parameterId"`
	Value       float64 `json:"value"`
}

// BatchRequest changes several values of one scenario at once.
type BatchRequest struct {
	ScenarioID  string   `json:"-"`
	Changes     []Change `json:"changes"`
	Reason      string   `json:"reason,omitempty"`
	ChangedBy   string   `json:"changedBy,omitempty"`
	Recalculate bool     `json:"recalculate,omitempty"`
}

// BatchResult reports a committed batch.
type BatchResult struct {
	Updated            int                         `json:"updated"`
	Values             []store.ParameterValue      `json:"values"`
	Recalculation      *scenario.RecalculateResult `json:"recalculation,omitempty"`
	RecalculationError string                      `json:"recalculationError,omitempty"`
}

// BatchUpdate validates every change before writing any. If one change is
// invalid the returned *ValidationError lists every invalid change and no
// value is stored; otherwise all changes are stored atomically.
func (s *Service) BatchUpdate(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.Changes) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no changes", ErrInvalidRequest)
	}
	sc, err := s.repo.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		return BatchResult{}, err
	}

	params := make([]store.Parameter, len(req.Changes))
	seen := make(map[string]bool, len(req.Changes))
	var problems []Problem
	for i, c := range req.Changes {
		if seen[c.ParameterID] {
			return BatchResult{}, fmt.Errorf("%w: parameter %s changed twice", ErrInvalidRequest, c.ParameterID)
		}
		seen[c.ParameterID] = true

		p, err := s.repo.GetParameter(ctx, c.ParameterID)
		if err != nil {
			return BatchResult{}, err
		}
		if p.FileID != sc.BaseFileID {
			return BatchResult{}, fmt.Errorf("%w: parameter %s does not belong to the scenario's file", ErrInvalidRequest, p.ID)
		}
		if errs := s.checkValue(p, c.Value); len(errs) > 0 {
			problems = append(problems, Problem{ParameterID: p.ID, Key: parameterName(p), Value: c.Value, Errors: errs})
		}
		params[i] = p
	}
	if len(problems) > 0 {
		return BatchResult{}, &ValidationError{Problems: problems}
	}

	var result BatchResult
	var changes []notify.ParameterChange
	err = s.scenarios.WithLock(sc.ID, func() error {
		fresh, err := s.repo.GetScenario(ctx, sc.ID)
		if err != nil {
			return err
		}
		values := make([]*store.ParameterValue, 0, len(req.Changes))
		history := make([]store.ParameterHistory, 0, len(req.Changes))
		for i, c := range req.Changes {
			p := params[i]
			old, err := s.currentValue(ctx, sc.ID, p)
			if err != nil {
				return err
			}
			if equal(old, c.Value) {
				continue
			}
			v, h := s.change(sc.ID, p, old, c.Value, req.Reason, req.ChangedBy)
			values = append(values, v)
			history = append(history, h)
			changes = append(changes, notify.ParameterChange{
				ScenarioID:  sc.ID,
				ParameterID: p.ID,
				Key:         parameterName(p),
				OldValue:    old,
				NewValue:    c.Value,
				ChangedBy:   req.ChangedBy,
				Reason:      req.Reason,
			})
		}
		if len(values) == 0 {
			return nil
		}
		if err := s.repo.SaveParameterValues(ctx, &fresh, values, history); err != nil {
			return fmt.Errorf("failed to store batch for scenario %s: %w", sc.ID, err)
		}
		for i, v := range values {
			result.Values = append(result.Values, *v)
			changes[i].ChangedAt = v.ChangedAt
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	result.Updated = len(result.Values)

	for _, c := range changes {
		s.notifier.ParameterChanged(ctx, c)
	}
	s.logger.Info("batch updated parameter values",
		zap.String("op", "parameter.BatchUpdate"),
		zap.String("scenario", sc.ID),
		zap.Int("requested", len(req.Changes)),
		zap.Int("updated", result.Updated),
	)

	if req.Recalculate {
		result.Recalculation, result.RecalculationError = s.recalculate(ctx, sc.ID)
	}
	return result, nil
}

// History returns the change history of a parameter. An empty scenarioID
// returns the history across every scenario.
func (s *Service) History(ctx context.Context, parameterID, scenarioID string) ([]store.ParameterHistory, error) {
	if _, err := s.repo.GetParameter(ctx, parameterID); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, parameterID, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history of parameter %s: %w", parameterID, err)
	}
	return history, nil
}

// ImpactRequest previews a value change.
type ImpactRequest struct {
	ScenarioID  string  `json:"-"`
	ParameterID string  `json:"-"`
	Value       float64 `json:"value"`
}

// ImpactResult compares the engine outputs before and after a change.
// Affected lists the catalog parameters that depend on the changed one,
// directly or transitively.
type ImpactResult struct {
	Key      string                      `json:"key"`
	OldValue float64                     `json:"oldValue"`
	NewValue float64                     `json:"newValue"`
	Metrics  []scenario.ResultDifference `json:"metrics"`
	Affected []string                    `json:"affected"`
}

// Impact runs the engine with one value changed and reports the metric
// deltas. Nothing is persisted.
func (s *Service) Impact(ctx context.Context, req ImpactRequest) (ImpactResult, error) {
	sc, p, err := s.target(ctx, req.ScenarioID, req.ParameterID)
	if err != nil {
		return ImpactResult{}, err
	}
	if errs := s.checkValue(p, req.Value); len(errs) > 0 {
		return ImpactResult{}, &ValidationError{Problems: []Problem{
			{ParameterID: p.ID, Key: parameterName(p), Value: req.Value, Errors: errs},
		}}
	}

	params, file, err := s.scenarios.Resolve(ctx, sc.ID)
	if err != nil {
		return ImpactResult{}, err
	}
	old, err := s.currentValue(ctx, sc.ID, p)
	if err != nil {
		return ImpactResult{}, err
	}

	changed := params
	affected := []string{}
	if engine.IsKnown(p.Key) {
		if changed, err = params.With(map[string]float64{p.Key: req.Value}); err != nil {
			return ImpactResult{}, err
		}
		if keys := s.catalog.Affected(p.Key); keys != nil {
			affected = keys
		}
	}

	before := engine.Calculate(params, file.BaseRevenue, file.PriorBalanceSheet)
	after := engine.Calculate(changed, file.BaseRevenue, file.PriorBalanceSheet)

	s.logger.Debug("computed parameter impact",
		zap.String("op", "parameter.Impact"),
		zap.String("scenario", sc.ID),
		zap.String("parameter", parameterName(p)),
	)
	return ImpactResult{
		Key:      parameterName(p),
		OldValue: old,
		NewValue: req.Value,
		Metrics:  scenario.DiffResults(&before, &after),
		Affected: affected,
	}, nil
}

// target loads a scenario and a parameter of its base file.
func (s *Service) target(ctx context.Context, scenarioID, parameterID string) (store.Scenario, store.Parameter, error) {
	sc, err := s.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return store.Scenario{}, store.Parameter{}, err
	}
	p, err := s.repo.GetParameter(ctx, parameterID)
	if err != nil {
		return store.Scenario{}, store.Parameter{}, err
	}
	if p.FileID != sc.BaseFileID {
		return store.Scenario{}, store.Parameter{}, fmt.Errorf("%w: parameter %s does not belong to the scenario's file", ErrInvalidRequest, p.ID)
	}
	return sc, p, nil
}

func (s *Service) currentValue(ctx context.Context, scenarioID string, p store.Parameter) (float64, error) {
	v, err := s.repo.GetParameterValue(ctx, scenarioID, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return p.CurrentValue, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read value of %s: %w", parameterName(p), err)
	}
	return v.Value, nil
}

func (s *Service) change(scenarioID string, p store.Parameter, old, value float64, reason, changedBy string) (*store.ParameterValue, store.ParameterHistory) {
	v := &store.ParameterValue{
		ParameterID:   p.ID,
		ScenarioID:    scenarioID,
		Value:         value,
		OriginalValue: old,
		ChangeReason:  reason,
		ChangedBy:     changedBy,
	}
	h := store.ParameterHistory{
		ParameterID:  p.ID,
		ScenarioID:   scenarioID,
		OldValue:     old,
		NewValue:     value,
		ChangeReason: reason,
		ChangedBy:    changedBy,
	}
	return v, h
}

func (s *Service) recalculate(ctx context.Context, scenarioID string) (*scenario.RecalculateResult, string) {
	res, err := s.scenarios.Recalculate(ctx, scenarioID, false)
	if err != nil {
		s.logger.Warn("recalculation after update failed",
			zap.String("op", "parameter.recalculate"),
			zap.String("scenario", scenarioID),
			zap.Error(err),
		)
		if res.Scenario.ID == "" {
			return nil, err.Error()
		}
		return &res, err.Error()
	}
	return &res, ""
}

func parameterName(p store.Parameter) string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

// equal reports whether two values are the same for change detection.
func equal(a, b float64) bool {
	return a == b || math.Abs(a-b) < 1e-12
}
