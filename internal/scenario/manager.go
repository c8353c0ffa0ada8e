// Package scenario manages versioned parameter scenarios: creation and
// cloning, comparison, deletion and incremental recalculation.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/internal/notify"
	"github.com/iwvelando/finance-model/internal/store"
	"github.com/iwvelando/finance-model/pkg/constants"
	"go.uber.org/zap"
)

var (
	// ErrHasChildren is returned when deleting a scenario that has children
	// without force.
	ErrHasChildren = errors.New("scenario has child scenarios")

	// ErrInvalidRequest is returned for malformed create or clone requests.
	ErrInvalidRequest = errors.New("invalid scenario request")
)

// Manager coordinates scenario lifecycle operations over a Repository.
type Manager struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	notifier notify.Notifier
	logger   *zap.Logger
	locks    *keyedMutex
}

// NewManager returns a Manager. A nil catalog uses the default catalog and
// nil notifier or logger disable those side channels.
func NewManager(repo store.Repository, cat *catalog.Catalog, notifier notify.Notifier, logger *zap.Logger) *Manager {
	if cat == nil {
		cat = catalog.MustDefault()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:     repo,
		catalog:  cat,
		notifier: notifier,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

// WithLock runs fn while holding the write lock of scenarioID. Every write
// to a scenario or its parameter values goes through this lock.
func (m *Manager) WithLock(scenarioID string, fn func() error) error {
	unlock := m.locks.lock(scenarioID)
	defer unlock()
	return fn()
}

// CreateRequest describes a new scenario. With ParentScenarioID set the
// parent's parameter values are copied; otherwise values are initialized
// from the file's detected parameters, or from catalog defaults when
// UseDefaults is set.
type CreateRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	BaseFileID       string `json:"baseFileId"`
	ParentScenarioID string `json:"parentScenarioId,omitempty"`
	OwnerID          string `json:"ownerId,omitempty"`
	IsBaseline       bool   `json:"isBaseline,omitempty"`
	IsTemplate       bool   `json:"isTemplate,omitempty"`
	UseDefaults      bool   `json:"useDefaults,omitempty"`
}

// CreateResult is a created scenario and the number of parameter values it
// was initialized with.
type CreateResult struct {
	Scenario      store.Scenario `json:"scenario"`
	ValuesCreated int            `json:"valuesCreated"`
}

// Create validates the base file and parent, assigns a version and
// initializes the scenario's parameter values.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return CreateResult{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.BaseFileID == "" {
		return CreateResult{}, fmt.Errorf("%w: base file is required", ErrInvalidRequest)
	}

	file, err := m.repo.GetFile(ctx, req.BaseFileID)
	if err != nil {
		return CreateResult{}, err
	}

	// Version assignment is serialized per file.
	unlock := m.locks.lock("file:" + file.ID)
	defer unlock()

	existing, err := m.repo.ListScenarios(ctx, store.ScenarioFilter{BaseFileID: file.ID})
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to list scenarios of file %s: %w", file.ID, err)
	}
	taken := make(map[string]bool, len(existing))
	for _, s := range existing {
		taken[s.Version] = true
	}

	sc := &store.Scenario{
		Name:              req.Name,
		Description:       req.Description,
		BaseFileID:        file.ID,
		OwnerID:           req.OwnerID,
		IsBaseline:        req.IsBaseline,
		IsTemplate:        req.IsTemplate,
		CalculationStatus: store.StatusPending,
	}

	var values []*store.ParameterValue
	if req.ParentScenarioID != "" {
		parent, err := m.repo.GetScenario(ctx, req.ParentScenarioID)
		if err != nil {
			return CreateResult{}, err
		}
		if parent.BaseFileID != file.ID {
			return CreateResult{}, fmt.Errorf("%w: parent scenario %s belongs to a different file", ErrInvalidRequest, parent.ID)
		}
		siblings := 0
		for _, s := range existing {
			if s.ParentScenarioID == parent.ID {
				siblings++
			}
		}
		sc.ParentScenarioID = parent.ID
		sc.Version = nextChildVersion(parent.Version, siblings, taken)

		parentValues, err := m.repo.ListParameterValues(ctx, parent.ID)
		if err != nil {
			return CreateResult{}, fmt.Errorf("failed to list values of scenario %s: %w", parent.ID, err)
		}
		for _, v := range parentValues {
			values = append(values, &store.ParameterValue{
				ParameterID:   v.ParameterID,
				Value:         v.Value,
				OriginalValue: v.Value,
				ChangeReason:  "copied from scenario " + parent.Version,
				ChangedBy:     req.OwnerID,
			})
		}
	} else {
		sc.Version = nextRootVersion(rootVersions(existing))

		params, err := m.repo.ListParameters(ctx, file.ID)
		if err != nil {
			return CreateResult{}, fmt.Errorf("failed to list parameters of file %s: %w", file.ID, err)
		}
		for _, p := range params {
			value := p.CurrentValue
			reason := "initialized from file"
			if req.UseDefaults {
				value = p.DefaultValue
				if def, ok := m.catalog.Definition(p.Key); ok {
					value = def.DefaultValue
				}
				reason = "initialized from defaults"
			}
			values = append(values, &store.ParameterValue{
				ParameterID:   p.ID,
				Value:         value,
				OriginalValue: value,
				ChangeReason:  reason,
				ChangedBy:     req.OwnerID,
			})
		}
	}

	if err := m.repo.CreateScenario(ctx, sc); err != nil {
		return CreateResult{}, fmt.Errorf("failed to create scenario: %w", err)
	}

	if len(values) > 0 {
		err := m.WithLock(sc.ID, func() error {
			for _, v := range values {
				v.ScenarioID = sc.ID
			}
			return m.repo.SaveParameterValues(ctx, sc, values, nil)
		})
		if err != nil {
			return CreateResult{}, fmt.Errorf("failed to initialize values of scenario %s: %w", sc.ID, err)
		}
	}

	m.logger.Info("created scenario",
		zap.String("op", "scenario.Create"),
		zap.String("scenario", sc.ID),
		zap.String("version", sc.Version),
		zap.Int("values", len(values)),
	)

	return CreateResult{Scenario: *sc, ValuesCreated: len(values)}, nil
}

// CloneRequest names the child created by Clone.
type CloneRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId,omitempty"`
}

// Clone creates a child of sourceID carrying a copy of every parameter value
// and returns the number of values copied.
func (m *Manager) Clone(ctx context.Context, sourceID string, req CloneRequest) (CreateResult, error) {
	source, err := m.repo.GetScenario(ctx, sourceID)
	if err != nil {
		return CreateResult{}, err
	}

	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = source.Name + " (copy)"
	}
	owner := req.OwnerID
	if owner == "" {
		owner = source.OwnerID
	}

	return m.Create(ctx, CreateRequest{
		Name:             name,
		Description:      req.Description,
		BaseFileID:       source.BaseFileID,
		ParentScenarioID: source.ID,
		OwnerID:          owner,
	})
}

// Get returns a scenario.
func (m *Manager) Get(ctx context.Context, id string) (store.Scenario, error) {
	return m.repo.GetScenario(ctx, id)
}

// List returns the scenarios matching filter.
func (m *Manager) List(ctx context.Context, filter store.ScenarioFilter) ([]store.Scenario, error) {
	return m.repo.ListScenarios(ctx, filter)
}

// Delete removes a scenario. A scenario with children is refused with
// ErrHasChildren unless force is set, in which case its descendants are
// deleted first, children before parents.
func (m *Manager) Delete(ctx context.Context, id string, force bool) error {
	if _, err := m.repo.GetScenario(ctx, id); err != nil {
		return err
	}

	children, err := m.repo.ListScenarios(ctx, store.ScenarioFilter{ParentScenarioID: id})
	if err != nil {
		return fmt.Errorf("failed to list children of scenario %s: %w", id, err)
	}
	if len(children) > 0 && !force {
		return fmt.Errorf("scenario %s has %d children: %w", id, len(children), ErrHasChildren)
	}

	for _, child := range children {
		if err := m.Delete(ctx, child.ID, true); err != nil {
			return err
		}
	}

	err = m.WithLock(id, func() error {
		return m.repo.DeleteScenario(ctx, id)
	})
	if err != nil {
		return err
	}

	m.logger.Info("deleted scenario",
		zap.String("op", "scenario.Delete"),
		zap.String("scenario", id),
		zap.Int("children", len(children)),
	)
	return nil
}

// Resolve merges catalog defaults, the base file's detected values and the
// scenario's overrides into the parameter set the engine consumes.
func (m *Manager) Resolve(ctx context.Context, scenarioID string) (engine.CoreParameters, store.File, error) {
	sc, err := m.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return engine.CoreParameters{}, store.File{}, err
	}
	file, err := m.repo.GetFile(ctx, sc.BaseFileID)
	if err != nil {
		return engine.CoreParameters{}, store.File{}, err
	}
	values, err := m.EffectiveValues(ctx, sc)
	if err != nil {
		return engine.CoreParameters{}, store.File{}, err
	}

	overrides := make(map[string]float64, len(values))
	for key, v := range values {
		if engine.IsKnown(key) {
			overrides[key] = v.Value
		}
	}

	params, err := engine.DefaultParameters().With(overrides)
	if err != nil {
		return engine.CoreParameters{}, store.File{}, err
	}
	return params, file, nil
}

// EffectiveValue is a parameter's value within a scenario.
type EffectiveValue struct {
	Parameter store.Parameter
	Value     float64
	ChangedAt time.Time
}

// EffectiveValues returns the scenario's values keyed by catalog key, or by
// parameter name for custom parameters. File values apply where the
// scenario has no override.
func (m *Manager) EffectiveValues(ctx context.Context, sc store.Scenario) (map[string]EffectiveValue, error) {
	params, err := m.repo.ListParameters(ctx, sc.BaseFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters of file %s: %w", sc.BaseFileID, err)
	}
	values, err := m.repo.ListParameterValues(ctx, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list values of scenario %s: %w", sc.ID, err)
	}

	byParam := make(map[string]store.ParameterValue, len(values))
	for _, v := range values {
		byParam[v.ParameterID] = v
	}

	out := make(map[string]EffectiveValue, len(params))
	for _, p := range params {
		ev := EffectiveValue{Parameter: p, Value: p.CurrentValue, ChangedAt: p.UpdatedAt}
		if v, ok := byParam[p.ID]; ok {
			ev.Value = v.Value
			ev.ChangedAt = v.ChangedAt
		}
		out[parameterName(p)] = ev
	}
	return out, nil
}

func parameterName(p store.Parameter) string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

func rootVersions(scenarios []store.Scenario) map[string]bool {
	taken := make(map[string]bool)
	for _, s := range scenarios {
		if s.ParentScenarioID == "" {
			taken[s.Version] = true
		}
	}
	return taken
}

// RecalculateResult reports the outcome of Recalculate.
type RecalculateResult struct {
	Scenario store.Scenario `json:"scenario"`
	Status   string         `json:"status"`
	Skipped  bool           `json:"skipped"`
}

// Recalculate runs the engine for a scenario and stores the results. Unless
// force is set the run is skipped with status up_to_date when the scenario
// completed before and no parameter value changed since.
func (m *Manager) Recalculate(ctx context.Context, scenarioID string, force bool) (RecalculateResult, error) {
	var result RecalculateResult
	err := m.WithLock(scenarioID, func() error {
		var err error
		result, err = m.recalculateLocked(ctx, scenarioID, force)
		return err
	})
	return result, err
}

func (m *Manager) recalculateLocked(ctx context.Context, scenarioID string, force bool) (RecalculateResult, error) {
	sc, err := m.repo.GetScenario(ctx, scenarioID)
	if err != nil {
		return RecalculateResult{}, err
	}

	if !force && sc.CalculationStatus == store.StatusCompleted && sc.LastCalculatedAt != nil {
		changed, err := m.changedSince(ctx, sc, *sc.LastCalculatedAt)
		if err != nil {
			return RecalculateResult{}, err
		}
		if !changed {
			m.logger.Debug("scenario is up to date",
				zap.String("op", "scenario.Recalculate"),
				zap.String("scenario", sc.ID),
			)
			return RecalculateResult{Scenario: sc, Status: constants.UpToDate, Skipped: true}, nil
		}
	}

	started := time.Now().UTC()
	sc.CalculationStatus = store.StatusCalculating
	if err := m.repo.UpdateScenario(ctx, &sc); err != nil {
		return RecalculateResult{}, fmt.Errorf("failed to mark scenario %s calculating: %w", sc.ID, err)
	}

	params, file, calcErr := m.Resolve(ctx, sc.ID)
	if calcErr == nil {
		model := engine.Calculate(params, file.BaseRevenue, file.PriorBalanceSheet)
		if err := engine.CheckBalance(model.BalanceSheet); err != nil {
			calcErr = err
		} else {
			finished := time.Now().UTC()
			sc.CalculationStatus = store.StatusCompleted
			sc.CalculationResults = &model
			sc.CalculationError = ""
			sc.LastCalculatedAt = &finished
		}
	}
	if calcErr != nil {
		sc.CalculationStatus = store.StatusError
		sc.CalculationError = calcErr.Error()
	}

	if err := m.repo.UpdateScenario(ctx, &sc); err != nil {
		return RecalculateResult{}, fmt.Errorf("failed to store results of scenario %s: %w", sc.ID, err)
	}

	duration := time.Since(started)
	audit := store.CalculationAudit{
		ScenarioID: sc.ID,
		Status:     sc.CalculationStatus,
		Forced:     force,
		StartedAt:  started,
		Duration:   duration,
		Error:      sc.CalculationError,
	}
	if err := m.repo.AppendAudit(ctx, audit); err != nil {
		m.logger.Warn("failed to append calculation audit",
			zap.String("op", "scenario.Recalculate"),
			zap.String("scenario", sc.ID),
			zap.Error(err),
		)
	}

	if calcErr != nil {
		m.logger.Error("recalculation failed",
			zap.String("op", "scenario.Recalculate"),
			zap.String("scenario", sc.ID),
			zap.Error(calcErr),
		)
		return RecalculateResult{Scenario: sc, Status: string(sc.CalculationStatus)},
			fmt.Errorf("recalculation of scenario %s failed: %w", sc.ID, calcErr)
	}

	event := notify.CalculationEvent{
		ScenarioID:      sc.ID,
		Status:          string(sc.CalculationStatus),
		Forced:          force,
		Duration:        duration,
		EnterpriseValue: sc.CalculationResults.DCF.EnterpriseValue,
	}
	m.notifier.CalculationCompleted(ctx, event)

	m.logger.Info("recalculated scenario",
		zap.String("op", "scenario.Recalculate"),
		zap.String("scenario", sc.ID),
		zap.Bool("forced", force),
		zap.Duration("duration", duration),
	)
	return RecalculateResult{Scenario: sc, Status: string(sc.CalculationStatus)}, nil
}

func (m *Manager) changedSince(ctx context.Context, sc store.Scenario, since time.Time) (bool, error) {
	values, err := m.repo.ListParameterValues(ctx, sc.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list values of scenario %s: %w", sc.ID, err)
	}
	for _, v := range values {
		if v.ChangedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}
