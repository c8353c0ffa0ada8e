package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/finance-model/internal/engine"
)

// MemoryStore is an in-process Repository. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	files      map[string]File
	parameters map[string]Parameter
	scenarios  map[string]Scenario
	values     map[string]map[string]ParameterValue // scenarioID -> parameterID -> value
	history    []ParameterHistory
	audits     []CalculationAudit
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:      make(map[string]File),
		parameters: make(map[string]Parameter),
		scenarios:  make(map[string]Scenario),
		values:     make(map[string]map[string]ParameterValue),
	}
}

// GetFile implements Repository.
func (m *MemoryStore) GetFile(_ context.Context, id string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return File{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return copyFile(f), nil
}

// SaveFile implements Repository.
func (m *MemoryStore) SaveFile(_ context.Context, file *File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = copyFile(*file)
	return nil
}

// GetParameter implements Repository.
func (m *MemoryStore) GetParameter(_ context.Context, id string) (Parameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.parameters[id]
	if !ok {
		return Parameter{}, fmt.Errorf("parameter %s: %w", id, ErrNotFound)
	}
	return copyParameter(p), nil
}

// ListParameters implements Repository.
func (m *MemoryStore) ListParameters(_ context.Context, fileID string) ([]Parameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Parameter
	for _, p := range m.parameters {
		if p.FileID == fileID {
			out = append(out, copyParameter(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveParameter implements Repository.
func (m *MemoryStore) SaveParameter(_ context.Context, param *Parameter) error {
	now := time.Now().UTC()
	if param.ID == "" {
		param.ID = uuid.NewString()
	}
	if param.CreatedAt.IsZero() {
		param.CreatedAt = now
	}
	param.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[param.FileID]; !ok {
		return fmt.Errorf("file %s: %w", param.FileID, ErrNotFound)
	}
	m.parameters[param.ID] = copyParameter(*param)
	return nil
}

// GetScenario implements Repository.
func (m *MemoryStore) GetScenario(_ context.Context, id string) (Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scenarios[id]
	if !ok {
		return Scenario{}, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return copyScenario(s), nil
}

// ListScenarios implements Repository.
func (m *MemoryStore) ListScenarios(_ context.Context, filter ScenarioFilter) ([]Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Scenario
	for _, s := range m.scenarios {
		if filter.matches(s) {
			out = append(out, copyScenario(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateScenario implements Repository.
func (m *MemoryStore) CreateScenario(_ context.Context, scenario *Scenario) error {
	now := time.Now().UTC()
	if scenario.ID == "" {
		scenario.ID = uuid.NewString()
	}
	if scenario.CreatedAt.IsZero() {
		scenario.CreatedAt = now
	}
	scenario.UpdatedAt = now
	scenario.Revision = 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scenarios[scenario.ID]; exists {
		return fmt.Errorf("scenario %s already exists: %w", scenario.ID, ErrConflict)
	}
	if _, ok := m.files[scenario.BaseFileID]; !ok {
		return fmt.Errorf("file %s: %w", scenario.BaseFileID, ErrNotFound)
	}
	m.scenarios[scenario.ID] = copyScenario(*scenario)
	return nil
}

// UpdateScenario implements Repository.
func (m *MemoryStore) UpdateScenario(_ context.Context, scenario *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.scenarios[scenario.ID]
	if !ok {
		return fmt.Errorf("scenario %s: %w", scenario.ID, ErrNotFound)
	}
	if current.Revision != scenario.Revision {
		return fmt.Errorf("scenario %s at revision %d, update from %d: %w",
			scenario.ID, current.Revision, scenario.Revision, ErrConflict)
	}

	scenario.Revision++
	scenario.UpdatedAt = time.Now().UTC()
	m.scenarios[scenario.ID] = copyScenario(*scenario)
	return nil
}

// DeleteScenario implements Repository.
func (m *MemoryStore) DeleteScenario(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scenarios[id]; !ok {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	delete(m.scenarios, id)
	delete(m.values, id)
	return nil
}

// ListParameterValues implements Repository.
func (m *MemoryStore) ListParameterValues(_ context.Context, scenarioID string) ([]ParameterValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ParameterValue, 0, len(m.values[scenarioID]))
	for _, v := range m.values[scenarioID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterID < out[j].ParameterID })
	return out, nil
}

// GetParameterValue implements Repository.
func (m *MemoryStore) GetParameterValue(_ context.Context, scenarioID, parameterID string) (ParameterValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[scenarioID][parameterID]
	if !ok {
		return ParameterValue{}, fmt.Errorf("value of parameter %s in scenario %s: %w", parameterID, scenarioID, ErrNotFound)
	}
	return v, nil
}

// SaveParameterValues implements Repository. Either every value and history
// entry is stored or none is.
func (m *MemoryStore) SaveParameterValues(_ context.Context, scenario *Scenario, values []*ParameterValue, history []ParameterHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.scenarios[scenario.ID]
	if !ok {
		return fmt.Errorf("scenario %s: %w", scenario.ID, ErrNotFound)
	}
	if current.Revision != scenario.Revision {
		return fmt.Errorf("scenario %s at revision %d, values saved from %d: %w",
			scenario.ID, current.Revision, scenario.Revision, ErrConflict)
	}
	for _, v := range values {
		if v.ScenarioID != scenario.ID {
			return fmt.Errorf("value of parameter %s belongs to scenario %s, not %s", v.ParameterID, v.ScenarioID, scenario.ID)
		}
		if _, ok := m.parameters[v.ParameterID]; !ok {
			return fmt.Errorf("parameter %s: %w", v.ParameterID, ErrNotFound)
		}
	}

	now := time.Now().UTC()
	for _, v := range values {
		if v.ChangedAt.IsZero() {
			v.ChangedAt = now
		}
		byParam, ok := m.values[v.ScenarioID]
		if !ok {
			byParam = make(map[string]ParameterValue)
			m.values[v.ScenarioID] = byParam
		}
		if existing, ok := byParam[v.ParameterID]; ok {
			v.ID = existing.ID
			v.OriginalValue = existing.OriginalValue
		} else if v.ID == "" {
			v.ID = uuid.NewString()
		}
		byParam[v.ParameterID] = *v
	}

	for _, h := range history {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.ChangedAt.IsZero() {
			h.ChangedAt = now
		}
		m.history = append(m.history, h)
	}

	current.Revision++
	current.UpdatedAt = now
	m.scenarios[scenario.ID] = current
	scenario.Revision = current.Revision
	scenario.UpdatedAt = now
	return nil
}

// ListHistory implements Repository. An empty scenarioID matches every
// scenario.
func (m *MemoryStore) ListHistory(_ context.Context, parameterID, scenarioID string) ([]ParameterHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ParameterHistory
	for _, h := range m.history {
		if h.ParameterID == parameterID && (scenarioID == "" || h.ScenarioID == scenarioID) {
			out = append(out, h)
		}
	}
	return out, nil
}

// AppendAudit implements Repository.
func (m *MemoryStore) AppendAudit(_ context.Context, audit CalculationAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, audit)
	return nil
}

// ListAudits implements Repository.
func (m *MemoryStore) ListAudits(_ context.Context, scenarioID string) ([]CalculationAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CalculationAudit
	for _, a := range m.audits {
		if a.ScenarioID == scenarioID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Close implements Repository.
func (m *MemoryStore) Close() {}

func copyFile(f File) File {
	if f.PriorBalanceSheet != nil {
		bs := *f.PriorBalanceSheet
		f.PriorBalanceSheet = &bs
	}
	return f
}

func copyParameter(p Parameter) Parameter {
	p.DependsOn = append([]string(nil), p.DependsOn...)
	p.Affects = append([]string(nil), p.Affects...)
	p.ValidationRules = append([]ValidationRule(nil), p.ValidationRules...)
	if p.MinValue != nil {
		v := *p.MinValue
		p.MinValue = &v
	}
	if p.MaxValue != nil {
		v := *p.MaxValue
		p.MaxValue = &v
	}
	return p
}

func copyScenario(s Scenario) Scenario {
	if s.CalculationResults != nil {
		s.CalculationResults = copyModel(s.CalculationResults)
	}
	if s.LastCalculatedAt != nil {
		t := *s.LastCalculatedAt
		s.LastCalculatedAt = &t
	}
	return s
}

func copyModel(m *engine.Model) *engine.Model {
	out := *m
	out.DCF.Projections = append([]engine.Projection(nil), m.DCF.Projections...)
	return &out
}
