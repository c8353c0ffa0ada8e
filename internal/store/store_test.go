package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/iwvelando/finance-model/internal/engine"
)

// exerciseRepository runs the behavior every Repository must share.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	file := &File{Name: "plan.xlsx", OwnerID: "analyst", BaseRevenue: 1_000_000}
	if err := repo.SaveFile(ctx, file); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	if file.ID == "" {
		t.Fatal("expected SaveFile to assign an ID")
	}

	t.Run("Files", func(t *testing.T) {
		got, err := repo.GetFile(ctx, file.ID)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if got.Name != file.Name || got.BaseRevenue != file.BaseRevenue {
			t.Errorf("unexpected file: %+v", got)
		}
		if _, err := repo.GetFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	param := &Parameter{
		FileID:       file.ID,
		Key:          "inflation_rate",
		Name:         "Inflation Rate",
		Type:         "percentage",
		Value:        0.03,
		CurrentValue: 0.03,
		DefaultValue: 0.03,
		DependsOn:    []string{"a"},
		ValidationRules: []ValidationRule{
			{Kind: RuleMax, Value: 0.5},
		},
	}
	if err := repo.SaveParameter(ctx, param); err != nil {
		t.Fatalf("SaveParameter() error = %v", err)
	}

	t.Run("Parameters", func(t *testing.T) {
		got, err := repo.GetParameter(ctx, param.ID)
		if err != nil {
			t.Fatalf("GetParameter() error = %v", err)
		}
		if got.Key != "inflation_rate" || len(got.DependsOn) != 1 || len(got.ValidationRules) != 1 {
			t.Errorf("unexpected parameter: %+v", got)
		}

		list, err := repo.ListParameters(ctx, file.ID)
		if err != nil {
			t.Fatalf("ListParameters() error = %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 parameter, got %d", len(list))
		}
	})

	scenario := &Scenario{
		Name:              "Base",
		Version:           "1.0",
		BaseFileID:        file.ID,
		CalculationStatus: StatusPending,
	}
	if err := repo.CreateScenario(ctx, scenario); err != nil {
		t.Fatalf("CreateScenario() error = %v", err)
	}

	t.Run("Optimistic locking", func(t *testing.T) {
		first, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		second := first

		first.CalculationStatus = StatusCalculating
		if err := repo.UpdateScenario(ctx, &first); err != nil {
			t.Fatalf("UpdateScenario() error = %v", err)
		}
		if first.Revision != second.Revision+1 {
			t.Errorf("expected revision %d, got %d", second.Revision+1, first.Revision)
		}

		second.Name = "stale"
		if err := repo.UpdateScenario(ctx, &second); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		missing := Scenario{ID: "missing", Revision: 1}
		if err := repo.UpdateScenario(ctx, &missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Calculation results", func(t *testing.T) {
		sc, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		model := engine.Calculate(engine.DefaultParameters(), 1_000_000, nil)
		now := time.Now().UTC()
		sc.CalculationResults = &model
		sc.CalculationStatus = StatusCompleted
		sc.LastCalculatedAt = &now
		if err := repo.UpdateScenario(ctx, &sc); err != nil {
			t.Fatalf("UpdateScenario() error = %v", err)
		}

		got, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		if got.CalculationResults == nil || got.LastCalculatedAt == nil {
			t.Fatal("expected calculation results to be stored")
		}
		if got.CalculationResults.DCF.EnterpriseValue != model.DCF.EnterpriseValue {
			t.Errorf("enterprise value %.2f, expected %.2f",
				got.CalculationResults.DCF.EnterpriseValue, model.DCF.EnterpriseValue)
		}
	})

	t.Run("Parameter values", func(t *testing.T) {
		sc, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		start := sc.Revision

		first := &ParameterValue{ParameterID: param.ID, ScenarioID: scenario.ID, Value: 0.04, OriginalValue: 0.03}
		if err := repo.SaveParameterValues(ctx, &sc, []*ParameterValue{first}, []ParameterHistory{
			{ParameterID: param.ID, ScenarioID: scenario.ID, OldValue: 0.03, NewValue: 0.04},
		}); err != nil {
			t.Fatalf("SaveParameterValues() error = %v", err)
		}

		second := &ParameterValue{ParameterID: param.ID, ScenarioID: scenario.ID, Value: 0.05, OriginalValue: 0.04}
		if err := repo.SaveParameterValues(ctx, &sc, []*ParameterValue{second}, []ParameterHistory{
			{ParameterID: param.ID, ScenarioID: scenario.ID, OldValue: 0.04, NewValue: 0.05},
		}); err != nil {
			t.Fatalf("SaveParameterValues() error = %v", err)
		}

		values, err := repo.ListParameterValues(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("ListParameterValues() error = %v", err)
		}
		if len(values) != 1 {
			t.Fatalf("expected one value per parameter and scenario, got %d", len(values))
		}
		if values[0].Value != 0.05 || values[0].OriginalValue != 0.03 {
			t.Errorf("unexpected value row: %+v", values[0])
		}
		if second.ID != first.ID {
			t.Error("upsert should keep the existing row ID")
		}

		history, err := repo.ListHistory(ctx, param.ID, scenario.ID)
		if err != nil {
			t.Fatalf("ListHistory() error = %v", err)
		}
		if len(history) != 2 {
			t.Errorf("expected 2 history entries, got %d", len(history))
		}

		if _, err := repo.GetParameterValue(ctx, scenario.ID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		stored, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		if sc.Revision != start+2 || stored.Revision != sc.Revision {
			t.Errorf("expected revision %d after two saves, got %d (stored %d)", start+2, sc.Revision, stored.Revision)
		}
	})

	t.Run("Parameter value conflict", func(t *testing.T) {
		current, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		stale := current
		stale.Revision--

		lost := &ParameterValue{ParameterID: param.ID, ScenarioID: scenario.ID, Value: 0.09}
		err = repo.SaveParameterValues(ctx, &stale, []*ParameterValue{lost}, []ParameterHistory{
			{ParameterID: param.ID, ScenarioID: scenario.ID, OldValue: 0.04, NewValue: 0.09},
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		v, err := repo.GetParameterValue(ctx, scenario.ID, param.ID)
		if err != nil {
			t.Fatalf("GetParameterValue() error = %v", err)
		}
		if v.Value != 0.05 {
			t.Errorf("stale write must not be stored, got value %v", v.Value)
		}
		history, err := repo.ListHistory(ctx, param.ID, scenario.ID)
		if err != nil {
			t.Fatalf("ListHistory() error = %v", err)
		}
		if len(history) != 2 {
			t.Errorf("stale write must not append history, got %d entries", len(history))
		}
		after, err := repo.GetScenario(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("GetScenario() error = %v", err)
		}
		if after.Revision != current.Revision {
			t.Errorf("revision moved from %d to %d on a rejected save", current.Revision, after.Revision)
		}

		missing := Scenario{ID: "missing", Revision: 1}
		if err := repo.SaveParameterValues(ctx, &missing, nil, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Audits", func(t *testing.T) {
		if err := repo.AppendAudit(ctx, CalculationAudit{
			ScenarioID: scenario.ID,
			Status:     StatusCompleted,
			StartedAt:  time.Now().UTC(),
			Duration:   15 * time.Millisecond,
		}); err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
		audits, err := repo.ListAudits(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("ListAudits() error = %v", err)
		}
		if len(audits) != 1 || audits[0].Duration != 15*time.Millisecond {
			t.Errorf("unexpected audits: %+v", audits)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		child := &Scenario{Name: "Child", Version: "1.1", BaseFileID: file.ID, ParentScenarioID: scenario.ID}
		if err := repo.CreateScenario(ctx, child); err != nil {
			t.Fatalf("CreateScenario() error = %v", err)
		}
		children, err := repo.ListScenarios(ctx, ScenarioFilter{ParentScenarioID: scenario.ID})
		if err != nil {
			t.Fatalf("ListScenarios() error = %v", err)
		}
		if len(children) != 1 || children[0].ID != child.ID {
			t.Fatalf("unexpected children: %+v", children)
		}

		if err := repo.DeleteScenario(ctx, child.ID); err != nil {
			t.Fatalf("DeleteScenario(child) error = %v", err)
		}
		if err := repo.DeleteScenario(ctx, scenario.ID); err != nil {
			t.Fatalf("DeleteScenario() error = %v", err)
		}
		if _, err := repo.GetScenario(ctx, scenario.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		values, err := repo.ListParameterValues(ctx, scenario.ID)
		if err != nil {
			t.Fatalf("ListParameterValues() error = %v", err)
		}
		if len(values) != 0 {
			t.Errorf("expected values to be deleted with the scenario, got %d", len(values))
		}
		if err := repo.DeleteScenario(ctx, scenario.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseRepository(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore()

	file := &File{Name: "f"}
	if err := repo.SaveFile(ctx, file); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	param := &Parameter{FileID: file.ID, Name: "p", DependsOn: []string{"x"}}
	if err := repo.SaveParameter(ctx, param); err != nil {
		t.Fatalf("SaveParameter() error = %v", err)
	}

	param.DependsOn[0] = "mutated"
	got, _ := repo.GetParameter(ctx, param.ID)
	if got.DependsOn[0] != "x" {
		t.Error("store shares slices with the caller")
	}
}

func TestMemoryStoreRejectsOrphans(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore()

	if err := repo.SaveParameter(ctx, &Parameter{FileID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for parameter without file, got %v", err)
	}
	if err := repo.CreateScenario(ctx, &Scenario{BaseFileID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for scenario without file, got %v", err)
	}
	err := repo.SaveParameterValues(ctx, &Scenario{ID: "s"}, []*ParameterValue{{ParameterID: "p", ScenarioID: "s"}}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for value without scenario, got %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	repo, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	exerciseRepository(t, repo)
}

func TestNewPostgresStoreRequiresURL(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), ""); err == nil {
		t.Error("expected error for empty database URL")
	}
}
