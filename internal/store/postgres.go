package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is a Repository backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and returns a store. Call Migrate
// to create the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates any missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close implements Repository.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// GetFile implements Repository.
func (s *PostgresStore) GetFile(ctx context.Context, id string) (File, error) {
	var f File
	var prior []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, base_revenue, prior_balance_sheet, uploaded_at
		FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.OwnerID, &f.BaseRevenue, &prior, &f.UploadedAt)
	if err != nil {
		return File{}, notFound(err, "file %s", id)
	}
	if len(prior) > 0 {
		var bs engine.BalanceSheet
		if err := json.Unmarshal(prior, &bs); err != nil {
			return File{}, fmt.Errorf("failed to decode prior balance sheet of file %s: %w", id, err)
		}
		f.PriorBalanceSheet = &bs
	}
	return f, nil
}

// SaveFile implements Repository.
func (s *PostgresStore) SaveFile(ctx context.Context, file *File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}

	var prior []byte
	if file.PriorBalanceSheet != nil {
		var err error
		if prior, err = json.Marshal(file.PriorBalanceSheet); err != nil {
			return fmt.Errorf("failed to marshal prior balance sheet: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, name, owner_id, base_revenue, prior_balance_sheet, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_id = EXCLUDED.owner_id,
			base_revenue = EXCLUDED.base_revenue,
			prior_balance_sheet = EXCLUDED.prior_balance_sheet`,
		file.ID, file.Name, file.OwnerID, file.BaseRevenue, prior, file.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to save file %s: %w", file.ID, err)
	}
	return nil
}

const parameterColumns = `id, file_id, key, name, category, type, unit, value, current_value,
	default_value, min_value, max_value, sensitivity_level, source_sheet, source_cell,
	depends_on, affects, validation_rules, created_at, updated_at`

func scanParameter(row scanner) (Parameter, error) {
	var p Parameter
	var dependsOn, affects, rules []byte
	err := row.Scan(&p.ID, &p.FileID, &p.Key, &p.Name, &p.Category, &p.Type, &p.Unit,
		&p.Value, &p.CurrentValue, &p.DefaultValue, &p.MinValue, &p.MaxValue,
		&p.SensitivityLevel, &p.SourceSheet, &p.SourceCell,
		&dependsOn, &affects, &rules, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Parameter{}, err
	}
	if err := decodeJSON(dependsOn, &p.DependsOn); err != nil {
		return Parameter{}, err
	}
	if err := decodeJSON(affects, &p.Affects); err != nil {
		return Parameter{}, err
	}
	if err := decodeJSON(rules, &p.ValidationRules); err != nil {
		return Parameter{}, err
	}
	return p, nil
}

// GetParameter implements Repository.
func (s *PostgresStore) GetParameter(ctx context.Context, id string) (Parameter, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+parameterColumns+` FROM parameters WHERE id = $1`, id)
	p, err := scanParameter(row)
	if err != nil {
		return Parameter{}, notFound(err, "parameter %s", id)
	}
	return p, nil
}

// ListParameters implements Repository.
func (s *PostgresStore) ListParameters(ctx context.Context, fileID string) ([]Parameter, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+parameterColumns+`
		FROM parameters WHERE file_id = $1 ORDER BY created_at, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters: %w", err)
	}
	defer rows.Close()

	var out []Parameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveParameter implements Repository.
func (s *PostgresStore) SaveParameter(ctx context.Context, param *Parameter) error {
	now := time.Now().UTC()
	if param.ID == "" {
		param.ID = uuid.NewString()
	}
	if param.CreatedAt.IsZero() {
		param.CreatedAt = now
	}
	param.UpdatedAt = now

	dependsOn, affects, rules, err := encodeParameterLists(param)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO parameters (`+parameterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			type = EXCLUDED.type,
			unit = EXCLUDED.unit,
			value = EXCLUDED.value,
			current_value = EXCLUDED.current_value,
			default_value = EXCLUDED.default_value,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			sensitivity_level = EXCLUDED.sensitivity_level,
			source_sheet = EXCLUDED.source_sheet,
			source_cell = EXCLUDED.source_cell,
			depends_on = EXCLUDED.depends_on,
			affects = EXCLUDED.affects,
			validation_rules = EXCLUDED.validation_rules,
			updated_at = EXCLUDED.updated_at`,
		param.ID, param.FileID, param.Key, param.Name, param.Category, param.Type, param.Unit,
		param.Value, param.CurrentValue, param.DefaultValue, param.MinValue, param.MaxValue,
		param.SensitivityLevel, param.SourceSheet, param.SourceCell,
		dependsOn, affects, rules, param.CreatedAt, param.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save parameter %s: %w", param.ID, err)
	}
	return nil
}

const scenarioColumns = `id, name, description, version, base_file_id, parent_scenario_id,
	owner_id, is_baseline, is_template, calculation_status, calculation_results,
	calculation_error, last_calculated_at, revision, created_at, updated_at`

func scanScenario(row scanner) (Scenario, error) {
	var sc Scenario
	var parent *string
	var results []byte
	err := row.Scan(&sc.ID, &sc.Name, &sc.Description, &sc.Version, &sc.BaseFileID, &parent,
		&sc.OwnerID, &sc.IsBaseline, &sc.IsTemplate, &sc.CalculationStatus, &results,
		&sc.CalculationError, &sc.LastCalculatedAt, &sc.Revision, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return Scenario{}, err
	}
	if parent != nil {
		sc.ParentScenarioID = *parent
	}
	if len(results) > 0 {
		var m engine.Model
		if err := json.Unmarshal(results, &m); err != nil {
			return Scenario{}, fmt.Errorf("failed to decode calculation results: %w", err)
		}
		sc.CalculationResults = &m
	}
	return sc, nil
}

// GetScenario implements Repository.
func (s *PostgresStore) GetScenario(ctx context.Context, id string) (Scenario, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id)
	sc, err := scanScenario(row)
	if err != nil {
		return Scenario{}, notFound(err, "scenario %s", id)
	}
	return sc, nil
}

// ListScenarios implements Repository.
func (s *PostgresStore) ListScenarios(ctx context.Context, filter ScenarioFilter) ([]Scenario, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scenarioColumns+` FROM scenarios
		WHERE ($1::text = '' OR base_file_id = $1)
		  AND ($2::text = '' OR owner_id = $2)
		  AND ($3::text = '' OR parent_scenario_id = $3)
		ORDER BY created_at, id`,
		filter.BaseFileID, filter.OwnerID, filter.ParentScenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CreateScenario implements Repository.
func (s *PostgresStore) CreateScenario(ctx context.Context, sc *Scenario) error {
	now := time.Now().UTC()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	sc.Revision = 1

	results, err := encodeResults(sc.CalculationResults)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sc.ID, sc.Name, sc.Description, sc.Version, sc.BaseFileID, nullString(sc.ParentScenarioID),
		sc.OwnerID, sc.IsBaseline, sc.IsTemplate, sc.CalculationStatus, results,
		sc.CalculationError, sc.LastCalculatedAt, sc.Revision, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scenario %s: %w", sc.ID, err)
	}
	return nil
}

// UpdateScenario implements Repository.
func (s *PostgresStore) UpdateScenario(ctx context.Context, sc *Scenario) error {
	results, err := encodeResults(sc.CalculationResults)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE scenarios SET
			name = $3, description = $4, version = $5, parent_scenario_id = $6,
			owner_id = $7, is_baseline = $8, is_template = $9, calculation_status = $10,
			calculation_results = $11, calculation_error = $12, last_calculated_at = $13,
			revision = revision + 1, updated_at = $14
		WHERE id = $1 AND revision = $2`,
		sc.ID, sc.Revision, sc.Name, sc.Description, sc.Version, nullString(sc.ParentScenarioID),
		sc.OwnerID, sc.IsBaseline, sc.IsTemplate, sc.CalculationStatus,
		results, sc.CalculationError, sc.LastCalculatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to update scenario %s: %w", sc.ID, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scenarios WHERE id = $1)`, sc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check scenario %s: %w", sc.ID, err)
		}
		if !exists {
			return fmt.Errorf("scenario %s: %w", sc.ID, ErrNotFound)
		}
		return fmt.Errorf("scenario %s update from revision %d: %w", sc.ID, sc.Revision, ErrConflict)
	}

	sc.Revision++
	sc.UpdatedAt = now
	return nil
}

// DeleteScenario implements Repository.
func (s *PostgresStore) DeleteScenario(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM parameter_values WHERE scenario_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete values of scenario %s: %w", id, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM scenarios WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete scenario %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

const valueColumns = `id, parameter_id, scenario_id, value, original_value, change_reason, changed_by, changed_at`

func scanValue(row scanner) (ParameterValue, error) {
	var v ParameterValue
	err := row.Scan(&v.ID, &v.ParameterID, &v.ScenarioID, &v.Value, &v.OriginalValue,
		&v.ChangeReason, &v.ChangedBy, &v.ChangedAt)
	return v, err
}

// ListParameterValues implements Repository.
func (s *PostgresStore) ListParameterValues(ctx context.Context, scenarioID string) ([]ParameterValue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+valueColumns+`
		FROM parameter_values WHERE scenario_id = $1 ORDER BY parameter_id`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter values: %w", err)
	}
	defer rows.Close()

	out := []ParameterValue{}
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parameter value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetParameterValue implements Repository.
func (s *PostgresStore) GetParameterValue(ctx context.Context, scenarioID, parameterID string) (ParameterValue, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+valueColumns+`
		FROM parameter_values WHERE scenario_id = $1 AND parameter_id = $2`, scenarioID, parameterID)
	v, err := scanValue(row)
	if err != nil {
		return ParameterValue{}, notFound(err, "value of parameter %s in scenario %s", parameterID, scenarioID)
	}
	return v, nil
}

// SaveParameterValues implements Repository in a single transaction. The
// revision bump runs first so a concurrent writer blocks on the scenario row
// and then fails the revision check.
func (s *PostgresStore) SaveParameterValues(ctx context.Context, sc *Scenario, values []*ParameterValue, history []ParameterHistory) error {
	now := time.Now().UTC()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE scenarios SET revision = revision + 1, updated_at = $3
			WHERE id = $1 AND revision = $2`,
			sc.ID, sc.Revision, now)
		if err != nil {
			return fmt.Errorf("failed to bump revision of scenario %s: %w", sc.ID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scenarios WHERE id = $1)`, sc.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check scenario %s: %w", sc.ID, err)
			}
			if !exists {
				return fmt.Errorf("scenario %s: %w", sc.ID, ErrNotFound)
			}
			return fmt.Errorf("scenario %s values saved from revision %d: %w", sc.ID, sc.Revision, ErrConflict)
		}

		for _, v := range values {
			if v.ScenarioID != sc.ID {
				return fmt.Errorf("value of parameter %s belongs to scenario %s, not %s", v.ParameterID, v.ScenarioID, sc.ID)
			}
			if v.ID == "" {
				v.ID = uuid.NewString()
			}
			if v.ChangedAt.IsZero() {
				v.ChangedAt = now
			}
			err := tx.QueryRow(ctx, `
				INSERT INTO parameter_values (`+valueColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (parameter_id, scenario_id) DO UPDATE SET
					value = EXCLUDED.value,
					change_reason = EXCLUDED.change_reason,
					changed_by = EXCLUDED.changed_by,
					changed_at = EXCLUDED.changed_at
				RETURNING id, original_value`,
				v.ID, v.ParameterID, v.ScenarioID, v.Value, v.OriginalValue,
				v.ChangeReason, v.ChangedBy, v.ChangedAt,
			).Scan(&v.ID, &v.OriginalValue)
			if err != nil {
				return fmt.Errorf("failed to save value of parameter %s: %w", v.ParameterID, err)
			}
		}

		for _, h := range history {
			if h.ID == "" {
				h.ID = uuid.NewString()
			}
			if h.ChangedAt.IsZero() {
				h.ChangedAt = now
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO parameter_history
					(id, parameter_id, scenario_id, old_value, new_value, change_reason, changed_by, changed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				h.ID, h.ParameterID, h.ScenarioID, h.OldValue, h.NewValue,
				h.ChangeReason, h.ChangedBy, h.ChangedAt)
			if err != nil {
				return fmt.Errorf("failed to append history for parameter %s: %w", h.ParameterID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sc.Revision++
	sc.UpdatedAt = now
	return nil
}

// ListHistory implements Repository.
func (s *PostgresStore) ListHistory(ctx context.Context, parameterID, scenarioID string) ([]ParameterHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parameter_id, scenario_id, old_value, new_value, change_reason, changed_by, changed_at
		FROM parameter_history
		WHERE parameter_id = $1 AND ($2::text = '' OR scenario_id = $2)
		ORDER BY changed_at, id`, parameterID, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter history: %w", err)
	}
	defer rows.Close()

	var out []ParameterHistory
	for rows.Next() {
		var h ParameterHistory
		if err := rows.Scan(&h.ID, &h.ParameterID, &h.ScenarioID, &h.OldValue, &h.NewValue,
			&h.ChangeReason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan parameter history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AppendAudit implements Repository.
func (s *PostgresStore) AppendAudit(ctx context.Context, audit CalculationAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calculation_audits (id, scenario_id, status, forced, started_at, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		audit.ID, audit.ScenarioID, audit.Status, audit.Forced, audit.StartedAt,
		audit.Duration.Milliseconds(), audit.Error)
	if err != nil {
		return fmt.Errorf("failed to append calculation audit: %w", err)
	}
	return nil
}

// ListAudits implements Repository.
func (s *PostgresStore) ListAudits(ctx context.Context, scenarioID string) ([]CalculationAudit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, scenario_id, status, forced, started_at, duration_ms, error
		FROM calculation_audits WHERE scenario_id = $1 ORDER BY started_at, id`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculation audits: %w", err)
	}
	defer rows.Close()

	var out []CalculationAudit
	for rows.Next() {
		var a CalculationAudit
		var durationMS int64
		if err := rows.Scan(&a.ID, &a.ScenarioID, &a.Status, &a.Forced, &a.StartedAt, &durationMS, &a.Error); err != nil {
			return nil, fmt.Errorf("failed to scan calculation audit: %w", err)
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	return nil
}

func encodeResults(m *engine.Model) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal calculation results: %w", err)
	}
	return data, nil
}

func encodeParameterLists(p *Parameter) (dependsOn, affects, rules []byte, err error) {
	if dependsOn, err = json.Marshal(p.DependsOn); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal depends_on: %w", err)
	}
	if affects, err = json.Marshal(p.Affects); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal affects: %w", err)
	}
	if rules, err = json.Marshal(p.ValidationRules); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal validation rules: %w", err)
	}
	return dependsOn, affects, rules, nil
}
