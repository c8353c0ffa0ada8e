// Package sensitivity re-runs the financial engine under perturbed
// parameters: one-at-a-time sensitivity around a base case and Monte Carlo
// simulation over normally distributed inputs.
package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTooManyIterations is returned when a simulation asks for more
	// iterations than the analyzer allows.
	ErrTooManyIterations = errors.New("too many iterations")

	// ErrInvalidRequest is returned for malformed analysis requests.
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// Config bounds the analyzer. Zero values select the defaults.
type Config struct {
	Workers       int
	MaxIterations int
}

// Analyzer runs sensitivity analyses and simulations. It holds no mutable
// state and is safe for concurrent use.
type Analyzer struct {
	catalog       *catalog.Catalog
	logger        *zap.Logger
	workers       int
	maxIterations int
}

// NewAnalyzer returns an Analyzer. A nil catalog uses the default catalog.
func NewAnalyzer(cfg Config, cat *catalog.Catalog, logger *zap.Logger) *Analyzer {
	if cat == nil {
		cat = catalog.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = constants.DefaultAnalysisWorkers
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = constants.MaxMonteCarloIterations
	}
	return &Analyzer{
		catalog:       cat,
		logger:        logger,
		workers:       cfg.Workers,
		maxIterations: cfg.MaxIterations,
	}
}

// MaxIterations returns the simulation iteration cap.
func (a *Analyzer) MaxIterations() int {
	return a.maxIterations
}

// Request is a one-at-a-time sensitivity analysis. Without Keys every
// high-sensitivity catalog parameter is analyzed.
type Request struct {
	Parameters  engine.CoreParameters `json:"parameters"`
	BaseRevenue float64               `json:"baseRevenue"`
	Prior       *engine.BalanceSheet  `json:"priorBalanceSheet,omitempty"`
	Keys        []string              `json:"keys,omitempty"`
	Variation   float64               `json:"variation,omitempty"`
}

// Case is one perturbed engine run. Changes are percentages relative to the
// base case.
type Case struct {
	Value                 float64 `json:"value"`
	EnterpriseValue       float64 `json:"enterpriseValue"`
	EnterpriseValueChange float64 `json:"enterpriseValueChange"`
	NetIncome             float64 `json:"netIncome"`
	NetIncomeChange       float64 `json:"netIncomeChange"`
}

// ParameterSensitivity reports the up and down cases of one parameter.
// Elasticity is the percent change in enterprise value per percent change
// in the parameter; Swing is the enterprise value spread between the cases.
type ParameterSensitivity struct {
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	BaseValue  float64 `json:"baseValue"`
	Up         Case    `json:"up"`
	Down       Case    `json:"down"`
	Elasticity float64 `json:"elasticity"`
	Swing      float64 `json:"swing"`
}

// Result is the outcome of Analyze, ranked by swing.
type Result struct {
	Variation           float64                `json:"variation"`
	BaseEnterpriseValue float64                `json:"baseEnterpriseValue"`
	BaseNetIncome       float64                `json:"baseNetIncome"`
	Parameters          []ParameterSensitivity `json:"parameters"`
}

// Analyze runs the engine at base×(1+variation) and base×(1−variation) for
// each key with every other parameter held fixed.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	variation := req.Variation
	if variation == 0 {
		variation = constants.DefaultVariation
	}
	if variation < 0 || variation >= 1 || !mathutil.IsFinite(variation) {
		return Result{}, fmt.Errorf("%w: variation must be in (0, 1), got %g", ErrInvalidRequest, variation)
	}

	keys := req.Keys
	if len(keys) == 0 {
		keys = a.highSensitivityKeys()
	}
	for _, key := range keys {
		if !engine.IsKnown(key) {
			return Result{}, fmt.Errorf("%w: %s", engine.ErrUnknownParameter, key)
		}
	}

	base := engine.Calculate(req.Parameters, req.BaseRevenue, req.Prior)
	result := Result{
		Variation:           variation,
		BaseEnterpriseValue: base.DCF.EnterpriseValue,
		BaseNetIncome:       base.ProfitLoss.NetIncome,
		Parameters:          make([]ParameterSensitivity, len(keys)),
	}

	err := a.run(ctx, len(keys), func(i int) error {
		key := keys[i]
		value, _ := req.Parameters.Get(key)

		ps := ParameterSensitivity{Key: key, Name: key, BaseValue: value}
		if def, ok := a.catalog.Definition(key); ok {
			ps.Name = def.Name
		}

		var err error
		if ps.Up, err = a.perturb(req, base, key, value*(1+variation)); err != nil {
			return err
		}
		if ps.Down, err = a.perturb(req, base, key, value*(1-variation)); err != nil {
			return err
		}
		ps.Swing = math.Abs(ps.Up.EnterpriseValue - ps.Down.EnterpriseValue)
		ps.Elasticity = (ps.Up.EnterpriseValueChange - ps.Down.EnterpriseValueChange) /
			(2 * variation * constants.PercentageMultiplier)

		result.Parameters[i] = ps
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	sort.SliceStable(result.Parameters, func(i, j int) bool {
		return result.Parameters[i].Swing > result.Parameters[j].Swing
	})

	a.logger.Debug("sensitivity analysis complete",
		zap.String("op", "sensitivity.Analyze"),
		zap.Int("parameters", len(keys)),
		zap.Float64("variation", variation),
	)
	return result, nil
}

func (a *Analyzer) perturb(req Request, base engine.Model, key string, value float64) (Case, error) {
	params, err := req.Parameters.With(map[string]float64{key: value})
	if err != nil {
		return Case{}, err
	}
	m := engine.Calculate(params, req.BaseRevenue, req.Prior)
	return Case{
		Value:                 value,
		EnterpriseValue:       m.DCF.EnterpriseValue,
		EnterpriseValueChange: mathutil.PercentChange(base.DCF.EnterpriseValue, m.DCF.EnterpriseValue),
		NetIncome:             m.ProfitLoss.NetIncome,
		NetIncomeChange:       mathutil.PercentChange(base.ProfitLoss.NetIncome, m.ProfitLoss.NetIncome),
	}, nil
}

func (a *Analyzer) highSensitivityKeys() []string {
	var keys []string
	for _, def := range a.catalog.Definitions() {
		if def.SensitivityLevel == catalog.SensitivityHigh {
			keys = append(keys, def.Key)
		}
	}
	return keys
}

// run calls fn for 0..n-1 on the worker pool and stops scheduling once ctx
// is done or fn fails.
func (a *Analyzer) run(ctx context.Context, n int, fn func(i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
