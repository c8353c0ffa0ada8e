package sensitivity

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/iwvelando/finance-model/pkg/mathutil"
	"go.uber.org/zap"
)

// Outcome selects the metric a simulation aggregates.
type Outcome string

const (
	// OutcomeWeighted sums the perturbed values weighted by their catalog
	// sensitivity level. It does not run the engine.
	OutcomeWeighted Outcome = "weighted"

	// OutcomeEnterpriseValue runs the full engine per iteration.
	OutcomeEnterpriseValue Outcome = "enterprise_value"
)

// Distribution is the normal distribution a parameter is drawn from. A nil
// Mean centers it on the parameter's base value.
type Distribution struct {
	Key    string   `json:"key"`
	Mean   *float64 `json:"mean,omitempty"`
	StdDev float64  `json:"stdDev"`
}

// SimulationRequest is a Monte Carlo run. Iterations of 0 selects the
// default; the same Seed always produces the same result.
type SimulationRequest struct {
	Parameters    engine.CoreParameters `json:"parameters"`
	BaseRevenue   float64               `json:"baseRevenue"`
	Prior         *engine.BalanceSheet  `json:"priorBalanceSheet,omitempty"`
	Distributions []Distribution        `json:"distributions"`
	Iterations    int                   `json:"iterations,omitempty"`
	Seed          int64                 `json:"seed"`
	Outcome       Outcome               `json:"outcome,omitempty"`
}

// SimulationResult holds the aggregate statistics of a simulation.
type SimulationResult struct {
	Outcome     Outcome          `json:"outcome"`
	Iterations  int              `json:"iterations"`
	Seed        int64            `json:"seed"`
	BaseOutcome float64          `json:"baseOutcome"`
	Statistics  mathutil.Summary `json:"statistics"`
}

type draw struct {
	key    string
	mean   float64
	stdDev float64
	weight float64
	min    *float64
	max    *float64
}

// MonteCarlo draws every distributed parameter independently per iteration
// and aggregates the outcomes. The run stops with ctx's error once ctx is
// done and refuses iteration counts above the analyzer's cap.
func (a *Analyzer) MonteCarlo(ctx context.Context, req SimulationRequest) (SimulationResult, error) {
	iterations := req.Iterations
	if iterations == 0 {
		iterations = constants.DefaultMonteCarloIterations
	}
	if iterations < 0 {
		return SimulationResult{}, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidRequest, iterations)
	}
	if iterations > a.maxIterations {
		return SimulationResult{}, fmt.Errorf("%d requested, limit %d: %w", iterations, a.maxIterations, ErrTooManyIterations)
	}

	outcome := req.Outcome
	if outcome == "" {
		outcome = OutcomeWeighted
	}
	if outcome != OutcomeWeighted && outcome != OutcomeEnterpriseValue {
		return SimulationResult{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, outcome)
	}

	draws, err := a.draws(req)
	if err != nil {
		return SimulationResult{}, err
	}

	base := make(map[string]float64, len(draws))
	for _, d := range draws {
		base[d.key] = d.mean
	}
	baseOutcome, err := a.evaluate(req, outcome, draws, base)
	if err != nil {
		return SimulationResult{}, err
	}

	outcomes := make([]float64, iterations)
	err = a.run(ctx, iterations, func(i int) error {
		rng := rand.New(rand.NewPCG(uint64(req.Seed), uint64(i)))
		values := make(map[string]float64, len(draws))
		for _, d := range draws {
			values[d.key] = d.sample(rng)
		}
		v, err := a.evaluate(req, outcome, draws, values)
		if err != nil {
			return err
		}
		outcomes[i] = v
		return nil
	})
	if err != nil {
		return SimulationResult{}, err
	}

	result := SimulationResult{
		Outcome:     outcome,
		Iterations:  iterations,
		Seed:        req.Seed,
		BaseOutcome: baseOutcome,
		Statistics:  mathutil.Summarize(outcomes),
	}

	a.logger.Debug("monte carlo simulation complete",
		zap.String("op", "sensitivity.MonteCarlo"),
		zap.String("outcome", string(outcome)),
		zap.Int("iterations", iterations),
		zap.Float64("mean", result.Statistics.Mean),
	)
	return result, nil
}

func (a *Analyzer) draws(req SimulationRequest) ([]draw, error) {
	if len(req.Distributions) == 0 {
		return nil, fmt.Errorf("%w: at least one distribution is required", ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(req.Distributions))
	draws := make([]draw, 0, len(req.Distributions))
	for _, dist := range req.Distributions {
		base, ok := req.Parameters.Get(dist.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownParameter, dist.Key)
		}
		if seen[dist.Key] {
			return nil, fmt.Errorf("%w: %s is distributed twice", ErrInvalidRequest, dist.Key)
		}
		seen[dist.Key] = true
		if dist.StdDev < 0 || !mathutil.IsFinite(dist.StdDev) {
			return nil, fmt.Errorf("%w: %s standard deviation must be non-negative", ErrInvalidRequest, dist.Key)
		}

		d := draw{key: dist.Key, mean: base, stdDev: dist.StdDev, weight: 1}
		if dist.Mean != nil {
			d.mean = *dist.Mean
		}
		if def, ok := a.catalog.Definition(dist.Key); ok {
			d.weight = def.SensitivityLevel.Weight()
			d.min, d.max = def.Bounds()
		}
		draws = append(draws, d)
	}
	return draws, nil
}

func (d draw) sample(rng *rand.Rand) float64 {
	return d.mean + rng.NormFloat64()*d.stdDev
}

// clamp keeps engine inputs inside the catalog bounds.
func (d draw) clamp(v float64) float64 {
	if d.min != nil {
		v = math.Max(v, *d.min)
	}
	if d.max != nil {
		v = math.Min(v, *d.max)
	}
	return v
}

func (a *Analyzer) evaluate(req SimulationRequest, outcome Outcome, draws []draw, values map[string]float64) (float64, error) {
	if outcome == OutcomeWeighted {
		total := 0.0
		for _, d := range draws {
			total += values[d.key] * d.weight
		}
		return total, nil
	}

	overrides := make(map[string]float64, len(draws))
	for _, d := range draws {
		overrides[d.key] = d.clamp(values[d.key])
	}
	params, err := req.Parameters.With(overrides)
	if err != nil {
		return 0, err
	}
	return engine.Calculate(params, req.BaseRevenue, req.Prior).DCF.EnterpriseValue, nil
}
