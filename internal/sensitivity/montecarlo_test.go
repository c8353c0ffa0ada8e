package sensitivity

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/iwvelando/finance-model/internal/engine"
)

func ptr(v float64) *float64 { return &v }

func TestMonteCarloDeterministic(t *testing.T) {
	req := SimulationRequest{
		Parameters:  engine.DefaultParameters(),
		BaseRevenue: baseRevenue,
		Distributions: []Distribution{
			{Key: "inflation_rate", StdDev: 0.01},
			{Key: "beta", StdDev: 0.2},
		},
		Iterations: 500,
		Seed:       7,
	}

	serial, err := newAnalyzer(Config{Workers: 1}).MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}
	parallel, err := newAnalyzer(Config{Workers: 8}).MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}
	if !reflect.DeepEqual(serial, parallel) {
		t.Errorf("same seed produced different results:\n%+v\n%+v", serial, parallel)
	}

	req.Seed = 8
	other, err := newAnalyzer(Config{}).MonteCarlo(context.Background(), req)
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}
	if other.Statistics.Mean == serial.Statistics.Mean {
		t.Error("different seeds produced identical means")
	}
}

func TestMonteCarloWeighted(t *testing.T) {
	a := newAnalyzer(Config{})
	res, err := a.MonteCarlo(context.Background(), SimulationRequest{
		Parameters:  engine.DefaultParameters(),
		BaseRevenue: baseRevenue,
		Distributions: []Distribution{
			{Key: "inflation_rate", StdDev: 0.005},
			{Key: "beta", StdDev: 0.01},
			{Key: "vat_rate", Mean: ptr(0.1), StdDev: 0},
		},
		Iterations: 2000,
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}

	// inflation 0.03×1.0 + beta 1.2×1.0 + vat 0.1×0.25
	want := 0.03 + 1.2 + 0.025
	if math.Abs(res.BaseOutcome-want) > 1e-12 {
		t.Errorf("expected base outcome %v, got %v", want, res.BaseOutcome)
	}
	if math.Abs(res.Statistics.Mean-want) > 0.005 {
		t.Errorf("expected mean near %v, got %v", want, res.Statistics.Mean)
	}
	if res.Outcome != OutcomeWeighted || res.Iterations != 2000 || res.Statistics.Count != 2000 {
		t.Errorf("unexpected result header: %+v", res)
	}
	s := res.Statistics
	if !(s.Min <= s.P5 && s.P5 <= s.P25 && s.P25 <= s.P50 && s.P50 <= s.P75 && s.P75 <= s.P95 && s.P95 <= s.Max) {
		t.Errorf("percentiles out of order: %+v", s)
	}
}

func TestMonteCarloZeroDeviation(t *testing.T) {
	a := newAnalyzer(Config{})
	res, err := a.MonteCarlo(context.Background(), SimulationRequest{
		Parameters:    engine.DefaultParameters(),
		BaseRevenue:   baseRevenue,
		Distributions: []Distribution{{Key: "corporate_tax_rate"}},
		Iterations:    50,
		Outcome:       OutcomeEnterpriseValue,
	})
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}

	ev := engine.Calculate(engine.DefaultParameters(), baseRevenue, nil).DCF.EnterpriseValue
	if math.Abs(res.BaseOutcome-ev) > 1e-6 {
		t.Errorf("expected base outcome %v, got %v", ev, res.BaseOutcome)
	}
	if math.Abs(res.Statistics.Min-ev) > 1e-6 || math.Abs(res.Statistics.Max-ev) > 1e-6 {
		t.Errorf("expected every outcome at %v, got min %v max %v", ev, res.Statistics.Min, res.Statistics.Max)
	}
	if res.Statistics.StdDev > 1e-6 {
		t.Errorf("expected zero deviation, got %v", res.Statistics.StdDev)
	}
}

func TestMonteCarloEnterpriseValueSpread(t *testing.T) {
	a := newAnalyzer(Config{})
	res, err := a.MonteCarlo(context.Background(), SimulationRequest{
		Parameters:    engine.DefaultParameters(),
		BaseRevenue:   baseRevenue,
		Distributions: []Distribution{{Key: "product_revenue_growth", StdDev: 0.02}},
		Iterations:    300,
		Seed:          3,
		Outcome:       OutcomeEnterpriseValue,
	})
	if err != nil {
		t.Fatalf("MonteCarlo() error = %v", err)
	}
	if res.Statistics.StdDev <= 0 || res.Statistics.Min >= res.Statistics.Max {
		t.Errorf("expected a spread of enterprise values, got %+v", res.Statistics)
	}
}

func TestMonteCarloIterationCap(t *testing.T) {
	a := newAnalyzer(Config{MaxIterations: 100})
	req := SimulationRequest{
		Parameters:    engine.DefaultParameters(),
		BaseRevenue:   baseRevenue,
		Distributions: []Distribution{{Key: "beta", StdDev: 0.1}},
		Iterations:    101,
	}
	if _, err := a.MonteCarlo(context.Background(), req); !errors.Is(err, ErrTooManyIterations) {
		t.Errorf("expected ErrTooManyIterations, got %v", err)
	}

	req.Iterations = 100
	if _, err := a.MonteCarlo(context.Background(), req); err != nil {
		t.Errorf("expected run at the cap to succeed, got %v", err)
	}
}

func TestMonteCarloCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newAnalyzer(Config{})
	_, err := a.MonteCarlo(ctx, SimulationRequest{
		Parameters:    engine.DefaultParameters(),
		BaseRevenue:   baseRevenue,
		Distributions: []Distribution{{Key: "beta", StdDev: 0.1}},
		Iterations:    10_000,
		Outcome:       OutcomeEnterpriseValue,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMonteCarloRejects(t *testing.T) {
	tests := []struct {
		name string
		req  SimulationRequest
		want error
	}{
		{name: "no distributions", req: SimulationRequest{}, want: ErrInvalidRequest},
		{name: "unknown key", req: SimulationRequest{Distributions: []Distribution{{Key: "nope"}}}, want: engine.ErrUnknownParameter},
		{name: "negative deviation", req: SimulationRequest{Distributions: []Distribution{{Key: "beta", StdDev: -1}}}, want: ErrInvalidRequest},
		{name: "duplicate key", req: SimulationRequest{Distributions: []Distribution{{Key: "beta"}, {Key: "beta"}}}, want: ErrInvalidRequest},
		{name: "unknown outcome", req: SimulationRequest{Distributions: []Distribution{{Key: "beta"}}, Outcome: "irr"}, want: ErrInvalidRequest},
		{name: "negative iterations", req: SimulationRequest{Distributions: []Distribution{{Key: "beta"}}, Iterations: -5}, want: ErrInvalidRequest},
	}

	a := newAnalyzer(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Parameters = engine.DefaultParameters()
			tt.req.BaseRevenue = baseRevenue
			if _, err := a.MonteCarlo(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("MonteCarlo() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDrawClamp(t *testing.T) {
	d := draw{min: ptr(0), max: ptr(1)}
	tests := []struct {
		in   float64
		want float64
	}{
		{in: -0.5, want: 0},
		{in: 0.4, want: 0.4},
		{in: 1.5, want: 1},
	}
	for _, tt := range tests {
		if got := d.clamp(tt.in); got != tt.want {
			t.Errorf("clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
