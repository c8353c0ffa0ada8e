package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/internal/parameter"
	"github.com/iwvelando/finance-model/internal/sensitivity"
	"github.com/iwvelando/finance-model/pkg/constants"
)

// modelInput selects the parameter set of a stateless run. With ScenarioID
// set the scenario's resolved values and base file are the starting point;
// otherwise catalog defaults are. Parameters override either.
type modelInput struct {
	ScenarioID  string               `json:"scenarioId,omitempty"`
	BaseRevenue *float64             `json:"baseRevenue,omitempty"`
	Prior       *engine.BalanceSheet `json:"priorBalanceSheet,omitempty"`
	Parameters  map[string]float64   `json:"parameters,omitempty"`
}

type resolvedInput struct {
	params      engine.CoreParameters
	baseRevenue float64
	prior       *engine.BalanceSheet
}

func (h *handler) resolve(ctx context.Context, in modelInput) (resolvedInput, error) {
	out := resolvedInput{params: engine.DefaultParameters()}
	if in.ScenarioID != "" {
		params, file, err := h.svc.Scenarios.Resolve(ctx, in.ScenarioID)
		if err != nil {
			return resolvedInput{}, err
		}
		out.params = params
		out.baseRevenue = file.BaseRevenue
		out.prior = file.PriorBalanceSheet
	}
	if in.BaseRevenue != nil {
		out.baseRevenue = *in.BaseRevenue
	}
	if in.Prior != nil {
		out.prior = in.Prior
	}
	if out.baseRevenue < 0 {
		return resolvedInput{}, fmt.Errorf("%w: base revenue must not be negative", parameter.ErrInvalidRequest)
	}

	if err := h.checkOverrides(in.Parameters); err != nil {
		return resolvedInput{}, err
	}
	params, err := out.params.With(in.Parameters)
	if err != nil {
		return resolvedInput{}, err
	}
	out.params = params
	return out, nil
}

// checkOverrides validates known keys against the catalog. Unknown keys are
// left for CoreParameters.With to reject.
func (h *handler) checkOverrides(overrides map[string]float64) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if _, ok := h.svc.Catalog.Definition(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var problems []parameter.Problem
	for _, v := range h.svc.Catalog.ValidateAll(keys, overrides) {
		problems = append(problems, parameter.Problem{Key: v.Key, Value: v.Value, Errors: v.Errors})
	}
	if len(problems) > 0 {
		return &parameter.ValidationError{Problems: problems}
	}
	return nil
}

type calculateRequest struct {
	modelInput
	Periods int `json:"periods,omitempty"`
}

type calculateResponse struct {
	Models   []engine.Model `json:"models"`
	Warnings []string       `json:"warnings,omitempty"`
	Duration string         `json:"duration"`
}

func (h *handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleCalculate"
	start := time.Now()

	var req calculateRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	if req.Periods < 0 || req.Periods > constants.MaxCalculatePeriods {
		h.respondErrorWithOp(w, http.StatusBadRequest,
			fmt.Sprintf("periods must be between 1 and %d, got %d", constants.MaxCalculatePeriods, req.Periods), op)
		return
	}

	in, err := h.resolve(r.Context(), req.modelInput)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}

	resp := calculateResponse{Models: engine.RunPeriods(in.params, in.baseRevenue, in.prior, req.Periods)}
	for i, m := range resp.Models {
		if err := engine.CheckBalance(m.BalanceSheet); err != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("period %d: %v", i+1, err))
		}
	}
	resp.Duration = time.Since(start).String()
	h.writeJSON(w, http.StatusOK, resp)
}

type sensitivityRequest struct {
	modelInput
	Keys      []string `json:"keys,omitempty"`
	Variation float64  `json:"variation,omitempty"`
}

func (h *handler) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleSensitivity"
	var req sensitivityRequest
	if !h.decode(w, r, &req, op) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.analysisTimeout)
	defer cancel()

	in, err := h.resolve(ctx, req.modelInput)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	result, err := h.svc.Analyzer.Analyze(ctx, sensitivity.Request{
		Parameters:  in.params,
		BaseRevenue: in.baseRevenue,
		Prior:       in.prior,
		Keys:        req.Keys,
		Variation:   req.Variation,
	})
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type monteCarloRequest struct {
	modelInput
	Distributions []sensitivity.Distribution `json:"distributions"`
	Iterations    int                        `json:"iterations,omitempty"`
	Seed          int64                      `json:"seed"`
	Outcome       sensitivity.Outcome        `json:"outcome,omitempty"`
}

func (h *handler) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleMonteCarlo"
	var req monteCarloRequest
	if !h.decode(w, r, &req, op) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.analysisTimeout)
	defer cancel()

	in, err := h.resolve(ctx, req.modelInput)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	result, err := h.svc.Analyzer.MonteCarlo(ctx, sensitivity.SimulationRequest{
		Parameters:    in.params,
		BaseRevenue:   in.baseRevenue,
		Prior:         in.prior,
		Distributions: req.Distributions,
		Iterations:    req.Iterations,
		Seed:          req.Seed,
		Outcome:       req.Outcome,
	})
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
