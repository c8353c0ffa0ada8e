// Package server exposes the parameter, scenario and analysis services as a
// JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/engine"
	"github.com/iwvelando/finance-model/internal/parameter"
	"github.com/iwvelando/finance-model/internal/scenario"
	"github.com/iwvelando/finance-model/internal/sensitivity"
	"github.com/iwvelando/finance-model/internal/store"
	"github.com/iwvelando/finance-model/pkg/constants"
	"go.uber.org/zap"
)

// Services are the components the API serves.
type Services struct {
	Catalog    *catalog.Catalog
	Scenarios  *scenario.Manager
	Parameters *parameter.Service
	Analyzer   *sensitivity.Analyzer
}

// Options tune request handling.
type Options struct {
	MaxBodySize     int64
	AnalysisTimeout time.Duration
	Version         string
}

type handler struct {
	logger          *zap.Logger
	svc             Services
	maxBodySize     int64
	analysisTimeout time.Duration
	version         string
}

// NewHandler constructs the HTTP handler that serves the model API.
func NewHandler(logger *zap.Logger, svc Services, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = constants.DefaultMaxBodySizeBytes
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout, _ = time.ParseDuration(constants.DefaultAnalysisTimeout)
	}
	trimmedVersion := strings.TrimSpace(opts.Version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:          logger,
		svc:             svc,
		maxBodySize:     opts.MaxBodySize,
		analysisTimeout: opts.AnalysisTimeout,
		version:         trimmedVersion,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", h.handleVersion)

	// Catalog
	mux.HandleFunc("GET /api/parameters/groups", h.handleGroups)
	mux.HandleFunc("GET /api/parameters/definitions/{key}", h.handleDefinition)
	mux.HandleFunc("POST /api/parameters/validate", h.handleValidate)

	// Ingestion
	mux.HandleFunc("POST /api/files", h.handleRegisterFile)

	// Scenarios
	mux.HandleFunc("GET /api/scenarios", h.handleListScenarios)
	mux.HandleFunc("POST /api/scenarios", h.handleCreateScenario)
	mux.HandleFunc("GET /api/scenarios/compare", h.handleCompare)
	mux.HandleFunc("GET /api/scenarios/{id}", h.handleGetScenario)
	mux.HandleFunc("DELETE /api/scenarios/{id}", h.handleDeleteScenario)
	mux.HandleFunc("POST /api/scenarios/{id}/clone", h.handleClone)
	mux.HandleFunc("POST /api/scenarios/{id}/recalculate", h.handleRecalculate)

	// Scenario parameter values
	mux.HandleFunc("POST /api/scenarios/{id}/parameters", h.handleBatchUpdate)
	mux.HandleFunc("PUT /api/scenarios/{id}/parameters/{parameterID}", h.handleUpdateValue)
	mux.HandleFunc("GET /api/scenarios/{id}/parameters/{parameterID}/history", h.handleHistory)
	mux.HandleFunc("POST /api/scenarios/{id}/parameters/{parameterID}/impact", h.handleImpact)

	// Stateless model runs and analysis
	mux.HandleFunc("POST /api/model/calculate", h.handleCalculate)
	mux.HandleFunc("POST /api/analysis/sensitivity", h.handleSensitivity)
	mux.HandleFunc("POST /api/analysis/monte-carlo", h.handleMonteCarlo)

	return mux
}

func (h *handler) handleVersion(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleGroups(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": h.svc.Catalog.OrderedGroups(),
	})
}

func (h *handler) handleDefinition(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	def, ok := h.svc.Catalog.Definition(key)
	if !ok {
		h.respondErrorWithOp(w, http.StatusNotFound, fmt.Sprintf("parameter %q not found", key), "server.handleDefinition")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"definition": def,
		"dependents": h.svc.Catalog.Dependents(key),
		"affected":   h.svc.Catalog.Affected(key),
	})
}

type validateRequest struct {
	Key         string  `json:"key,omitempty"`
	ParameterID string  `json:"parameterId,omitempty"`
	Value       float64 `json:"value"`
}

// handleValidate checks a value against a stored parameter when parameterId
// is given, otherwise against the catalog definition of key.
func (h *handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleValidate"
	var req validateRequest
	if !h.decode(w, r, &req, op) {
		return
	}

	if req.ParameterID != "" {
		v, err := h.svc.Parameters.ValidateValue(r.Context(), req.ParameterID, req.Value)
		if err != nil {
			h.respondServiceError(w, err, op)
			return
		}
		h.writeJSON(w, http.StatusOK, v)
		return
	}
	if req.Key == "" {
		h.respondErrorWithOp(w, http.StatusBadRequest, "key or parameterId is required", op)
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Catalog.Validate(req.Key, req.Value))
}

func (h *handler) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleRegisterFile"
	var req parameter.RegisterFileRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	result, err := h.svc.Parameters.RegisterFile(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *handler) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scenarios, err := h.svc.Scenarios.List(r.Context(), store.ScenarioFilter{
		BaseFileID:       q.Get("fileId"),
		OwnerID:          q.Get("ownerId"),
		ParentScenarioID: q.Get("parentId"),
	})
	if err != nil {
		h.respondServiceError(w, err, "server.handleListScenarios")
		return
	}
	if scenarios == nil {
		scenarios = []store.Scenario{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": scenarios})
}

func (h *handler) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleCreateScenario"
	var req scenario.CreateRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	result, err := h.svc.Scenarios.Create(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *handler) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := h.svc.Scenarios.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "server.handleGetScenario")
		return
	}
	h.writeJSON(w, http.StatusOK, sc)
}

func (h *handler) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleDeleteScenario"
	force, ok := h.boolQuery(w, r, "force", op)
	if !ok {
		return
	}
	if err := h.svc.Scenarios.Delete(r.Context(), r.PathValue("id"), force); err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleClone(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleClone"
	var req scenario.CloneRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	result, err := h.svc.Scenarios.Clone(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleRecalculate"
	force, ok := h.boolQuery(w, r, "force", op)
	if !ok {
		return
	}
	result, err := h.svc.Scenarios.Recalculate(r.Context(), r.PathValue("id"), force)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleCompare"
	base, target := r.URL.Query().Get("base"), r.URL.Query().Get("target")
	if base == "" || target == "" {
		h.respondErrorWithOp(w, http.StatusBadRequest, "base and target scenario ids are required", op)
		return
	}
	comparison, err := h.svc.Scenarios.Compare(r.Context(), base, target)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, comparison)
}

func (h *handler) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleUpdateValue"
	var req parameter.UpdateRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	req.ScenarioID = r.PathValue("id")
	req.ParameterID = r.PathValue("parameterID")

	result, err := h.svc.Parameters.UpdateValue(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleBatchUpdate"
	var req parameter.BatchRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	req.ScenarioID = r.PathValue("id")

	result, err := h.svc.Parameters.BatchUpdate(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.Parameters.History(r.Context(), r.PathValue("parameterID"), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "server.handleHistory")
		return
	}
	if history == nil {
		history = []store.ParameterHistory{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (h *handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleImpact"
	var req parameter.ImpactRequest
	if !h.decode(w, r, &req, op) {
		return
	}
	req.ScenarioID = r.PathValue("id")
	req.ParameterID = r.PathValue("parameterID")

	result, err := h.svc.Parameters.Impact(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// decode reads a JSON body bounded by the configured limit. An empty body
// leaves v at its zero value. It writes the error response itself and
// reports whether the handler should continue.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v interface{}, op string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds limit of %d bytes", h.maxBodySize), op)
			return false
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err), op)
		return false
	}
	return true
}

func (h *handler) boolQuery(w http.ResponseWriter, r *http.Request, name, op string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("invalid %s value %q", name, raw), op)
		return false, false
	}
	return v, true
}

type errorResponse struct {
	Error    string              `json:"error"`
	Problems []parameter.Problem `json:"problems,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var validationErr *parameter.ValidationError
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, parameter.ErrInvalidRequest),
		errors.Is(err, scenario.ErrInvalidRequest),
		errors.Is(err, sensitivity.ErrInvalidRequest),
		errors.Is(err, sensitivity.ErrTooManyIterations),
		errors.Is(err, engine.ErrUnknownParameter):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, scenario.ErrHasChildren):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) respondServiceError(w http.ResponseWriter, err error, op string) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var validationErr *parameter.ValidationError
	if errors.As(err, &validationErr) {
		resp.Problems = validationErr.Problems
	}

	h.logRequestError(status, resp.Error, op)
	h.writeJSON(w, status, resp)
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logRequestError(status, msg, op)
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *handler) logRequestError(status int, msg, op string) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
		return
	}
	h.logger.Warn("request rejected", fields...)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response",
			zap.String("op", "server.writeJSON"),
			zap.Error(err),
		)
	}
}
