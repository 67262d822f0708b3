package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/store"
	"github.com/parleykit/parley/types"
)

// ArbitrationHandler serves the /api/v1/arbitration endpoints.
type ArbitrationHandler struct {
	detector *arbitration.ConflictDetector
	resolver *arbitration.Resolver
	store    store.Store
	logger   *zap.Logger
}

// NewArbitrationHandler creates the arbitration handler.
func NewArbitrationHandler(
	detector *arbitration.ConflictDetector,
	resolver *arbitration.Resolver,
	st store.Store,
	logger *zap.Logger,
) *ArbitrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArbitrationHandler{
		detector: detector,
		resolver: resolver,
		store:    st,
		logger:   logger.With(zap.String("component", "arbitration_handler")),
	}
}

// HandleDetect analyzes agent outputs. POST /api/v1/arbitration/detect
func (h *ArbitrationHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req arbitration.DetectionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	report, err := h.detector.Detect(r.Context(), &req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleResolve arbitrates conflicts. POST /api/v1/arbitration/resolve
func (h *ArbitrationHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req arbitration.ResolveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	outcome, err := h.resolver.Resolve(r.Context(), &req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, outcome)
}

// HandleConflictsByAgent lists an agent's conflict history.
// GET /api/v1/arbitration/conflicts/{agentId}
func (h *ArbitrationHandler) HandleConflictsByAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if agentID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "agent id is required"), h.logger)
		return
	}
	conflicts, err := h.store.ListConflictsByAgent(r.Context(), agentID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, conflicts)
}

// HandleOutcomesByAgent lists resolutions an agent participated in.
// GET /api/v1/arbitration/outcomes/{agentId}
func (h *ArbitrationHandler) HandleOutcomesByAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if agentID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "agent id is required"), h.logger)
		return
	}
	outcomes, err := h.store.ListOutcomesByAgent(r.Context(), agentID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, outcomes)
}

// HandleMetrics returns aggregate resolution metrics.
// GET /api/v1/arbitration/metrics
func (h *ArbitrationHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.ResolutionMetrics(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, metrics)
}

// HandleTrends returns daily conflict counts.
// GET /api/v1/arbitration/trends?days=7
func (h *ArbitrationHandler) HandleTrends(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "days must be a positive integer"), h.logger)
			return
		}
		days = parsed
	}
	trends, err := h.store.ConflictTrends(r.Context(), days)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, trends)
}

// HandleStrategyPerformance compares strategies.
// GET /api/v1/arbitration/strategy-performance
func (h *ArbitrationHandler) HandleStrategyPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.store.StrategyPerformance(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, perf)
}

// HandleAgentProfile summarizes one agent's conflict record.
// GET /api/v1/arbitration/agent-profile/{agentId}
func (h *ArbitrationHandler) HandleAgentProfile(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	if agentID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "agent id is required"), h.logger)
		return
	}
	profile, err := h.store.AgentProfile(r.Context(), agentID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, profile)
}
