// Package api assembles the HTTP routing table for the coordination
// service.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleykit/parley/api/handlers"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Dialogue    *handlers.DialogueHandler
	Arbitration *handlers.ArbitrationHandler
	Health      *handlers.HealthHandler
}

// BuildInfo feeds the /version endpoint.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// NewRouter mounts every endpoint on a fresh ServeMux.
func NewRouter(h Handlers, build BuildInfo) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/dialogue/init", h.Dialogue.HandleInit)
	mux.HandleFunc("POST /api/v1/dialogue/turn", h.Dialogue.HandleTurn)
	mux.HandleFunc("GET /api/v1/dialogue/transcript/{id}", h.Dialogue.HandleTranscript)
	mux.HandleFunc("GET /api/v1/dialogue/next-speaker/{id}", h.Dialogue.HandleNextSpeaker)
	mux.HandleFunc("GET /api/v1/dialogue/analytics/{id}", h.Dialogue.HandleAnalytics)
	mux.HandleFunc("POST /api/v1/dialogue/interrupt", h.Dialogue.HandleInterrupt)
	mux.HandleFunc("POST /api/v1/dialogue/resolve-interruption", h.Dialogue.HandleResolveInterruption)

	mux.HandleFunc("POST /api/v1/arbitration/detect", h.Arbitration.HandleDetect)
	mux.HandleFunc("POST /api/v1/arbitration/resolve", h.Arbitration.HandleResolve)
	mux.HandleFunc("GET /api/v1/arbitration/conflicts/{agentId}", h.Arbitration.HandleConflictsByAgent)
	mux.HandleFunc("GET /api/v1/arbitration/outcomes/{agentId}", h.Arbitration.HandleOutcomesByAgent)
	mux.HandleFunc("GET /api/v1/arbitration/metrics", h.Arbitration.HandleMetrics)
	mux.HandleFunc("GET /api/v1/arbitration/trends", h.Arbitration.HandleTrends)
	mux.HandleFunc("GET /api/v1/arbitration/strategy-performance", h.Arbitration.HandleStrategyPerformance)
	mux.HandleFunc("GET /api/v1/arbitration/agent-profile/{agentId}", h.Arbitration.HandleAgentProfile)

	mux.HandleFunc("GET /health", h.Health.HandleHealth)
	mux.HandleFunc("GET /healthz", h.Health.HandleHealth)
	mux.HandleFunc("GET /ready", h.Health.HandleReady)
	mux.HandleFunc("GET /readyz", h.Health.HandleReady)
	mux.HandleFunc("GET /version", h.Health.HandleVersion(build.Version, build.BuildTime, build.GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
