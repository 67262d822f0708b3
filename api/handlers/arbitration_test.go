package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/store"
)

func detectionAnalyst() stubAnalyst {
	return stubAnalyst{candidates: []arbitration.CandidateConflict{{
		Type:           arbitration.ConflictActionConflict,
		Severity:       arbitration.SeverityHigh,
		InvolvedAgents: []string{"alpha", "bravo"},
		Assertions: []arbitration.ConflictingAssertion{
			{AgentID: "alpha", Position: "publish now", Confidence: 0.9},
			{AgentID: "bravo", Position: "wait for review", Confidence: 0.8},
		},
		Confidence: 0.85,
	}}}
}

func detectBody() map[string]any {
	return map[string]any{
		"task_id": "task-1",
		"outputs": []map[string]any{
			{"agent_id": "alpha", "output": "publish now", "confidence": 0.9},
			{"agent_id": "bravo", "output": "wait for review", "confidence": 0.8},
		},
	}
}

func TestDetectEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, detectionAnalyst())
	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/detect", detectBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	var report arbitration.ConflictReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.TotalConflicts)
	assert.Equal(t, arbitration.SeverityHigh, report.OverallSeverity)
	assert.Equal(t, 2, report.AnalyzedOutputs)
}

func TestDetectEndpointSingleOutput(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, detectionAnalyst())
	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/detect", map[string]any{
		"outputs": []map[string]any{
			{"agent_id": "alpha", "output": "solo", "confidence": 0.9},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report arbitration.ConflictReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Zero(t, report.TotalConflicts)
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	server, st := newTestServer(t, detectionAnalyst())

	// Detect first so the resolve request carries real conflicts.
	_, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/detect", detectBody())
	var report arbitration.ConflictReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report.Conflicts, 1)

	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/resolve", map[string]any{
		"conflicts": report.Conflicts,
		"strategy":  "majority_vote",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcome arbitration.ResolutionOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.True(t, outcome.Success)
	assert.Equal(t, arbitration.StrategyMajorityVote, outcome.Strategy)

	outcomes, err := st.ListOutcomesByAgent(t.Context(), "alpha")
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestResolveEndpointUnknownStrategy(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, detectionAnalyst())
	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/resolve", map[string]any{
		"conflicts": []map[string]any{{"conflict_id": "c1", "involved_agents": []string{"a", "b"}}},
		"strategy":  "coin_flip",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestArbitrationAnalyticsEndpoints(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, detectionAnalyst())

	_, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/detect", detectBody())
	var report arbitration.ConflictReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	_, _ = doJSON(t, http.MethodPost, server.URL+"/api/v1/arbitration/resolve", map[string]any{
		"conflicts": report.Conflicts,
		"strategy":  "majority_vote",
	})

	resp, env := doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/conflicts/alpha", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conflicts []arbitration.DetectedConflict
	require.NoError(t, json.Unmarshal(env.Data, &conflicts))
	assert.Len(t, conflicts, 1)

	resp, env = doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/outcomes/alpha", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcomes []arbitration.ResolutionOutcome
	require.NoError(t, json.Unmarshal(env.Data, &outcomes))
	assert.Len(t, outcomes, 1)

	resp, env = doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metrics store.ResolutionMetrics
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	assert.Equal(t, 1, metrics.TotalConflicts)
	assert.Equal(t, 1, metrics.TotalOutcomes)

	resp, env = doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/trends?days=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trends []store.TrendPoint
	require.NoError(t, json.Unmarshal(env.Data, &trends))
	assert.Len(t, trends, 1)

	resp, env = doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/strategy-performance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var perf []store.StrategyPerformance
	require.NoError(t, json.Unmarshal(env.Data, &perf))
	require.Len(t, perf, 1)
	assert.Equal(t, arbitration.StrategyMajorityVote, perf[0].Strategy)

	resp, env = doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/agent-profile/alpha", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile store.AgentProfile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, 1, profile.ConflictsInvolved)
}

func TestTrendsEndpointRejectsBadDays(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, nil)
	resp, env := doJSON(t, http.MethodGet, server.URL+"/api/v1/arbitration/trends?days=banana", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}
