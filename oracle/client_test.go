package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/types"
)

type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	idx := f.calls
	f.calls++
	f.lastReq = req
	if idx < len(f.errs) && f.errs[idx] != nil {
		return openai.ChatCompletionResponse{}, f.errs[idx]
	}
	content := ""
	if idx < len(f.responses) {
		content = f.responses[idx]
	} else if len(f.responses) > 0 {
		content = f.responses[len(f.responses)-1]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func testClient(api chatCompleter) *Client {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	return newClient(api, cfg, nil)
}

func samplePrompt() *dialogue.TurnPrompt {
	return &dialogue.TurnPrompt{
		SessionID: "s1",
		AgentID:   "pr-strategist",
		Role:      dialogue.RoleExpert,
		Objective: "protect brand reputation",
		TurnType:  dialogue.TurnStatement,
		Input:     "should we respond today?",
		Topic:     "crisis response",
		History: []*dialogue.DialogueTurn{
			{TurnNumber: 1, AgentID: "brand-guardian", TurnType: dialogue.TurnQuestion, Output: "what is the risk?"},
		},
	}
}

func TestGenerateTurnParsesAnswer(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{
		`{"output": "we respond within the hour", "confidence": 0.9, "actions": ["draft_statement"]}`,
	}}
	client := testClient(api)

	turn, err := client.GenerateTurn(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "we respond within the hour", turn.Output)
	assert.InDelta(t, 0.9, turn.Confidence, 1e-9)
	assert.Equal(t, []string{"draft_statement"}, turn.Actions)

	require.Len(t, api.lastReq.Messages, 2)
	assert.Contains(t, api.lastReq.Messages[1].Content, "pr-strategist")
	assert.Contains(t, api.lastReq.Messages[1].Content, "should we respond today?")
	assert.Contains(t, api.lastReq.Messages[1].Content, "what is the risk?")
	require.NotNil(t, api.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, api.lastReq.ResponseFormat.Type)
}

func TestGenerateTurnToleratesCodeFences(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{
		"```json\n{\"output\": \"hold the statement\", \"confidence\": 1.4}\n```",
	}}
	client := testClient(api)

	turn, err := client.GenerateTurn(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "hold the statement", turn.Output)
	assert.InDelta(t, 1.0, turn.Confidence, 1e-9, "confidence is clamped to [0,1]")
}

func TestGenerateTurnRetriesOnce(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{
		errs:      []error{errors.New("upstream 503"), nil},
		responses: []string{"", `{"output": "ok", "confidence": 0.5}`},
	}
	client := testClient(api)

	turn, err := client.GenerateTurn(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Output)
	assert.Equal(t, 2, api.calls)
}

func TestGenerateTurnFailureAfterRetry(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{errs: []error{errors.New("boom"), errors.New("boom again")}}
	client := testClient(api)

	_, err := client.GenerateTurn(context.Background(), samplePrompt())
	assert.Equal(t, types.ErrOracleFailure, types.GetErrorCode(err))
	assert.Equal(t, 2, api.calls)
}

func TestGenerateTurnTimeout(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	client := testClient(api)

	_, err := client.GenerateTurn(context.Background(), samplePrompt())
	assert.Equal(t, types.ErrOracleTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerateTurnMalformedJSON(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{"I think we should apologize."}}
	client := testClient(api)

	_, err := client.GenerateTurn(context.Background(), samplePrompt())
	assert.Equal(t, types.ErrOracleFailure, types.GetErrorCode(err))
}

func TestAnalyzeConflicts(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{`{
		"conflicts": [{
			"type": "action_conflict",
			"severity": "high",
			"involved_agents": ["pr-strategist", "brand-guardian"],
			"assertions": [
				{"agent_id": "pr-strategist", "position": "respond now", "confidence": 0.9},
				{"agent_id": "brand-guardian", "position": "wait for legal", "confidence": 0.8}
			],
			"suggested_strategy": "gpt4_moderated",
			"confidence": 0.85,
			"reasoning": "mutually exclusive next steps"
		}]
	}`}}
	client := testClient(api)

	candidates, err := client.AnalyzeConflicts(context.Background(), &arbitration.AnalysisRequest{
		TaskID: "task-1",
		Outputs: []arbitration.AgentOutput{
			{AgentID: "pr-strategist", Output: "respond now", Confidence: 0.9},
			{AgentID: "brand-guardian", Output: "wait for legal", Confidence: 0.8},
		},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, arbitration.ConflictActionConflict, candidates[0].Type)
	assert.Equal(t, arbitration.SeverityHigh, candidates[0].Severity)
	assert.Equal(t, arbitration.StrategyOracleModerated, candidates[0].SuggestedStrategy)
	require.Len(t, candidates[0].Assertions, 2)

	assert.Contains(t, api.lastReq.Messages[1].Content, "pr-strategist")
	assert.Contains(t, api.lastReq.Messages[1].Content, "wait for legal")
}

func TestModerateClampsLevels(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{`{
		"resolution": "respond today with a legal-reviewed statement",
		"confidence": 1.7,
		"outcome_type": "compromise",
		"agreement_level": -0.2
	}`}}
	client := testClient(api)

	moderation, err := client.Moderate(context.Background(), &arbitration.ModerationRequest{
		Round:     1,
		MaxRounds: 3,
		Conflicts: []arbitration.DetectedConflict{{
			Type:     arbitration.ConflictActionConflict,
			Severity: arbitration.SeverityHigh,
			ConflictingAssertions: []arbitration.ConflictingAssertion{
				{AgentID: "a", Position: "respond now"},
				{AgentID: "b", Position: "wait"},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, arbitration.OutcomeCompromise, moderation.OutcomeType)
	assert.InDelta(t, 1.0, moderation.Confidence, 1e-9)
	assert.Zero(t, moderation.AgreementLevel)
	assert.Contains(t, api.lastReq.Messages[1].Content, "round 1 of 3")
}

type recordingMetrics struct {
	calls []string
}

func (m *recordingMetrics) RecordOracleCall(operation, status string, _ time.Duration) {
	m.calls = append(m.calls, operation+"/"+status)
}

func TestOracleCallsRecordMetrics(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{responses: []string{
		`{"output": "respond today", "confidence": 0.7}`,
		`{"conflicts": []}`,
	}}
	recorder := &recordingMetrics{}
	client := testClient(api).WithMetrics(recorder)

	_, err := client.GenerateTurn(context.Background(), samplePrompt())
	require.NoError(t, err)

	_, err = client.AnalyzeConflicts(context.Background(), &arbitration.AnalysisRequest{
		Outputs: []arbitration.AgentOutput{
			{AgentID: "a", Output: "respond"},
			{AgentID: "b", Output: "wait"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"generate_turn/ok", "analyze_conflicts/ok"}, recorder.calls)
}

func TestOracleTimeoutRecordsTimeoutStatus(t *testing.T) {
	t.Parallel()

	api := &fakeCompleter{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	recorder := &recordingMetrics{}
	client := testClient(api).WithMetrics(recorder)

	_, err := client.GenerateTurn(context.Background(), samplePrompt())
	assert.Equal(t, types.ErrOracleTimeout, types.GetErrorCode(err))
	assert.Equal(t, []string{"generate_turn/timeout"}, recorder.calls)
}
