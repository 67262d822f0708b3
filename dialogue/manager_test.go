package dialogue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/store"
	"github.com/parleykit/parley/types"
)

func newManager(t *testing.T) (*dialogue.SessionManager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return dialogue.NewSessionManager(s, nil), s
}

func initRequest(agentIDs ...string) *dialogue.InitRequest {
	return &dialogue.InitRequest{
		AgentIDs: agentIDs,
		Context:  map[string]any{"topic": "crisis response plan"},
	}
}

func TestInitializeDialogueDefaults(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	session, err := manager.InitializeDialogue(context.Background(), initRequest("alpha", "bravo"))
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, dialogue.StrategyRoundRobin, session.Strategy)
	assert.Equal(t, dialogue.StatusActive, session.Status)
	assert.Equal(t, "crisis response plan", session.Topic)
	assert.Equal(t, []string{"alpha", "bravo"}, session.TurnOrder)
	assert.Equal(t, "alpha", session.CurrentSpeaker)
	assert.Zero(t, session.TotalTurns)

	for _, p := range session.Participants {
		assert.Equal(t, dialogue.RoleContributor, p.Role)
		assert.Equal(t, dialogue.DefaultPriority, p.Priority)
		assert.True(t, p.Permissions.CanSpeak)
	}
}

func TestInitializeDialogueValidation(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *dialogue.InitRequest
	}{
		{"no agents", &dialogue.InitRequest{Context: map[string]any{"topic": "x"}}},
		{"no topic", &dialogue.InitRequest{AgentIDs: []string{"a"}, Context: map[string]any{}}},
		{"unknown strategy", &dialogue.InitRequest{
			AgentIDs: []string{"a"},
			Context:  map[string]any{"topic": "x"},
			Strategy: dialogue.TurnTakingStrategy("chaos"),
		}},
		{"negative max turns", func() *dialogue.InitRequest {
			req := initRequest("a")
			req.MaxTurns = -1
			return req
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.InitializeDialogue(ctx, tt.req)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}
}

func TestInitializeDialogueRolePriorityOrder(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	req := initRequest("reviewer", "chief", "specialist", "writer")
	req.Strategy = dialogue.StrategyRolePriority
	req.Roles = map[string]dialogue.AgentRole{
		"reviewer":   dialogue.RoleReviewer,
		"chief":      dialogue.RoleDecisionMaker,
		"specialist": dialogue.RoleExpert,
		"writer":     dialogue.RoleContributor,
	}

	session, err := manager.InitializeDialogue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"chief", "specialist", "writer", "reviewer"}, session.TurnOrder)
	assert.Equal(t, "chief", session.CurrentSpeaker)
}

func TestInitializeDialoguePriorityOrder(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	req := initRequest("alpha", "bravo", "charlie")
	req.Priorities = map[string]int{"bravo": 9, "charlie": 7}

	session, err := manager.InitializeDialogue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "charlie", "alpha"}, session.TurnOrder)
}

func TestInitializeDialogueObserverPermissions(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	req := initRequest("speaker", "watcher")
	req.Roles = map[string]dialogue.AgentRole{"watcher": dialogue.RoleObserver}

	session, err := manager.InitializeDialogue(context.Background(), req)
	require.NoError(t, err)

	watcher := session.Participant("watcher")
	require.NotNil(t, watcher)
	assert.False(t, watcher.Permissions.CanSpeak)
	assert.False(t, watcher.Permissions.CanInterrupt)
	assert.False(t, watcher.Permissions.CanPropose)
	assert.False(t, watcher.Permissions.CanVeto)

	chief := session.Participant("speaker")
	require.NotNil(t, chief)
	assert.True(t, chief.Permissions.CanSpeak)
}

func TestTranscriptAndAnalytics(t *testing.T) {
	t.Parallel()

	manager, memStore := newManager(t)
	ctx := context.Background()
	session, err := manager.InitializeDialogue(ctx, initRequest("alpha", "bravo"))
	require.NoError(t, err)

	require.NoError(t, memStore.AppendTurn(ctx, &dialogue.DialogueTurn{
		ID: "t1", SessionID: session.ID, AgentID: "alpha", TurnNumber: 1,
		TurnType: dialogue.TurnStatement, Confidence: 0.8, ProcessingTimeMs: 100,
	}))
	require.NoError(t, memStore.AppendTurn(ctx, &dialogue.DialogueTurn{
		ID: "t2", SessionID: session.ID, AgentID: "bravo", TurnNumber: 2,
		TurnType: dialogue.TurnQuestion, Confidence: 0.6, ProcessingTimeMs: 200,
	}))
	require.NoError(t, memStore.CreateInterruption(ctx, &dialogue.InterruptionEvent{
		ID: "i1", SessionID: session.ID, Reason: dialogue.ReasonUserRequest,
		CreatedAt: time.Now().UTC(),
	}))

	transcript, err := manager.Transcript(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, transcript.Turns, 2)
	assert.Len(t, transcript.Interruptions, 1)
	assert.Equal(t, 2, transcript.Summary.TotalTurns)
	assert.Equal(t, 1, transcript.Summary.Participation["alpha"])
	assert.Equal(t, 1, transcript.Summary.TurnTypes[dialogue.TurnQuestion])

	analytics, err := manager.Analytics(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, analytics.TotalTurns)
	assert.InDelta(t, 0.7, analytics.AvgConfidence, 1e-9)
	assert.InDelta(t, 150, analytics.AvgProcessingMs, 1e-9)
	assert.Equal(t, 1, analytics.Interruptions)
	assert.Equal(t, 1, analytics.UnresolvedEvents)
	assert.Equal(t, dialogue.RoleContributor, analytics.Agents["alpha"].Role)

	_, err = manager.Transcript(ctx, "ghost")
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}
