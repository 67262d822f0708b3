package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/types"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s, err := NewGormStore(db, nil)
	require.NoError(t, err)
	return s
}

func TestGormStoreSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestGormStore(t)
	ctx := context.Background()
	session := sampleSession("s1")
	session.TimeLimit = 30 * time.Minute

	require.NoError(t, s.CreateSession(ctx, session))

	loaded, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.Strategy, loaded.Strategy)
	assert.Equal(t, session.TurnOrder, loaded.TurnOrder)
	assert.Equal(t, session.TimeLimit, loaded.TimeLimit)
	assert.Equal(t, "press release tone", loaded.Topic)
	require.Len(t, loaded.Participants, 2)
	assert.True(t, loaded.Participants[1].Permissions.CanInterrupt)

	loaded.Status = dialogue.StatusCompleted
	loaded.Outcome = "consensus"
	now := time.Now().UTC()
	loaded.CompletedAt = &now
	require.NoError(t, s.UpdateSession(ctx, loaded))

	updated, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, dialogue.StatusCompleted, updated.Status)
	assert.Equal(t, "consensus", updated.Outcome)
	require.NotNil(t, updated.CompletedAt)

	active, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = s.GetSession(ctx, "missing")
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))

	err = s.UpdateSession(ctx, sampleSession("missing"))
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestGormStoreTurnsOrderedByNumber(t *testing.T) {
	t.Parallel()

	s := newTestGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, sampleSession("s1")))

	require.NoError(t, s.AppendTurn(ctx, &dialogue.DialogueTurn{
		ID: "t2", SessionID: "s1", AgentID: "bravo", TurnNumber: 2,
		TurnType: dialogue.TurnQuestion, Output: "why now?", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.AppendTurn(ctx, &dialogue.DialogueTurn{
		ID: "t1", SessionID: "s1", AgentID: "alpha", TurnNumber: 1,
		TurnType: dialogue.TurnStatement, Output: "we should respond today",
		Actions: []string{"draft_statement"}, ReferencedTurns: []int{},
		CreatedAt: time.Now().UTC(),
	}))

	turns, err := s.ListTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].ID)
	assert.Equal(t, []string{"draft_statement"}, turns[0].Actions)
	assert.Equal(t, "t2", turns[1].ID)
}

func TestGormStoreInterruptionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestGormStore(t)
	ctx := context.Background()

	event := &dialogue.InterruptionEvent{
		ID:        "i1",
		SessionID: "s1",
		AgentID:   "alpha",
		Reason:    dialogue.ReasonAgentDisagreement,
		Details:   "tone dispute",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateInterruption(ctx, event))

	loaded, err := s.GetInterruption(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, loaded.Resolved)
	assert.Nil(t, loaded.Resolution)

	now := time.Now().UTC()
	loaded.Resolved = true
	loaded.ResolvedAt = &now
	loaded.Resolution = &dialogue.InterruptionResolution{
		Action:     dialogue.ActionResume,
		NewSpeaker: "bravo",
	}
	require.NoError(t, s.UpdateInterruption(ctx, loaded))

	again, err := s.GetInterruption(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, again.Resolved)
	require.NotNil(t, again.Resolution)
	assert.Equal(t, dialogue.ActionResume, again.Resolution.Action)
	assert.Equal(t, "bravo", again.Resolution.NewSpeaker)

	_, err = s.GetInterruption(ctx, "ghost")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestGormStoreConflictUpsertByID(t *testing.T) {
	t.Parallel()

	s := newTestGormStore(t)
	ctx := context.Background()

	conflict := &arbitration.DetectedConflict{
		ConflictID:     "c1",
		Type:           arbitration.ConflictFactualContradiction,
		Severity:       arbitration.SeverityCritical,
		Status:         arbitration.ConflictDetected,
		InvolvedAgents: []string{"alpha", "bravo"},
		ConflictingAssertions: []arbitration.ConflictingAssertion{
			{AgentID: "alpha", Position: "numbers are wrong", Confidence: 0.9},
			{AgentID: "bravo", Position: "numbers are fine", Confidence: 0.7},
		},
		Confidence: 0.95,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertConflict(ctx, conflict))

	conflict.Status = arbitration.ConflictResolved
	require.NoError(t, s.UpsertConflict(ctx, conflict))

	conflicts, err := s.ListConflictsByAgent(ctx, "bravo")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, arbitration.ConflictResolved, conflicts[0].Status)
	require.Len(t, conflicts[0].ConflictingAssertions, 2)
}

func TestGormStoreOutcomeAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertConflict(ctx, &arbitration.DetectedConflict{
		ConflictID: "c1", Type: arbitration.ConflictActionConflict,
		Severity: arbitration.SeverityMedium, Status: arbitration.ConflictResolved,
		InvolvedAgents: []string{"alpha", "bravo"}, DetectedAt: now,
	}))
	require.NoError(t, s.AppendOutcome(ctx, &arbitration.ResolutionOutcome{
		ID: "o1", Success: true,
		Strategy:    arbitration.StrategyConfidenceWeighted,
		OutcomeType: arbitration.OutcomeMajorityDecision,
		ChosenAgent: "alpha",
		Metadata: arbitration.OutcomeMetadata{
			ResolvedAt:          now,
			ProcessingTimeMs:    15,
			RoundsRequired:      1,
			ParticipatingAgents: []string{"alpha", "bravo"},
		},
	}))

	metrics, err := s.ResolutionMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalConflicts)
	assert.Equal(t, 1, metrics.TotalOutcomes)
	assert.InDelta(t, 1.0, metrics.SuccessRate, 1e-9)

	outcomes, err := s.ListOutcomesByAgent(ctx, "bravo")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "o1", outcomes[0].ID)

	profile, err := s.AgentProfile(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.ConflictsInvolved)
	assert.Equal(t, 1, profile.OutcomesWon)
}
