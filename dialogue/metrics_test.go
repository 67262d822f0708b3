package dialogue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/store"
	"github.com/parleykit/parley/types"
)

type recordingMetrics struct {
	mu            sync.Mutex
	started       []string
	finished      []string
	turns         []string
	interruptions []string
}

func (m *recordingMetrics) RecordSessionStarted(strategy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, strategy)
}

func (m *recordingMetrics) RecordSessionFinished(status, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status+"/"+outcome)
}

func (m *recordingMetrics) RecordTurn(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, result)
}

func (m *recordingMetrics) RecordInterruption(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptions = append(m.interruptions, reason)
}

func (m *recordingMetrics) snapshotFinished() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.finished...)
}

func TestSessionStartRecordsMetric(t *testing.T) {
	t.Parallel()

	recorder := &recordingMetrics{}
	manager := dialogue.NewSessionManager(store.NewMemoryStore(), nil).WithMetrics(recorder)

	_, err := manager.InitializeDialogue(context.Background(), initRequest("alpha", "bravo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"round_robin"}, recorder.started)
}

func TestTurnMetricsLabelResults(t *testing.T) {
	t.Parallel()

	recorder := &recordingMetrics{}
	memStore := store.NewMemoryStore()
	manager := dialogue.NewSessionManager(memStore, nil)
	scheduler := dialogue.NewTurnScheduler(memStore, &stubGenerator{}, nil).WithMetrics(recorder)
	ctx := context.Background()

	session, err := manager.InitializeDialogue(ctx, initRequest("alpha", "bravo"))
	require.NoError(t, err)

	_, err = scheduler.TakeTurn(ctx, &dialogue.TurnRequest{
		SessionID: session.ID, AgentID: "alpha", Input: "opening",
	})
	require.NoError(t, err)

	_, err = scheduler.TakeTurn(ctx, &dialogue.TurnRequest{
		SessionID: session.ID, AgentID: "alpha", Input: "cutting in again",
	})
	require.Error(t, err)

	assert.Equal(t, []string{"ok", string(types.ErrTurnOrderViolation)}, recorder.turns)
}

func TestMaxTurnsTerminationRecordsSessionFinished(t *testing.T) {
	t.Parallel()

	recorder := &recordingMetrics{}
	memStore := store.NewMemoryStore()
	manager := dialogue.NewSessionManager(memStore, nil)
	scheduler := dialogue.NewTurnScheduler(memStore, &stubGenerator{}, nil).WithMetrics(recorder)
	ctx := context.Background()

	req := initRequest("alpha", "bravo")
	req.MaxTurns = 1
	session, err := manager.InitializeDialogue(ctx, req)
	require.NoError(t, err)

	_, err = scheduler.TakeTurn(ctx, &dialogue.TurnRequest{
		SessionID: session.ID, AgentID: "alpha", Input: "only turn",
	})
	require.NoError(t, err)

	_, err = scheduler.TakeTurn(ctx, &dialogue.TurnRequest{
		SessionID: session.ID, AgentID: "bravo", Input: "one too many",
	})
	require.Error(t, err)

	assert.Equal(t, []string{"completed/max_turns_reached"}, recorder.finished)
}

func TestInterruptionMetrics(t *testing.T) {
	t.Parallel()

	recorder := &recordingMetrics{}
	memStore := store.NewMemoryStore()
	manager := dialogue.NewSessionManager(memStore, nil)
	handler := dialogue.NewInterruptionHandler(memStore, nil).WithMetrics(recorder)
	ctx := context.Background()

	session, err := manager.InitializeDialogue(ctx, initRequest("alpha", "bravo"))
	require.NoError(t, err)

	event, err := handler.Interrupt(ctx, &dialogue.InterruptRequest{
		SessionID: session.ID,
		AgentID:   "bravo",
		Reason:    dialogue.ReasonAgentDisagreement,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{string(dialogue.ReasonAgentDisagreement)}, recorder.interruptions)

	_, err = handler.ResolveInterruption(ctx, event.ID, dialogue.ActionTerminate, "", "wrap it up")
	require.NoError(t, err)
	assert.Equal(t, []string{"completed/interrupted"}, recorder.finished)
}

func TestSweeperRecordsExpiredSessions(t *testing.T) {
	t.Parallel()

	recorder := &recordingMetrics{}
	memStore := store.NewMemoryStore()
	manager := dialogue.NewSessionManager(memStore, nil)
	ctx := context.Background()

	req := initRequest("alpha", "bravo")
	req.TimeLimit = time.Nanosecond
	_, err := manager.InitializeDialogue(ctx, req)
	require.NoError(t, err)

	sweeper := dialogue.NewExpirySweeper(memStore, 5*time.Millisecond, nil).WithMetrics(recorder)
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sweeper.Start(sweepCtx)

	require.Eventually(t, func() bool {
		finished := recorder.snapshotFinished()
		return len(finished) == 1 && finished[0] == "expired/time_limit_exceeded"
	}, time.Second, 5*time.Millisecond)
}
