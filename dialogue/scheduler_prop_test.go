package dialogue_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/store"
)

// Turn numbers must form a contiguous 1..N sequence no matter how many
// agents participate or in what order they speak.
func TestTurnNumbersStayContiguous(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		agentCount := rapid.IntRange(2, 5).Draw(t, "agents")
		turnCount := rapid.IntRange(1, 20).Draw(t, "turns")

		agents := make([]string, agentCount)
		for i := range agents {
			agents[i] = fmt.Sprintf("agent-%d", i)
		}

		memStore := store.NewMemoryStore()
		manager := dialogue.NewSessionManager(memStore, nil)
		scheduler := dialogue.NewTurnScheduler(memStore, &stubGenerator{}, nil)
		ctx := context.Background()

		req := initRequest(agents...)
		req.Strategy = dialogue.StrategyAgentInitiated
		session, err := manager.InitializeDialogue(ctx, req)
		require.NoError(t, err)

		for i := 0; i < turnCount; i++ {
			speaker := agents[rapid.IntRange(0, agentCount-1).Draw(t, "speaker")]
			result, err := scheduler.TakeTurn(ctx, &dialogue.TurnRequest{
				SessionID: session.ID,
				AgentID:   speaker,
				Input:     "statement",
			})
			require.NoError(t, err)
			require.Equal(t, i+1, result.Turn.TurnNumber)
		}

		turns, err := memStore.ListTurns(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, turns, turnCount)
		for i, turn := range turns {
			require.Equal(t, i+1, turn.TurnNumber)
		}

		reloaded, err := memStore.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, turnCount, reloaded.TotalTurns)

		taken := 0
		for _, p := range reloaded.Participants {
			taken += p.TurnsTaken
		}
		require.Equal(t, turnCount, taken)
	})
}
