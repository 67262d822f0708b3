package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parleykit/parley/dialogue"
)

// historyWindow caps how many prior turns ride along in the prompt.
const historyWindow = 12

const turnSystemPrompt = `You are one agent inside a multi-agent marketing and PR team dialogue.
Speak strictly as the agent described, in one conversational turn.
Answer with a JSON object:
{"output": "<your turn>", "confidence": <0..1>, "actions": ["<optional concrete action>"]}`

var _ dialogue.TurnGenerator = (*Client)(nil)

type turnAnswer struct {
	Output     string   `json:"output"`
	Confidence float64  `json:"confidence"`
	Actions    []string `json:"actions"`
}

// GenerateTurn produces one dialogue turn for the prompted agent.
func (c *Client) GenerateTurn(ctx context.Context, prompt *dialogue.TurnPrompt) (*dialogue.GeneratedTurn, error) {
	content, err := c.complete(ctx, "generate_turn", turnSystemPrompt, buildTurnPrompt(prompt))
	if err != nil {
		return nil, err
	}

	var answer turnAnswer
	if err := decodeJSON(content, &answer); err != nil {
		return nil, err
	}

	c.logger.Debug("turn generated",
		zap.String("session_id", prompt.SessionID),
		zap.String("agent_id", prompt.AgentID),
		zap.Float64("confidence", answer.Confidence),
	)
	return &dialogue.GeneratedTurn{
		Output:     answer.Output,
		Confidence: clamp01(answer.Confidence),
		Actions:    answer.Actions,
	}, nil
}

func buildTurnPrompt(prompt *dialogue.TurnPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", prompt.Topic)
	fmt.Fprintf(&b, "You are agent %q with role %q.\n", prompt.AgentID, prompt.Role)
	if prompt.Objective != "" {
		fmt.Fprintf(&b, "Your objective: %s\n", prompt.Objective)
	}
	fmt.Fprintf(&b, "Turn type requested: %s\n", prompt.TurnType)

	if len(prompt.Context) > 0 {
		if data, err := json.Marshal(prompt.Context); err == nil {
			fmt.Fprintf(&b, "Session context: %s\n", data)
		}
	}
	if len(prompt.SharedState) > 0 {
		if data, err := json.Marshal(prompt.SharedState); err == nil {
			fmt.Fprintf(&b, "Shared state: %s\n", data)
		}
	}

	history := prompt.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Recent turns:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%d. %s (%s): %s\n", turn.TurnNumber, turn.AgentID, turn.TurnType, turn.Output)
		}
	}

	fmt.Fprintf(&b, "Input for this turn: %s\n", prompt.Input)
	return b.String()
}
