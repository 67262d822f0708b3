package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parleykit/parley/arbitration"
)

const analysisSystemPrompt = `You compare the outputs of multiple AI agents working on the same marketing/PR task and identify genuine conflicts between them.
Conflict types: reasoning_mismatch, tone_disagreement, action_conflict, entity_evaluation, priority_conflict, data_interpretation, strategy_disagreement, factual_contradiction, ethical_disagreement.
Severities: low, medium, high, critical.
Suggested strategies: majority_vote, confidence_weighted, defer_to_expert, gpt4_moderated, escalate_to_facilitator, consensus_building.
Answer with a JSON object:
{"conflicts": [{"type": "...", "severity": "...", "involved_agents": ["..."], "assertions": [{"agent_id": "...", "position": "...", "confidence": <0..1>}], "suggested_strategy": "...", "confidence": <0..1>, "reasoning": "..."}]}
Report an empty list when the outputs are compatible.`

const moderationSystemPrompt = `You arbitrate conflicts between AI agents on a marketing/PR team. Weigh each position on its merits and either pick a side or synthesize a compromise.
Answer with a JSON object:
{"resolution": "...", "reasoning": "...", "confidence": <0..1>, "outcome_type": "consensus_reached|majority_decision|expert_override|compromise", "chosen_agent": "...", "chosen_position": "...", "agreement_level": <0..1>, "agreements": ["..."], "disagreements": ["..."]}`

var _ arbitration.Analyst = (*Client)(nil)

type analysisAnswer struct {
	Conflicts []arbitration.CandidateConflict `json:"conflicts"`
}

// AnalyzeConflicts asks the oracle to compare agent outputs and report
// candidate conflicts.
func (c *Client) AnalyzeConflicts(ctx context.Context, req *arbitration.AnalysisRequest) ([]arbitration.CandidateConflict, error) {
	content, err := c.complete(ctx, "analyze_conflicts", analysisSystemPrompt, buildAnalysisPrompt(req))
	if err != nil {
		return nil, err
	}

	var answer analysisAnswer
	if err := decodeJSON(content, &answer); err != nil {
		return nil, err
	}

	c.logger.Debug("conflict analysis completed",
		zap.String("task_id", req.TaskID),
		zap.Int("candidates", len(answer.Conflicts)),
	)
	return answer.Conflicts, nil
}

// Moderate asks the oracle to arbitrate the given conflicts.
func (c *Client) Moderate(ctx context.Context, req *arbitration.ModerationRequest) (*arbitration.Moderation, error) {
	content, err := c.complete(ctx, "moderate", moderationSystemPrompt, buildModerationPrompt(req))
	if err != nil {
		return nil, err
	}

	var moderation arbitration.Moderation
	if err := decodeJSON(content, &moderation); err != nil {
		return nil, err
	}
	moderation.Confidence = clamp01(moderation.Confidence)
	moderation.AgreementLevel = clamp01(moderation.AgreementLevel)

	c.logger.Debug("moderation completed",
		zap.Int("round", req.Round),
		zap.Float64("agreement_level", moderation.AgreementLevel),
	)
	return &moderation, nil
}

func buildAnalysisPrompt(req *arbitration.AnalysisRequest) string {
	var b strings.Builder
	if req.TaskID != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.TaskID)
	}
	if len(req.InputContext) > 0 {
		if data, err := json.Marshal(req.InputContext); err == nil {
			fmt.Fprintf(&b, "Task context: %s\n", data)
		}
	}
	b.WriteString("Agent outputs:\n")
	for _, out := range req.Outputs {
		fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", out.AgentID, out.Confidence, out.Output)
		if out.Reasoning != "" {
			fmt.Fprintf(&b, "  reasoning: %s\n", out.Reasoning)
		}
		if out.ProposedAction != "" {
			fmt.Fprintf(&b, "  proposed action: %s\n", out.ProposedAction)
		}
	}
	return b.String()
}

func buildModerationPrompt(req *arbitration.ModerationRequest) string {
	var b strings.Builder
	if req.MaxRounds > 1 {
		fmt.Fprintf(&b, "Moderation round %d of %d.\n", req.Round, req.MaxRounds)
	}
	b.WriteString("Conflicts to arbitrate:\n")
	for _, conflict := range req.Conflicts {
		fmt.Fprintf(&b, "- [%s/%s] %s\n", conflict.Type, conflict.Severity, conflict.Reasoning)
		for _, a := range conflict.ConflictingAssertions {
			fmt.Fprintf(&b, "  %s (confidence %.2f): %s\n", a.AgentID, a.Confidence, a.Position)
		}
	}
	if len(req.Outputs) > 0 {
		b.WriteString("Full agent outputs:\n")
		for _, out := range req.Outputs {
			fmt.Fprintf(&b, "- %s: %s\n", out.AgentID, out.Output)
		}
	}
	return b.String()
}
