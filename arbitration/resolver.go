package arbitration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

const (
	defaultConsensusRounds    = 3
	defaultConsensusThreshold = 0.7
	oracleArbitratorID        = "reasoning-oracle"
)

// ResolveOptions tune one arbitration pass.
type ResolveOptions struct {
	// ExpertAgentID names the agent whose position wins under
	// defer_to_expert.
	ExpertAgentID string `json:"expert_agent_id,omitempty"`
	// FacilitatorID names who receives an escalation.
	FacilitatorID string `json:"facilitator_id,omitempty"`
	// MaxRounds caps consensus building iterations (default 3).
	MaxRounds int `json:"max_rounds,omitempty"`
	// ConsensusThreshold is the agreement level that ends consensus
	// building early (default 0.7).
	ConsensusThreshold float64 `json:"consensus_threshold,omitempty"`
}

// ResolveRequest carries the conflicts to arbitrate.
type ResolveRequest struct {
	Conflicts []DetectedConflict  `json:"conflicts"`
	Strategy  ArbitrationStrategy `json:"strategy"`
	// Outputs are the original agent outputs, used by the moderated
	// strategies for context.
	Outputs []AgentOutput `json:"outputs,omitempty"`
	// ExpertiseScores weight agents under confidence_weighted. Agents
	// without a score fall back to their assertion's own confidence.
	ExpertiseScores map[string]float64 `json:"expertise_scores,omitempty"`
	Options         ResolveOptions     `json:"options,omitempty"`
}

// Resolver arbitrates detected conflicts.
type Resolver struct {
	analyst Analyst
	ledger  Ledger
	metrics Metrics
	logger  *zap.Logger
}

// NewResolver creates a resolver. The analyst is only required for the
// moderated strategies; the ledger may be nil.
func NewResolver(analyst Analyst, ledger Ledger, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		analyst: analyst,
		ledger:  ledger,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "arbitration_resolver")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the resolver.
func (r *Resolver) WithMetrics(metrics Metrics) *Resolver {
	if metrics != nil {
		r.metrics = metrics
	}
	return r
}

// Resolve arbitrates the given conflicts with the requested strategy and
// returns an immutable outcome. Ledger failures are logged, never
// returned: an arbitration that reached a decision has succeeded.
func (r *Resolver) Resolve(ctx context.Context, req *ResolveRequest) (*ResolutionOutcome, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "resolve request is required")
	}
	if !req.Strategy.Valid() {
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown arbitration strategy %q", req.Strategy)
	}
	start := time.Now()
	var outcome *ResolutionOutcome
	if len(req.Conflicts) == 0 {
		// Nothing to arbitrate is not an error: the caller gets an
		// unresolved outcome it can log like any other.
		outcome = unresolvedOutcome("no conflicts to arbitrate")
	} else {
		switch req.Strategy {
		case StrategyMajorityVote:
			outcome = r.majorityVote(req)
		case StrategyConfidenceWeighted:
			outcome = r.confidenceWeighted(req)
		case StrategyDeferToExpert:
			outcome = r.deferToExpert(req)
		case StrategyOracleModerated:
			outcome = r.oracleModerated(ctx, req)
		case StrategyEscalate:
			outcome = r.escalate(req)
		case StrategyConsensusBuilding:
			outcome = r.consensusBuilding(ctx, req)
		}
	}

	outcome.ID = uuid.New().String()
	outcome.Strategy = req.Strategy
	outcome.ConflictIDs = conflictIDs(req.Conflicts)
	outcome.Metadata.ResolvedAt = time.Now().UTC()
	outcome.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
	outcome.Metadata.ParticipatingAgents = participatingAgents(req.Conflicts)
	if outcome.Metadata.RoundsRequired == 0 {
		outcome.Metadata.RoundsRequired = 1
	}

	r.record(ctx, req.Conflicts, outcome)
	r.metrics.RecordResolution(string(req.Strategy), string(outcome.OutcomeType))

	r.logger.Info("arbitration completed",
		zap.String("outcome_id", outcome.ID),
		zap.String("strategy", string(req.Strategy)),
		zap.String("outcome_type", string(outcome.OutcomeType)),
		zap.Bool("success", outcome.Success),
		zap.Int("conflicts", len(req.Conflicts)),
	)
	return outcome, nil
}

// majorityVote tallies one vote per assertion. The most asserted position
// wins; ties break to the lexicographically smallest position so repeated
// runs agree.
func (r *Resolver) majorityVote(req *ResolveRequest) *ResolutionOutcome {
	votes := collectVotes(req.Conflicts, func(a ConflictingAssertion) float64 { return 1 })
	winner, tally := tallyVotes(votes)
	if winner == "" {
		return unresolvedOutcome("no positions to vote on")
	}
	return &ResolutionOutcome{
		Success:     true,
		OutcomeType: OutcomeMajorityDecision,
		Resolution: fmt.Sprintf("position %q won the majority vote with %.0f of %d votes",
			winner, tally[winner], len(votes)),
		ChosenAgent:    firstAsserter(req.Conflicts, winner),
		ChosenPosition: winner,
		Votes:          votes,
	}
}

// confidenceWeighted is a majority vote where each assertion counts as
// expertise x confidence. An agent without an expertise score uses the
// assertion's own confidence as its expertise.
func (r *Resolver) confidenceWeighted(req *ResolveRequest) *ResolutionOutcome {
	votes := collectVotes(req.Conflicts, func(a ConflictingAssertion) float64 {
		expertise := clamp01(a.Confidence)
		if score, ok := req.ExpertiseScores[a.AgentID]; ok {
			expertise = score
		}
		return expertise * clamp01(a.Confidence)
	})
	winner, tally := tallyVotes(votes)
	if winner == "" {
		return unresolvedOutcome("no positions to weigh")
	}
	return &ResolutionOutcome{
		Success:     true,
		OutcomeType: OutcomeMajorityDecision,
		Resolution: fmt.Sprintf("position %q won the confidence-weighted vote with weight %.2f",
			winner, tally[winner]),
		ChosenAgent:    firstAsserter(req.Conflicts, winner),
		ChosenPosition: winner,
		Votes:          votes,
	}
}

// deferToExpert adopts the designated expert's position unconditionally.
// A missing expert id or an expert with no assertion degrades to an
// unresolved outcome, not an error: the arbitration ran, it just could
// not decide.
func (r *Resolver) deferToExpert(req *ResolveRequest) *ResolutionOutcome {
	expert := req.Options.ExpertAgentID
	if expert == "" {
		return unresolvedOutcome("defer_to_expert requires options.expert_agent_id")
	}
	position := ""
	for _, c := range req.Conflicts {
		for _, a := range c.ConflictingAssertions {
			if a.AgentID == expert {
				position = a.Position
				break
			}
		}
		if position != "" {
			break
		}
	}
	if position == "" {
		return unresolvedOutcome(fmt.Sprintf("expert %s holds no position in these conflicts", expert))
	}
	return &ResolutionOutcome{
		Success:        true,
		OutcomeType:    OutcomeExpertOverride,
		Resolution:     fmt.Sprintf("deferred to expert %s: %s", expert, position),
		ChosenAgent:    expert,
		ChosenPosition: position,
	}
}

// oracleModerated asks the reasoning capability to pick or synthesize a
// resolution. An oracle failure degrades to an unresolved outcome rather
// than an error: the conflicts remain on record for a retry.
func (r *Resolver) oracleModerated(ctx context.Context, req *ResolveRequest) *ResolutionOutcome {
	moderation, err := r.analyst.Moderate(ctx, &ModerationRequest{
		Conflicts: req.Conflicts,
		Outputs:   req.Outputs,
		Round:     1,
		MaxRounds: 1,
	})
	if err != nil {
		r.logger.Warn("oracle moderation failed", zap.Error(err))
		return unresolvedOutcome("oracle moderation failed: " + err.Error())
	}

	outcomeType := moderation.OutcomeType
	if outcomeType == "" {
		outcomeType = OutcomeCompromise
	}
	return &ResolutionOutcome{
		Success:        true,
		OutcomeType:    outcomeType,
		Resolution:     moderation.Resolution,
		ChosenAgent:    moderation.ChosenAgent,
		ChosenPosition: moderation.ChosenPosition,
		ArbitratorFeedback: &ArbitratorFeedback{
			ArbitratorID: oracleArbitratorID,
			Feedback:     moderation.Resolution,
			Confidence:   clamp01(moderation.Confidence),
			Reasoning:    moderation.Reasoning,
		},
	}
}

// escalate hands the conflicts to a human or facilitator agent without
// deciding anything.
func (r *Resolver) escalate(req *ResolveRequest) *ResolutionOutcome {
	target := req.Options.FacilitatorID
	resolution := "escalated for facilitator review"
	if target != "" {
		resolution = fmt.Sprintf("escalated to facilitator %s for review", target)
	}
	return &ResolutionOutcome{
		Success:     true,
		OutcomeType: OutcomeEscalated,
		Resolution:  resolution,
		ChosenAgent: target,
	}
}

// consensusBuilding runs up to MaxRounds moderation rounds, stopping as
// soon as the reported agreement level clears the threshold. If the
// rounds run out, the last moderation stands as a compromise.
func (r *Resolver) consensusBuilding(ctx context.Context, req *ResolveRequest) *ResolutionOutcome {
	maxRounds := req.Options.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultConsensusRounds
	}
	threshold := req.Options.ConsensusThreshold
	if threshold <= 0 {
		threshold = defaultConsensusThreshold
	}

	var last *Moderation
	rounds := 0
	for round := 1; round <= maxRounds; round++ {
		moderation, err := r.analyst.Moderate(ctx, &ModerationRequest{
			Conflicts: req.Conflicts,
			Outputs:   req.Outputs,
			Round:     round,
			MaxRounds: maxRounds,
		})
		if err != nil {
			r.logger.Warn("consensus round failed",
				zap.Int("round", round),
				zap.Error(err),
			)
			break
		}
		last = moderation
		rounds = round
		if moderation.AgreementLevel >= threshold {
			outcome := &ResolutionOutcome{
				Success:        true,
				OutcomeType:    OutcomeConsensusReached,
				Resolution:     moderation.Resolution,
				ChosenAgent:    moderation.ChosenAgent,
				ChosenPosition: moderation.ChosenPosition,
				Consensus: &ConsensusInfo{
					Level:         moderation.AgreementLevel,
					Agreements:    moderation.Agreements,
					Disagreements: moderation.Disagreements,
				},
			}
			outcome.Metadata.RoundsRequired = rounds
			return outcome
		}
	}

	if last == nil {
		outcome := unresolvedOutcome("consensus building produced no moderation rounds")
		outcome.Metadata.RoundsRequired = maxInt(rounds, 1)
		return outcome
	}
	outcome := &ResolutionOutcome{
		Success:        true,
		OutcomeType:    OutcomeCompromise,
		Resolution:     last.Resolution,
		ChosenAgent:    last.ChosenAgent,
		ChosenPosition: last.ChosenPosition,
		Consensus: &ConsensusInfo{
			Level:         last.AgreementLevel,
			Agreements:    last.Agreements,
			Disagreements: last.Disagreements,
		},
	}
	outcome.Metadata.RoundsRequired = rounds
	return outcome
}

// record marks the conflicts with their final status and appends the
// outcome. Persistence failures are logged and swallowed.
func (r *Resolver) record(ctx context.Context, conflicts []DetectedConflict, outcome *ResolutionOutcome) {
	if r.ledger == nil {
		return
	}
	status := ConflictResolved
	switch outcome.OutcomeType {
	case OutcomeEscalated:
		status = ConflictEscalated
	case OutcomeUnresolved:
		status = ConflictUnresolved
	}
	for i := range conflicts {
		conflicts[i].Status = status
		if err := r.ledger.UpsertConflict(ctx, &conflicts[i]); err != nil {
			r.logger.Warn("failed to persist conflict status",
				zap.String("conflict_id", conflicts[i].ConflictID),
				zap.Error(err),
			)
		}
	}
	if err := r.ledger.AppendOutcome(ctx, outcome); err != nil {
		r.logger.Warn("failed to persist resolution outcome",
			zap.String("outcome_id", outcome.ID),
			zap.Error(err),
		)
	}
}

// collectVotes flattens every assertion into a weighted vote.
func collectVotes(conflicts []DetectedConflict, weight func(ConflictingAssertion) float64) []Vote {
	var votes []Vote
	for _, c := range conflicts {
		for _, a := range c.ConflictingAssertions {
			votes = append(votes, Vote{
				AgentID: a.AgentID,
				Vote:    a.Position,
				Weight:  weight(a),
			})
		}
	}
	return votes
}

// tallyVotes sums weights per position and returns the winner. Ties break
// to the lexicographically smallest position.
func tallyVotes(votes []Vote) (string, map[string]float64) {
	tally := make(map[string]float64, len(votes))
	for _, v := range votes {
		tally[v.Vote] += v.Weight
	}
	positions := make([]string, 0, len(tally))
	for p := range tally {
		positions = append(positions, p)
	}
	sort.Strings(positions)

	winner := ""
	best := 0.0
	for _, p := range positions {
		if tally[p] > best {
			best = tally[p]
			winner = p
		}
	}
	return winner, tally
}

// firstAsserter returns the first agent holding the position, in conflict
// and assertion order.
func firstAsserter(conflicts []DetectedConflict, position string) string {
	for _, c := range conflicts {
		for _, a := range c.ConflictingAssertions {
			if a.Position == position {
				return a.AgentID
			}
		}
	}
	return ""
}

func participatingAgents(conflicts []DetectedConflict) []string {
	seen := make(map[string]struct{})
	var agents []string
	for _, c := range conflicts {
		for _, id := range c.InvolvedAgents {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			agents = append(agents, id)
		}
	}
	sort.Strings(agents)
	return agents
}

func conflictIDs(conflicts []DetectedConflict) []string {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ConflictID)
	}
	return ids
}

func unresolvedOutcome(reason string) *ResolutionOutcome {
	return &ResolutionOutcome{
		Success:     false,
		OutcomeType: OutcomeUnresolved,
		Resolution:  reason,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
