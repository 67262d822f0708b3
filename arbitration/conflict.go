package arbitration

import (
	"context"
	"time"
)

// ConflictType classifies how agent outputs disagree.
type ConflictType string

const (
	ConflictReasoningMismatch    ConflictType = "reasoning_mismatch"
	ConflictToneDisagreement     ConflictType = "tone_disagreement"
	ConflictActionConflict       ConflictType = "action_conflict"
	ConflictEntityEvaluation     ConflictType = "entity_evaluation"
	ConflictPriorityConflict     ConflictType = "priority_conflict"
	ConflictDataInterpretation   ConflictType = "data_interpretation"
	ConflictStrategyDisagreement ConflictType = "strategy_disagreement"
	ConflictFactualContradiction ConflictType = "factual_contradiction"
	ConflictEthicalDisagreement  ConflictType = "ethical_disagreement"
)

// ConflictSeverity is the ordinal severity classification.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// Rank returns the ordinal position (low < medium < high < critical).
func (s ConflictSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above the given threshold.
func (s ConflictSeverity) AtLeast(threshold ConflictSeverity) bool {
	return s.Rank() >= threshold.Rank()
}

// ConflictStatus is the lifecycle state of a detected conflict.
type ConflictStatus string

const (
	ConflictDetected   ConflictStatus = "detected"
	ConflictResolved   ConflictStatus = "resolved"
	ConflictEscalated  ConflictStatus = "escalated"
	ConflictUnresolved ConflictStatus = "unresolved"
)

// ArbitrationStrategy selects the resolution algorithm.
type ArbitrationStrategy string

const (
	StrategyMajorityVote       ArbitrationStrategy = "majority_vote"
	StrategyConfidenceWeighted ArbitrationStrategy = "confidence_weighted"
	StrategyDeferToExpert      ArbitrationStrategy = "defer_to_expert"
	StrategyOracleModerated    ArbitrationStrategy = "gpt4_moderated"
	StrategyEscalate           ArbitrationStrategy = "escalate_to_facilitator"
	StrategyConsensusBuilding  ArbitrationStrategy = "consensus_building"
)

// Valid reports whether the strategy is known.
func (s ArbitrationStrategy) Valid() bool {
	switch s {
	case StrategyMajorityVote, StrategyConfidenceWeighted, StrategyDeferToExpert,
		StrategyOracleModerated, StrategyEscalate, StrategyConsensusBuilding:
		return true
	}
	return false
}

// OutcomeType categorizes a resolution.
type OutcomeType string

const (
	OutcomeConsensusReached OutcomeType = "consensus_reached"
	OutcomeMajorityDecision OutcomeType = "majority_decision"
	OutcomeExpertOverride   OutcomeType = "expert_override"
	OutcomeCompromise       OutcomeType = "compromise"
	OutcomeEscalated        OutcomeType = "escalated"
	OutcomeUnresolved       OutcomeType = "unresolved"
)

// RecommendedAction is the detector's advice for a conflict report.
type RecommendedAction string

const (
	ActionEscalate           RecommendedAction = "escalate"
	ActionResolveImmediately RecommendedAction = "resolve_immediately"
	ActionReviewLater        RecommendedAction = "review_later"
	ActionIgnore             RecommendedAction = "ignore"
)

// AgentOutput is one agent's answer for a task, the unit conflicts are
// detected between.
type AgentOutput struct {
	AgentID        string  `json:"agent_id"`
	Output         string  `json:"output"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning,omitempty"`
	ProposedAction string  `json:"proposed_action,omitempty"`
}

// ConflictingAssertion is one agent's position inside a conflict.
type ConflictingAssertion struct {
	AgentID            string  `json:"agent_id"`
	Position           string  `json:"position"`
	SupportingEvidence string  `json:"supporting_evidence,omitempty"`
	Confidence         float64 `json:"confidence"`
	Location           string  `json:"location,omitempty"`
}

// DetectedConflict is a disagreement between two or more agent outputs.
// Invariant: at least two involved agents, confidence in [0,1].
type DetectedConflict struct {
	ConflictID            string                 `json:"conflict_id"`
	Type                  ConflictType           `json:"type"`
	Severity              ConflictSeverity       `json:"severity"`
	Status                ConflictStatus         `json:"status"`
	InvolvedAgents        []string               `json:"involved_agents"`
	ConflictingAssertions []ConflictingAssertion `json:"conflicting_assertions"`
	SuggestedStrategy     ArbitrationStrategy    `json:"suggested_strategy,omitempty"`
	Confidence            float64                `json:"confidence"`
	Reasoning             string                 `json:"reasoning,omitempty"`
	DetectionMethod       string                 `json:"detection_method"`
	DetectedAt            time.Time              `json:"detected_at"`
}

// ConflictReport is the detector's answer for one batch of outputs.
// DetectionFailed distinguishes "analysis failed" from "no conflicts
// found": both yield zero conflicts, but callers should not treat a
// failed analysis as an all-clear.
type ConflictReport struct {
	TotalConflicts    int                `json:"total_conflicts"`
	Conflicts         []DetectedConflict `json:"conflicts"`
	OverallSeverity   ConflictSeverity   `json:"overall_severity"`
	RecommendedAction RecommendedAction  `json:"recommended_action"`
	AnalyzedOutputs   int                `json:"analyzed_outputs"`
	DetectionFailed   bool               `json:"detection_failed,omitempty"`
	DetectionError    string             `json:"detection_error,omitempty"`
	ProcessingTimeMs  int64              `json:"processing_time_ms"`
}

// Vote records one agent's vote during arbitration.
type Vote struct {
	AgentID string  `json:"agent_id"`
	Vote    string  `json:"vote"`
	Weight  float64 `json:"weight"`
}

// ConsensusInfo describes the agreement level reached during
// consensus building.
type ConsensusInfo struct {
	Level         float64  `json:"level"`
	Agreements    []string `json:"agreements,omitempty"`
	Disagreements []string `json:"disagreements,omitempty"`
}

// ArbitratorFeedback is the moderating oracle's commentary.
type ArbitratorFeedback struct {
	ArbitratorID string  `json:"arbitrator_id"`
	Feedback     string  `json:"feedback"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// OutcomeMetadata stamps every resolution.
type OutcomeMetadata struct {
	ResolvedAt          time.Time `json:"resolved_at"`
	ProcessingTimeMs    int64     `json:"processing_time_ms"`
	RoundsRequired      int       `json:"rounds_required"`
	ParticipatingAgents []string  `json:"participating_agents"`
}

// ResolutionOutcome is the immutable result of one arbitration call.
type ResolutionOutcome struct {
	ID                 string              `json:"id"`
	ConflictIDs        []string            `json:"conflict_ids,omitempty"`
	Success            bool                `json:"success"`
	OutcomeType        OutcomeType         `json:"outcome_type"`
	Strategy           ArbitrationStrategy `json:"strategy"`
	Resolution         string              `json:"resolution"`
	ChosenAgent        string              `json:"chosen_agent,omitempty"`
	ChosenPosition     string              `json:"chosen_position,omitempty"`
	Votes              []Vote              `json:"votes,omitempty"`
	Consensus          *ConsensusInfo      `json:"consensus,omitempty"`
	ArbitratorFeedback *ArbitratorFeedback `json:"arbitrator_feedback,omitempty"`
	Metadata           OutcomeMetadata     `json:"metadata"`
}

// AnalysisRequest carries agent outputs to the reasoning capability for
// conflict identification.
type AnalysisRequest struct {
	TaskID         string
	ConversationID string
	Outputs        []AgentOutput
	InputContext   map[string]any
}

// CandidateConflict is a raw conflict candidate returned by the
// reasoning capability before the detector normalizes it.
type CandidateConflict struct {
	Type              ConflictType           `json:"type"`
	Severity          ConflictSeverity       `json:"severity"`
	InvolvedAgents    []string               `json:"involved_agents"`
	Assertions        []ConflictingAssertion `json:"assertions"`
	SuggestedStrategy ArbitrationStrategy    `json:"suggested_strategy,omitempty"`
	Confidence        float64                `json:"confidence"`
	Reasoning         string                 `json:"reasoning,omitempty"`
}

// ModerationRequest asks the reasoning capability to synthesize or choose
// a resolution for the given conflicts.
type ModerationRequest struct {
	Conflicts []DetectedConflict
	Outputs   []AgentOutput
	Round     int
	MaxRounds int
}

// Moderation is the reasoning capability's arbitration verdict.
type Moderation struct {
	Resolution     string      `json:"resolution"`
	Reasoning      string      `json:"reasoning,omitempty"`
	Confidence     float64     `json:"confidence"`
	OutcomeType    OutcomeType `json:"outcome_type,omitempty"`
	ChosenAgent    string      `json:"chosen_agent,omitempty"`
	ChosenPosition string      `json:"chosen_position,omitempty"`
	AgreementLevel float64     `json:"agreement_level,omitempty"`
	Agreements     []string    `json:"agreements,omitempty"`
	Disagreements  []string    `json:"disagreements,omitempty"`
}

// Analyst is the reasoning capability the arbitration engine depends on.
// The oracle package provides the LLM-backed implementation.
type Analyst interface {
	AnalyzeConflicts(ctx context.Context, req *AnalysisRequest) ([]CandidateConflict, error)
	Moderate(ctx context.Context, req *ModerationRequest) (*Moderation, error)
}

// Ledger is the persistence surface for arbitration results. Conflicts
// are upserted by conflict ID (re-resolution updates status instead of
// duplicating); outcomes are append-only.
type Ledger interface {
	UpsertConflict(ctx context.Context, conflict *DetectedConflict) error
	AppendOutcome(ctx context.Context, outcome *ResolutionOutcome) error
}
