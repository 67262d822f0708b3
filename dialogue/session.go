package dialogue

import (
	"time"
)

// TurnTakingStrategy is the policy governing which agent may speak next.
type TurnTakingStrategy string

const (
	StrategyRoundRobin          TurnTakingStrategy = "round_robin"
	StrategyRolePriority        TurnTakingStrategy = "role_priority"
	StrategyConfidenceWeighted  TurnTakingStrategy = "confidence_weighted"
	StrategyAgentInitiated      TurnTakingStrategy = "agent_initiated"
	StrategyFacilitatorDirected TurnTakingStrategy = "facilitator_directed"
)

// Valid reports whether the strategy is one of the known policies.
func (s TurnTakingStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRolePriority, StrategyConfidenceWeighted,
		StrategyAgentInitiated, StrategyFacilitatorDirected:
		return true
	}
	return false
}

// Strict reports whether the strategy enforces that only the current
// speaker may take a turn.
func (s TurnTakingStrategy) Strict() bool {
	return s == StrategyRoundRobin || s == StrategyRolePriority
}

// AgentRole is the role a participant plays inside a session.
type AgentRole string

const (
	RoleFacilitator   AgentRole = "facilitator"
	RoleDecisionMaker AgentRole = "decision_maker"
	RoleExpert        AgentRole = "expert"
	RoleContributor   AgentRole = "contributor"
	RoleReviewer      AgentRole = "reviewer"
	RoleObserver      AgentRole = "observer"
)

// Rank returns the role's position in the role_priority ordering.
// Lower rank speaks earlier.
func (r AgentRole) Rank() int {
	switch r {
	case RoleDecisionMaker:
		return 1
	case RoleFacilitator:
		return 2
	case RoleExpert:
		return 3
	case RoleContributor:
		return 4
	case RoleReviewer:
		return 5
	case RoleObserver:
		return 6
	default:
		return 4
	}
}

// Permissions are derived deterministically from the participant's role.
type Permissions struct {
	CanSpeak     bool `json:"can_speak"`
	CanInterrupt bool `json:"can_interrupt"`
	CanPropose   bool `json:"can_propose"`
	CanVeto      bool `json:"can_veto"`
}

// PermissionsForRole maps a role to its permission set. Observers are
// silent; facilitators, decision makers, and experts may interrupt; only
// decision makers may veto.
func PermissionsForRole(role AgentRole) Permissions {
	if role == RoleObserver {
		return Permissions{}
	}
	p := Permissions{CanSpeak: true, CanPropose: true}
	switch role {
	case RoleFacilitator, RoleExpert:
		p.CanInterrupt = true
	case RoleDecisionMaker:
		p.CanInterrupt = true
		p.CanVeto = true
	}
	return p
}

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	StatusActive      SessionStatus = "active"
	StatusInterrupted SessionStatus = "interrupted"
	StatusCompleted   SessionStatus = "completed"
	StatusExpired     SessionStatus = "expired"
)

// Terminal reports whether the status is immutable once reached.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// AgentParticipant is a session member. Participants are owned exclusively
// by their session and never shared.
type AgentParticipant struct {
	AgentID     string      `json:"agent_id"`
	Role        AgentRole   `json:"role"`
	Permissions Permissions `json:"permissions"`
	Objective   string      `json:"objective,omitempty"`
	Priority    int         `json:"priority"`
	TurnsTaken  int         `json:"turns_taken"`
}

// ConversationSession is a bounded, stateful conversation among N agents.
//
// Invariants: TotalTurns is monotonically non-decreasing; CurrentSpeaker
// is a member of Participants or empty; status transitions are
// one-directional except interrupted -> active (resume).
type ConversationSession struct {
	ID             string             `json:"id"`
	Participants   []AgentParticipant `json:"participants"`
	Strategy       TurnTakingStrategy `json:"strategy"`
	Status         SessionStatus      `json:"status"`
	CurrentSpeaker string             `json:"current_speaker,omitempty"`
	TurnOrder      []string           `json:"turn_order"`
	Topic          string             `json:"topic"`
	Context        map[string]any     `json:"context,omitempty"`
	SharedState    map[string]any     `json:"shared_state,omitempty"`
	TotalTurns     int                `json:"total_turns"`
	MaxTurns       int                `json:"max_turns,omitempty"`
	TimeLimit      time.Duration      `json:"time_limit,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Outcome        string             `json:"outcome,omitempty"`
}

// Participant returns the participant with the given agent ID, or nil.
func (s *ConversationSession) Participant(agentID string) *AgentParticipant {
	for i := range s.Participants {
		if s.Participants[i].AgentID == agentID {
			return &s.Participants[i]
		}
	}
	return nil
}

// ExpiresAt returns the session deadline, if a time limit is set.
func (s *ConversationSession) ExpiresAt() (time.Time, bool) {
	if s.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(s.TimeLimit), true
}

// Expired reports whether the session has outlived its time limit.
// Expiry is checked, not scheduled: a session only transitions to the
// expired status when a turn is attempted or the sweeper visits it.
func (s *ConversationSession) Expired(now time.Time) bool {
	deadline, ok := s.ExpiresAt()
	return ok && now.After(deadline)
}

// TurnType categorizes a dialogue turn.
type TurnType string

const (
	TurnStatement TurnType = "statement"
	TurnQuestion  TurnType = "question"
	TurnProposal  TurnType = "proposal"
	TurnObjection TurnType = "objection"
	TurnAgreement TurnType = "agreement"
	TurnSummary   TurnType = "summary"
)

// DialogueTurn is one immutable unit of dialogue. For a given session,
// turn numbers form a contiguous strictly increasing sequence starting
// at 1; a turn is created exactly once and never mutated.
type DialogueTurn struct {
	ID               string   `json:"id"`
	SessionID        string   `json:"session_id"`
	AgentID          string   `json:"agent_id"`
	TurnNumber       int      `json:"turn_number"`
	TurnType         TurnType `json:"turn_type"`
	Input            string   `json:"input"`
	Output           string   `json:"output"`
	Confidence       float64  `json:"confidence,omitempty"`
	NextSpeaker      string   `json:"next_speaker,omitempty"`
	Actions          []string `json:"actions,omitempty"`
	ReferencedTurns  []int    `json:"referenced_turns,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// InterruptionReason categorizes why a session was interrupted.
type InterruptionReason string

const (
	ReasonAgentDisagreement InterruptionReason = "agent_disagreement"
	ReasonExternalInput     InterruptionReason = "external_input"
	ReasonTimeout           InterruptionReason = "timeout"
	ReasonError             InterruptionReason = "error"
	ReasonUserRequest       InterruptionReason = "user_request"
)

// InterruptionAction is the decision taken when resolving an interruption.
type InterruptionAction string

const (
	ActionResume    InterruptionAction = "resume"
	ActionRedirect  InterruptionAction = "redirect"
	ActionTerminate InterruptionAction = "terminate"
)

// InterruptionResolution records how an interruption was resolved.
type InterruptionResolution struct {
	Action     InterruptionAction `json:"action"`
	NewSpeaker string             `json:"new_speaker,omitempty"`
	Notes      string             `json:"notes,omitempty"`
}

// InterruptionEvent is a pause/abort signal raised against a session.
// Events are created unresolved and resolved exactly once.
type InterruptionEvent struct {
	ID         string                  `json:"id"`
	SessionID  string                  `json:"session_id"`
	AgentID    string                  `json:"agent_id,omitempty"`
	Reason     InterruptionReason      `json:"reason"`
	Details    string                  `json:"details,omitempty"`
	Resolved   bool                    `json:"resolved"`
	Resolution *InterruptionResolution `json:"resolution,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
}
