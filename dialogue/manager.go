package dialogue

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

// DefaultPriority is assigned to participants without an explicit priority.
const DefaultPriority = 5

// InitRequest describes a new dialogue session.
type InitRequest struct {
	AgentIDs   []string             `json:"agent_ids"`
	Context    map[string]any       `json:"context"`
	Strategy   TurnTakingStrategy   `json:"strategy,omitempty"`
	Roles      map[string]AgentRole `json:"roles,omitempty"`
	Objectives map[string]string    `json:"objectives,omitempty"`
	Priorities map[string]int       `json:"priorities,omitempty"`
	MaxTurns   int                  `json:"max_turns,omitempty"`
	TimeLimit  time.Duration        `json:"time_limit,omitempty"`
}

// Transcript bundles a session with its full turn and interruption history.
type Transcript struct {
	Session       *ConversationSession `json:"session"`
	Turns         []*DialogueTurn      `json:"turns"`
	Interruptions []*InterruptionEvent `json:"interruptions"`
	Summary       *TranscriptSummary   `json:"summary"`
}

// TranscriptSummary is a compact view of a transcript.
type TranscriptSummary struct {
	TotalTurns    int              `json:"total_turns"`
	Participation map[string]int   `json:"participation"`
	TurnTypes     map[TurnType]int `json:"turn_types"`
	Interruptions int              `json:"interruptions"`
	Duration      time.Duration    `json:"duration"`
}

// SessionAnalytics aggregates per-session conversation statistics.
type SessionAnalytics struct {
	SessionID        string                    `json:"session_id"`
	Status           SessionStatus             `json:"status"`
	Strategy         TurnTakingStrategy        `json:"strategy"`
	TotalTurns       int                       `json:"total_turns"`
	AvgConfidence    float64                   `json:"avg_confidence"`
	AvgProcessingMs  float64                   `json:"avg_processing_ms"`
	Agents           map[string]AgentAnalytics `json:"agents"`
	Interruptions    int                       `json:"interruptions"`
	UnresolvedEvents int                       `json:"unresolved_events"`
	Duration         time.Duration             `json:"duration"`
}

// AgentAnalytics summarizes one participant's contribution.
type AgentAnalytics struct {
	Turns         int       `json:"turns"`
	AvgConfidence float64   `json:"avg_confidence"`
	Role          AgentRole `json:"role"`
}

// SessionManager creates sessions and serves read-side views over them.
type SessionManager struct {
	store   Store
	metrics Metrics
	logger  *zap.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(store Store, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:   store,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "session_manager")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the manager.
func (m *SessionManager) WithMetrics(metrics Metrics) *SessionManager {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// InitializeDialogue validates the request, derives participants and the
// static turn order, and persists the new session.
func (m *SessionManager) InitializeDialogue(ctx context.Context, req *InitRequest) (*ConversationSession, error) {
	if len(req.AgentIDs) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "agent_ids must not be empty")
	}
	topic, _ := req.Context["topic"].(string)
	if topic == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "context.topic is required")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	if !strategy.Valid() {
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown turn-taking strategy %q", strategy)
	}
	if req.MaxTurns < 0 || req.TimeLimit < 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "max_turns and time_limit must be non-negative")
	}

	participants := buildParticipants(req)
	order := computeTurnOrder(strategy, participants)

	session := &ConversationSession{
		ID:           uuid.New().String(),
		Participants: participants,
		Strategy:     strategy,
		Status:       StatusActive,
		TurnOrder:    order,
		Topic:        topic,
		Context:      req.Context,
		SharedState:  map[string]any{},
		MaxTurns:     req.MaxTurns,
		TimeLimit:    req.TimeLimit,
		StartedAt:    time.Now().UTC(),
	}
	if len(order) > 0 {
		session.CurrentSpeaker = order[0]
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to persist session").WithCause(err)
	}
	m.metrics.RecordSessionStarted(string(strategy))

	m.logger.Info("dialogue session initialized",
		zap.String("session_id", session.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("participants", len(participants)),
		zap.String("first_speaker", session.CurrentSpeaker),
	)
	return session, nil
}

// GetSession loads a single session.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*ConversationSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// Transcript assembles the session, its turns, interruptions, and summary.
func (m *SessionManager) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	interruptions, err := m.store.ListInterruptions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	summary := &TranscriptSummary{
		TotalTurns:    len(turns),
		Participation: make(map[string]int),
		TurnTypes:     make(map[TurnType]int),
		Interruptions: len(interruptions),
		Duration:      sessionDuration(session),
	}
	for _, t := range turns {
		summary.Participation[t.AgentID]++
		summary.TurnTypes[t.TurnType]++
	}

	return &Transcript{
		Session:       session,
		Turns:         turns,
		Interruptions: interruptions,
		Summary:       summary,
	}, nil
}

// Analytics computes per-session statistics over the turn log.
func (m *SessionManager) Analytics(ctx context.Context, sessionID string) (*SessionAnalytics, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	interruptions, err := m.store.ListInterruptions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	analytics := &SessionAnalytics{
		SessionID:     session.ID,
		Status:        session.Status,
		Strategy:      session.Strategy,
		TotalTurns:    len(turns),
		Agents:        make(map[string]AgentAnalytics),
		Interruptions: len(interruptions),
		Duration:      sessionDuration(session),
	}
	for _, ev := range interruptions {
		if !ev.Resolved {
			analytics.UnresolvedEvents++
		}
	}

	type agg struct {
		turns      int
		confidence float64
	}
	perAgent := make(map[string]*agg)
	var sumConfidence, sumProcessing float64
	for _, t := range turns {
		sumConfidence += t.Confidence
		sumProcessing += float64(t.ProcessingTimeMs)
		a := perAgent[t.AgentID]
		if a == nil {
			a = &agg{}
			perAgent[t.AgentID] = a
		}
		a.turns++
		a.confidence += t.Confidence
	}
	if len(turns) > 0 {
		analytics.AvgConfidence = sumConfidence / float64(len(turns))
		analytics.AvgProcessingMs = sumProcessing / float64(len(turns))
	}
	for agentID, a := range perAgent {
		entry := AgentAnalytics{Turns: a.turns, AvgConfidence: a.confidence / float64(a.turns)}
		if p := session.Participant(agentID); p != nil {
			entry.Role = p.Role
		}
		analytics.Agents[agentID] = entry
	}
	return analytics, nil
}

func buildParticipants(req *InitRequest) []AgentParticipant {
	participants := make([]AgentParticipant, 0, len(req.AgentIDs))
	for _, agentID := range req.AgentIDs {
		role := req.Roles[agentID]
		if role == "" {
			role = RoleContributor
		}
		priority, ok := req.Priorities[agentID]
		if !ok {
			priority = DefaultPriority
		}
		participants = append(participants, AgentParticipant{
			AgentID:     agentID,
			Role:        role,
			Permissions: PermissionsForRole(role),
			Objective:   req.Objectives[agentID],
			Priority:    priority,
		})
	}
	return participants
}

// computeTurnOrder fixes the speaking order at creation time.
// role_priority sorts by role rank then descending priority; every other
// strategy sorts by descending priority (confidence is evaluated per turn,
// not at initialization). Sorts are stable so equal participants keep
// their request order.
func computeTurnOrder(strategy TurnTakingStrategy, participants []AgentParticipant) []string {
	sorted := make([]AgentParticipant, len(participants))
	copy(sorted, participants)

	switch strategy {
	case StrategyRolePriority:
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Role.Rank() != sorted[j].Role.Rank() {
				return sorted[i].Role.Rank() < sorted[j].Role.Rank()
			}
			return sorted[i].Priority > sorted[j].Priority
		})
	default:
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Priority > sorted[j].Priority
		})
	}

	order := make([]string, len(sorted))
	for i, p := range sorted {
		order[i] = p.AgentID
	}
	return order
}

func sessionDuration(session *ConversationSession) time.Duration {
	if session.CompletedAt != nil {
		return session.CompletedAt.Sub(session.StartedAt)
	}
	return time.Since(session.StartedAt)
}
