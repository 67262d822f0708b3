package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

// TurnRequest asks the scheduler to execute one turn.
type TurnRequest struct {
	SessionID       string   `json:"session_id"`
	AgentID         string   `json:"agent_id"`
	Input           string   `json:"input"`
	TurnType        TurnType `json:"turn_type,omitempty"`
	ReferencedTurns []int    `json:"referenced_turns,omitempty"`
	Actions         []string `json:"actions,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	Turn           *DialogueTurn `json:"turn"`
	NextSpeaker    string        `json:"next_speaker,omitempty"`
	ShouldContinue bool          `json:"should_continue"`
	Reasoning      string        `json:"reasoning"`
}

// TurnScheduler enforces whose turn it is and executes turns. A keyed
// mutex serializes turns per session so the one-turn-in-flight invariant
// holds even under concurrent callers.
type TurnScheduler struct {
	store     Store
	generator TurnGenerator
	metrics   Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewTurnScheduler creates a turn scheduler.
func NewTurnScheduler(store Store, generator TurnGenerator, logger *zap.Logger) *TurnScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnScheduler{
		store:     store,
		generator: generator,
		metrics:   nopMetrics{},
		logger:    logger.With(zap.String("component", "turn_scheduler")),
		sessions:  make(map[string]*sync.Mutex),
	}
}

// WithMetrics attaches an instrumentation sink and returns the scheduler.
func (s *TurnScheduler) WithMetrics(metrics Metrics) *TurnScheduler {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

func (s *TurnScheduler) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessions[sessionID] = lock
	}
	return lock
}

// TakeTurn validates the caller against the session state, delegates
// content generation, appends the immutable turn record, and advances the
// current speaker.
func (s *TurnScheduler) TakeTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	start := time.Now()
	result, err := s.takeTurn(ctx, req)
	s.metrics.RecordTurn(turnResultLabel(err), time.Since(start))
	return result, err
}

func (s *TurnScheduler) takeTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if req.SessionID == "" || req.AgentID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session_id and agent_id are required")
	}

	lock := s.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != StatusActive {
		return nil, types.Errorf(types.ErrSessionNotActive,
			"session %s is %s and cannot accept turns", session.ID, session.Status)
	}

	now := time.Now().UTC()
	if session.Expired(now) {
		s.terminate(ctx, session, StatusExpired, "time_limit_exceeded", now)
		deadline, _ := session.ExpiresAt()
		return nil, types.Errorf(types.ErrSessionExpired,
			"session %s expired at %s", session.ID, deadline.Format(time.RFC3339))
	}

	if session.MaxTurns > 0 && session.TotalTurns >= session.MaxTurns {
		s.terminate(ctx, session, StatusCompleted, "max_turns_reached", now)
		return nil, types.Errorf(types.ErrMaxTurnsReached,
			"session %s reached its limit of %d turns", session.ID, session.MaxTurns)
	}

	participant := session.Participant(req.AgentID)
	if participant == nil {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"agent %s is not a participant in session %s", req.AgentID, session.ID)
	}
	if !participant.Permissions.CanSpeak {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"agent %s has role %s and may not speak", req.AgentID, participant.Role)
	}
	if session.Strategy.Strict() && req.AgentID != session.CurrentSpeaker {
		return nil, types.Errorf(types.ErrTurnOrderViolation,
			"it is %s's turn, not %s's", session.CurrentSpeaker, req.AgentID)
	}

	turnType := req.TurnType
	if turnType == "" {
		turnType = TurnStatement
	}

	history, err := s.store.ListTurns(ctx, session.ID)
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to load turn history").WithCause(err)
	}

	start := time.Now()
	generated, err := s.generator.GenerateTurn(ctx, &TurnPrompt{
		SessionID:   session.ID,
		AgentID:     req.AgentID,
		Role:        participant.Role,
		Objective:   participant.Objective,
		TurnType:    turnType,
		Input:       req.Input,
		Topic:       session.Topic,
		Context:     session.Context,
		SharedState: session.SharedState,
		History:     history,
	})
	if err != nil {
		return nil, mapGeneratorError(err)
	}

	confidence := generated.Confidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	actions := req.Actions
	if len(actions) == 0 {
		actions = generated.Actions
	}

	nextSpeaker := s.nextSpeaker(session, history)

	turn := &DialogueTurn{
		ID:               uuid.New().String(),
		SessionID:        session.ID,
		AgentID:          req.AgentID,
		TurnNumber:       session.TotalTurns + 1,
		TurnType:         turnType,
		Input:            req.Input,
		Output:           generated.Output,
		Confidence:       confidence,
		NextSpeaker:      nextSpeaker,
		Actions:          actions,
		ReferencedTurns:  req.ReferencedTurns,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CreatedAt:        now,
	}
	if err := s.store.AppendTurn(ctx, turn); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to append turn").WithCause(err)
	}

	session.CurrentSpeaker = nextSpeaker
	session.TotalTurns++
	participant.TurnsTaken++
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to update session").WithCause(err)
	}

	shouldContinue := session.MaxTurns == 0 || session.TotalTurns < session.MaxTurns
	result := &TurnResult{
		Turn:           turn,
		NextSpeaker:    nextSpeaker,
		ShouldContinue: shouldContinue,
		Reasoning:      continueReasoning(session, nextSpeaker, shouldContinue),
	}

	s.logger.Info("turn recorded",
		zap.String("session_id", session.ID),
		zap.String("agent_id", req.AgentID),
		zap.Int("turn_number", turn.TurnNumber),
		zap.String("next_speaker", nextSpeaker),
		zap.Bool("should_continue", shouldContinue),
	)
	return result, nil
}

// NextSpeaker previews who would speak next without mutating the session.
func (s *TurnScheduler) NextSpeaker(ctx context.Context, sessionID string) (string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	history, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return "", types.NewError(types.ErrPersistenceFailure, "failed to load turn history").WithCause(err)
	}
	return s.nextSpeaker(session, history), nil
}

// nextSpeaker applies the strategy-specific advance rule.
//
//   - round_robin / role_priority: circular advance through the fixed
//     turn order, skipping participants that may not speak. Empty when
//     every participant is muted.
//   - confidence_weighted: the eligible non-current speaker with the
//     highest average confidence over their recorded turns; falls back to
//     circular advance when nobody has history.
//   - agent_initiated / facilitator_directed: empty; an external
//     controller supplies the next speaker out of band.
func (s *TurnScheduler) nextSpeaker(session *ConversationSession, history []*DialogueTurn) string {
	switch session.Strategy {
	case StrategyRoundRobin, StrategyRolePriority:
		return circularNext(session)
	case StrategyConfidenceWeighted:
		return confidenceWeightedNext(session, history)
	case StrategyAgentInitiated, StrategyFacilitatorDirected:
		return ""
	default:
		return circularNext(session)
	}
}

func circularNext(session *ConversationSession) string {
	order := session.TurnOrder
	if len(order) == 0 {
		return ""
	}
	current := 0
	for i, agentID := range order {
		if agentID == session.CurrentSpeaker {
			current = i
			break
		}
	}
	for step := 1; step <= len(order); step++ {
		candidate := order[(current+step)%len(order)]
		if p := session.Participant(candidate); p != nil && p.Permissions.CanSpeak {
			return candidate
		}
	}
	return ""
}

func confidenceWeightedNext(session *ConversationSession, history []*DialogueTurn) string {
	type stats struct {
		sum   float64
		count int
	}
	perAgent := make(map[string]*stats)
	for _, t := range history {
		st := perAgent[t.AgentID]
		if st == nil {
			st = &stats{}
			perAgent[t.AgentID] = st
		}
		st.sum += t.Confidence
		st.count++
	}

	best := ""
	bestAvg := -1.0
	// Iterate the fixed turn order so ties resolve deterministically.
	for _, agentID := range session.TurnOrder {
		if agentID == session.CurrentSpeaker {
			continue
		}
		p := session.Participant(agentID)
		if p == nil || !p.Permissions.CanSpeak {
			continue
		}
		st, ok := perAgent[agentID]
		if !ok || st.count == 0 {
			continue
		}
		avg := st.sum / float64(st.count)
		if avg > bestAvg {
			bestAvg = avg
			best = agentID
		}
	}
	if best == "" {
		return circularNext(session)
	}
	return best
}

// terminate transitions a session into a terminal state. Persistence
// failures here are logged and swallowed: the caller already gets the
// termination error and the state will be reconciled on the next check.
func (s *TurnScheduler) terminate(ctx context.Context, session *ConversationSession, status SessionStatus, outcome string, now time.Time) {
	session.Status = status
	session.Outcome = outcome
	session.CompletedAt = &now
	if err := s.store.UpdateSession(ctx, session); err != nil {
		s.logger.Warn("failed to persist session termination",
			zap.String("session_id", session.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordSessionFinished(string(status), outcome)
}

func continueReasoning(session *ConversationSession, nextSpeaker string, shouldContinue bool) string {
	if !shouldContinue {
		return fmt.Sprintf("turn %d of %d recorded; max turns reached, dialogue should stop",
			session.TotalTurns, session.MaxTurns)
	}
	if nextSpeaker == "" {
		return fmt.Sprintf("turn %d recorded; next speaker to be supplied by the %s controller",
			session.TotalTurns, session.Strategy)
	}
	if session.MaxTurns > 0 {
		return fmt.Sprintf("turn %d of %d recorded; next speaker is %s",
			session.TotalTurns, session.MaxTurns, nextSpeaker)
	}
	return fmt.Sprintf("turn %d recorded; next speaker is %s", session.TotalTurns, nextSpeaker)
}

// turnResultLabel reduces a turn attempt to a metric label: "ok" for a
// recorded turn, otherwise the error code.
func turnResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}

func mapGeneratorError(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrOracleTimeout, "turn generation timed out").
			WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrOracleFailure, "turn generation failed").WithCause(err)
}
