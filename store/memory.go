package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/types"
)

// MemoryStore is an in-process Store for tests and single-node setups.
// All reads return deep copies so callers never alias stored state.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*dialogue.ConversationSession
	turns         map[string][]*dialogue.DialogueTurn
	interruptions map[string]*dialogue.InterruptionEvent
	conflicts     map[string]*arbitration.DetectedConflict
	outcomes      []*arbitration.ResolutionOutcome
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]*dialogue.ConversationSession),
		turns:         make(map[string][]*dialogue.DialogueTurn),
		interruptions: make(map[string]*dialogue.InterruptionEvent),
		conflicts:     make(map[string]*arbitration.DetectedConflict),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateSession(_ context.Context, session *dialogue.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return types.Errorf(types.ErrInvalidRequest, "session %s already exists", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*dialogue.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, types.Errorf(types.ErrSessionNotFound, "session %s not found", sessionID)
	}
	return cloneSession(session), nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *dialogue.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return types.Errorf(types.ErrSessionNotFound, "session %s not found", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) ListActiveSessions(_ context.Context) ([]*dialogue.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []*dialogue.ConversationSession
	for _, session := range s.sessions {
		if session.Status == dialogue.StatusActive || session.Status == dialogue.StatusInterrupted {
			active = append(active, cloneSession(session))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.Before(active[j].StartedAt) })
	return active, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn *dialogue.DialogueTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[turn.SessionID]; !ok {
		return types.Errorf(types.ErrSessionNotFound, "session %s not found", turn.SessionID)
	}
	copied := *turn
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], &copied)
	return nil
}

func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]*dialogue.DialogueTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.turns[sessionID]
	turns := make([]*dialogue.DialogueTurn, len(stored))
	for i, t := range stored {
		copied := *t
		turns[i] = &copied
	}
	return turns, nil
}

func (s *MemoryStore) CreateInterruption(_ context.Context, event *dialogue.InterruptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.interruptions[event.ID] = &copied
	return nil
}

func (s *MemoryStore) GetInterruption(_ context.Context, interruptionID string) (*dialogue.InterruptionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.interruptions[interruptionID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "interruption %s not found", interruptionID)
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStore) UpdateInterruption(_ context.Context, event *dialogue.InterruptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interruptions[event.ID]; !ok {
		return types.Errorf(types.ErrNotFound, "interruption %s not found", event.ID)
	}
	copied := *event
	s.interruptions[event.ID] = &copied
	return nil
}

func (s *MemoryStore) ListInterruptions(_ context.Context, sessionID string) ([]*dialogue.InterruptionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []*dialogue.InterruptionEvent
	for _, event := range s.interruptions {
		if event.SessionID != sessionID {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *MemoryStore) UpsertConflict(_ context.Context, conflict *arbitration.DetectedConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *conflict
	s.conflicts[conflict.ConflictID] = &copied
	return nil
}

func (s *MemoryStore) AppendOutcome(_ context.Context, outcome *arbitration.ResolutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *outcome
	s.outcomes = append(s.outcomes, &copied)
	return nil
}

func (s *MemoryStore) ListConflictsByAgent(_ context.Context, agentID string) ([]*arbitration.DetectedConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conflicts []*arbitration.DetectedConflict
	for _, conflict := range s.conflicts {
		if !involves(conflict, agentID) {
			continue
		}
		copied := *conflict
		conflicts = append(conflicts, &copied)
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].DetectedAt.Before(conflicts[j].DetectedAt)
	})
	return conflicts, nil
}

func (s *MemoryStore) ListOutcomesByAgent(_ context.Context, agentID string) ([]*arbitration.ResolutionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var outcomes []*arbitration.ResolutionOutcome
	for _, outcome := range s.outcomes {
		if !contains(outcome.Metadata.ParticipatingAgents, agentID) {
			continue
		}
		copied := *outcome
		outcomes = append(outcomes, &copied)
	}
	return outcomes, nil
}

func (s *MemoryStore) ResolutionMetrics(_ context.Context) (*ResolutionMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeResolutionMetrics(s.allConflicts(), s.outcomes), nil
}

func (s *MemoryStore) ConflictTrends(_ context.Context, days int) ([]TrendPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeConflictTrends(s.allConflicts(), days, time.Now()), nil
}

func (s *MemoryStore) StrategyPerformance(_ context.Context) ([]StrategyPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStrategyPerformance(s.outcomes), nil
}

func (s *MemoryStore) AgentProfile(_ context.Context, agentID string) (*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeAgentProfile(agentID, s.allConflicts(), s.outcomes), nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) allConflicts() []*arbitration.DetectedConflict {
	conflicts := make([]*arbitration.DetectedConflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		conflicts = append(conflicts, c)
	}
	return conflicts
}

func cloneSession(session *dialogue.ConversationSession) *dialogue.ConversationSession {
	copied := *session
	copied.Participants = append([]dialogue.AgentParticipant(nil), session.Participants...)
	copied.TurnOrder = append([]string(nil), session.TurnOrder...)
	copied.Context = cloneMap(session.Context)
	copied.SharedState = cloneMap(session.SharedState)
	if session.CompletedAt != nil {
		at := *session.CompletedAt
		copied.CompletedAt = &at
	}
	return &copied
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
