package dialogue

import "context"

// Store is the persistence surface the dialogue engine needs. Concrete
// implementations live in the store package; lookups for unknown IDs
// return a *types.Error carrying ErrSessionNotFound / ErrNotFound so the
// scheduler can surface precise failures.
type Store interface {
	CreateSession(ctx context.Context, session *ConversationSession) error
	GetSession(ctx context.Context, sessionID string) (*ConversationSession, error)
	UpdateSession(ctx context.Context, session *ConversationSession) error
	ListActiveSessions(ctx context.Context) ([]*ConversationSession, error)

	AppendTurn(ctx context.Context, turn *DialogueTurn) error
	ListTurns(ctx context.Context, sessionID string) ([]*DialogueTurn, error)

	CreateInterruption(ctx context.Context, event *InterruptionEvent) error
	GetInterruption(ctx context.Context, interruptionID string) (*InterruptionEvent, error)
	UpdateInterruption(ctx context.Context, event *InterruptionEvent) error
	ListInterruptions(ctx context.Context, sessionID string) ([]*InterruptionEvent, error)
}

// TurnPrompt is the structured context handed to the reasoning capability
// when generating a turn.
type TurnPrompt struct {
	SessionID   string
	AgentID     string
	Role        AgentRole
	Objective   string
	TurnType    TurnType
	Input       string
	Topic       string
	Context     map[string]any
	SharedState map[string]any
	History     []*DialogueTurn
}

// GeneratedTurn is the reasoning capability's answer for one turn.
type GeneratedTurn struct {
	Output     string
	Confidence float64
	Actions    []string
}

// TurnGenerator produces turn content. The oracle package provides the
// LLM-backed implementation; tests substitute a mock.
type TurnGenerator interface {
	GenerateTurn(ctx context.Context, prompt *TurnPrompt) (*GeneratedTurn, error)
}
