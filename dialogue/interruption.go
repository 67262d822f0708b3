package dialogue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleykit/parley/types"
)

// InterruptRequest records a pause/abort signal against a session.
type InterruptRequest struct {
	SessionID string             `json:"session_id"`
	AgentID   string             `json:"agent_id,omitempty"`
	Reason    InterruptionReason `json:"reason"`
	Details   string             `json:"details,omitempty"`
}

// InterruptionHandler records interruption events and reconciles session
// status when they are resolved.
type InterruptionHandler struct {
	store   Store
	metrics Metrics
	logger  *zap.Logger
}

// NewInterruptionHandler creates an interruption handler.
func NewInterruptionHandler(store Store, logger *zap.Logger) *InterruptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterruptionHandler{
		store:   store,
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "interruption_handler")),
	}
}

// WithMetrics attaches an instrumentation sink and returns the handler.
func (h *InterruptionHandler) WithMetrics(metrics Metrics) *InterruptionHandler {
	if metrics != nil {
		h.metrics = metrics
	}
	return h
}

// Interrupt inserts an unresolved event. It never touches session status:
// an interruption can be purely advisory, and the resolution decides what
// happens to the session.
func (h *InterruptionHandler) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptionEvent, error) {
	if req.SessionID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session_id is required")
	}
	if req.Reason == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "reason is required")
	}
	if _, err := h.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	event := &InterruptionEvent{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Reason:    req.Reason,
		Details:   req.Details,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateInterruption(ctx, event); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to persist interruption").WithCause(err)
	}
	h.metrics.RecordInterruption(string(req.Reason))

	h.logger.Info("interruption recorded",
		zap.String("interruption_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.String("reason", string(event.Reason)),
	)
	return event, nil
}

// ResolveInterruption resolves an event exactly once and applies the
// resolution's session side effect:
//
//   - resume: session becomes active again, speaking resumes with the
//     supplied new speaker (when given).
//   - terminate: session completes with outcome "interrupted".
//   - redirect: no status change; the caller redirects via a subsequent
//     turn.
func (h *InterruptionHandler) ResolveInterruption(ctx context.Context, interruptionID string, action InterruptionAction, newSpeaker, notes string) (*InterruptionEvent, error) {
	if interruptionID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "interruption_id is required")
	}

	event, err := h.store.GetInterruption(ctx, interruptionID)
	if err != nil {
		return nil, err
	}
	if event.Resolved {
		return nil, types.Errorf(types.ErrAlreadyResolved,
			"interruption %s is already resolved", interruptionID)
	}

	switch action {
	case ActionResume, ActionRedirect, ActionTerminate:
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown resolution action %q", action)
	}

	now := time.Now().UTC()
	event.Resolved = true
	event.ResolvedAt = &now
	event.Resolution = &InterruptionResolution{
		Action:     action,
		NewSpeaker: newSpeaker,
		Notes:      notes,
	}
	if err := h.store.UpdateInterruption(ctx, event); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to update interruption").WithCause(err)
	}

	if err := h.applySessionEffect(ctx, event, action, newSpeaker, now); err != nil {
		return nil, err
	}

	h.logger.Info("interruption resolved",
		zap.String("interruption_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.String("action", string(action)),
	)
	return event, nil
}

func (h *InterruptionHandler) applySessionEffect(ctx context.Context, event *InterruptionEvent, action InterruptionAction, newSpeaker string, now time.Time) error {
	if action == ActionRedirect {
		return nil
	}

	session, err := h.store.GetSession(ctx, event.SessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		// Terminal sessions are immutable; the event itself stays resolved.
		h.logger.Warn("skipping session effect, session already terminal",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
		)
		return nil
	}

	switch action {
	case ActionResume:
		session.Status = StatusActive
		if newSpeaker != "" {
			session.CurrentSpeaker = newSpeaker
		}
	case ActionTerminate:
		session.Status = StatusCompleted
		session.Outcome = "interrupted"
		session.CompletedAt = &now
	}
	if err := h.store.UpdateSession(ctx, session); err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to update session").WithCause(err)
	}
	if action == ActionTerminate {
		h.metrics.RecordSessionFinished(string(StatusCompleted), session.Outcome)
	}
	return nil
}

// MarkInterrupted flags an active session as interrupted. Callers that
// treat an interruption as blocking use this after Interrupt.
func (h *InterruptionHandler) MarkInterrupted(ctx context.Context, sessionID string) error {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return types.Errorf(types.ErrSessionNotActive,
			"session %s is %s and cannot be interrupted", session.ID, session.Status)
	}
	session.Status = StatusInterrupted
	if err := h.store.UpdateSession(ctx, session); err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to update session").WithCause(err)
	}
	return nil
}
