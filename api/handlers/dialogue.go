package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/store"
	"github.com/parleykit/parley/types"
)

// InitDialogueRequest is the wire form of a session creation request.
// The time limit rides as seconds so clients never deal in nanoseconds.
type InitDialogueRequest struct {
	AgentIDs         []string                      `json:"agent_ids"`
	Context          map[string]any                `json:"context"`
	Strategy         dialogue.TurnTakingStrategy   `json:"strategy,omitempty"`
	Roles            map[string]dialogue.AgentRole `json:"roles,omitempty"`
	Objectives       map[string]string             `json:"objectives,omitempty"`
	Priorities       map[string]int                `json:"priorities,omitempty"`
	MaxTurns         int                           `json:"max_turns,omitempty"`
	TimeLimitSeconds int                           `json:"time_limit_seconds,omitempty"`
}

func (r *InitDialogueRequest) toInitRequest() *dialogue.InitRequest {
	return &dialogue.InitRequest{
		AgentIDs:   r.AgentIDs,
		Context:    r.Context,
		Strategy:   r.Strategy,
		Roles:      r.Roles,
		Objectives: r.Objectives,
		Priorities: r.Priorities,
		MaxTurns:   r.MaxTurns,
		TimeLimit:  time.Duration(r.TimeLimitSeconds) * time.Second,
	}
}

// ResolveInterruptionRequest is the wire form of an interruption
// resolution.
type ResolveInterruptionRequest struct {
	InterruptionID string                      `json:"interruption_id"`
	Action         dialogue.InterruptionAction `json:"action"`
	NewSpeaker     string                      `json:"new_speaker,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
}

// DialogueHandler serves the /api/v1/dialogue endpoints.
type DialogueHandler struct {
	manager       *dialogue.SessionManager
	scheduler     *dialogue.TurnScheduler
	interruptions *dialogue.InterruptionHandler
	cache         *store.TranscriptCache
	logger        *zap.Logger
}

// NewDialogueHandler creates the dialogue handler. The transcript cache
// is optional.
func NewDialogueHandler(
	manager *dialogue.SessionManager,
	scheduler *dialogue.TurnScheduler,
	interruptions *dialogue.InterruptionHandler,
	cache *store.TranscriptCache,
	logger *zap.Logger,
) *DialogueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DialogueHandler{
		manager:       manager,
		scheduler:     scheduler,
		interruptions: interruptions,
		cache:         cache,
		logger:        logger.With(zap.String("component", "dialogue_handler")),
	}
}

// HandleInit creates a session. POST /api/v1/dialogue/init
func (h *DialogueHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req InitDialogueRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	session, err := h.manager.InitializeDialogue(r.Context(), req.toInitRequest())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusCreated, session)
}

// HandleTurn executes one turn. POST /api/v1/dialogue/turn
func (h *DialogueHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	var req dialogue.TurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	result, err := h.scheduler.TakeTurn(r.Context(), &req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), req.SessionID)
	}
	WriteSuccess(w, result)
}

// HandleTranscript returns the full transcript.
// GET /api/v1/dialogue/transcript/{id}
func (h *DialogueHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "session id is required"), h.logger)
		return
	}
	if h.cache != nil {
		if cached := h.cache.Get(r.Context(), sessionID); cached != nil {
			WriteSuccess(w, cached)
			return
		}
	}
	transcript, err := h.manager.Transcript(r.Context(), sessionID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	if h.cache != nil {
		h.cache.Set(r.Context(), transcript)
	}
	WriteSuccess(w, transcript)
}

// HandleNextSpeaker previews the next speaker.
// GET /api/v1/dialogue/next-speaker/{id}
func (h *DialogueHandler) HandleNextSpeaker(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	next, err := h.scheduler.NextSpeaker(r.Context(), sessionID)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"session_id":   sessionID,
		"next_speaker": next,
	})
}

// HandleAnalytics returns per-session statistics.
// GET /api/v1/dialogue/analytics/{id}
func (h *DialogueHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.manager.Analytics(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, analytics)
}

// HandleInterrupt records an interruption. POST /api/v1/dialogue/interrupt
func (h *DialogueHandler) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req dialogue.InterruptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	event, err := h.interruptions.Interrupt(r.Context(), &req)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	// Transcripts embed interruptions, so a cached copy is now stale.
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), event.SessionID)
	}
	WriteStatus(w, http.StatusCreated, event)
}

// HandleResolveInterruption resolves an interruption.
// POST /api/v1/dialogue/resolve-interruption
func (h *DialogueHandler) HandleResolveInterruption(w http.ResponseWriter, r *http.Request) {
	var req ResolveInterruptionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	event, err := h.interruptions.ResolveInterruption(r.Context(), req.InterruptionID, req.Action, req.NewSpeaker, req.Notes)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), event.SessionID)
	}
	WriteSuccess(w, event)
}
