package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleykit/parley/arbitration"
	"github.com/parleykit/parley/dialogue"
	"github.com/parleykit/parley/types"
)

// sessionRow flattens a session for relational storage. Structured fields
// ride as JSON columns; the columns queries filter on are first-class.
type sessionRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Status         string `gorm:"size:32;index"`
	Strategy       string `gorm:"size:32"`
	Topic          string `gorm:"size:512"`
	CurrentSpeaker string `gorm:"size:128"`
	TotalTurns     int
	MaxTurns       int
	TimeLimitNs    int64
	Participants   string `gorm:"type:text"`
	TurnOrder      string `gorm:"type:text"`
	Context        string `gorm:"type:text"`
	SharedState    string `gorm:"type:text"`
	Outcome        string `gorm:"size:128"`
	StartedAt      time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

func (sessionRow) TableName() string { return "dialogue_sessions" }

type turnRow struct {
	ID               string `gorm:"primaryKey;size:64"`
	SessionID        string `gorm:"size:64;index"`
	AgentID          string `gorm:"size:128;index"`
	TurnNumber       int
	TurnType         string `gorm:"size:32"`
	Input            string `gorm:"type:text"`
	Output           string `gorm:"type:text"`
	Confidence       float64
	NextSpeaker      string `gorm:"size:128"`
	Actions          string `gorm:"type:text"`
	ReferencedTurns  string `gorm:"type:text"`
	ProcessingTimeMs int64
	CreatedAt        time.Time
}

func (turnRow) TableName() string { return "dialogue_turns" }

type interruptionRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	SessionID  string `gorm:"size:64;index"`
	AgentID    string `gorm:"size:128"`
	Reason     string `gorm:"size:64"`
	Details    string `gorm:"type:text"`
	Resolved   bool   `gorm:"index"`
	Resolution string `gorm:"type:text"`
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (interruptionRow) TableName() string { return "dialogue_interruptions" }

type conflictRow struct {
	ConflictID string    `gorm:"primaryKey;size:64"`
	Type       string    `gorm:"size:48;index"`
	Severity   string    `gorm:"size:16;index"`
	Status     string    `gorm:"size:16;index"`
	Agents     string    `gorm:"type:text"`
	Payload    string    `gorm:"type:text"`
	DetectedAt time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

func (conflictRow) TableName() string { return "arbitration_conflicts" }

type outcomeRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Strategy    string    `gorm:"size:32;index"`
	OutcomeType string    `gorm:"size:32"`
	Success     bool
	ChosenAgent string    `gorm:"size:128;index"`
	Agents      string    `gorm:"type:text"`
	Payload     string    `gorm:"type:text"`
	ResolvedAt  time.Time `gorm:"index"`
}

func (outcomeRow) TableName() string { return "arbitration_outcomes" }

// GormStore persists through GORM. One instance is safe for concurrent
// use; *gorm.DB carries its own pool.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an open GORM handle and migrates the schema.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&sessionRow{}, &turnRow{}, &interruptionRow{}, &conflictRow{}, &outcomeRow{}); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "schema migration failed").WithCause(err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) CreateSession(ctx context.Context, session *dialogue.ConversationSession) error {
	row, err := sessionToRow(session)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to create session").WithCause(err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*dialogue.ConversationSession, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", sessionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.Errorf(types.ErrSessionNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to load session").WithCause(err)
	}
	return rowToSession(&row)
}

func (s *GormStore) UpdateSession(ctx context.Context, session *dialogue.ConversationSession) error {
	row, err := sessionToRow(session)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", session.ID).Select("*").Updates(row)
	if result.Error != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to update session").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return types.Errorf(types.ErrSessionNotFound, "session %s not found", session.ID)
	}
	return nil
}

func (s *GormStore) ListActiveSessions(ctx context.Context) ([]*dialogue.ConversationSession, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(dialogue.StatusActive), string(dialogue.StatusInterrupted)}).
		Order("started_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to list sessions").WithCause(err)
	}
	sessions := make([]*dialogue.ConversationSession, 0, len(rows))
	for i := range rows {
		session, err := rowToSession(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *GormStore) AppendTurn(ctx context.Context, turn *dialogue.DialogueTurn) error {
	row, err := turnToRow(turn)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to append turn").WithCause(err)
	}
	return nil
}

func (s *GormStore) ListTurns(ctx context.Context, sessionID string) ([]*dialogue.DialogueTurn, error) {
	var rows []turnRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_number asc").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to list turns").WithCause(err)
	}
	turns := make([]*dialogue.DialogueTurn, 0, len(rows))
	for i := range rows {
		turn, err := rowToTurn(&rows[i])
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *GormStore) CreateInterruption(ctx context.Context, event *dialogue.InterruptionEvent) error {
	row, err := interruptionToRow(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to create interruption").WithCause(err)
	}
	return nil
}

func (s *GormStore) GetInterruption(ctx context.Context, interruptionID string) (*dialogue.InterruptionEvent, error) {
	var row interruptionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", interruptionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.Errorf(types.ErrNotFound, "interruption %s not found", interruptionID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to load interruption").WithCause(err)
	}
	return rowToInterruption(&row)
}

func (s *GormStore) UpdateInterruption(ctx context.Context, event *dialogue.InterruptionEvent) error {
	row, err := interruptionToRow(event)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&interruptionRow{}).Where("id = ?", event.ID).Select("*").Updates(row)
	if result.Error != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to update interruption").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "interruption %s not found", event.ID)
	}
	return nil
}

func (s *GormStore) ListInterruptions(ctx context.Context, sessionID string) ([]*dialogue.InterruptionEvent, error) {
	var rows []interruptionRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to list interruptions").WithCause(err)
	}
	events := make([]*dialogue.InterruptionEvent, 0, len(rows))
	for i := range rows {
		event, err := rowToInterruption(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// UpsertConflict inserts or fully replaces the row keyed by conflict ID,
// so re-resolving updates status instead of duplicating.
func (s *GormStore) UpsertConflict(ctx context.Context, conflict *arbitration.DetectedConflict) error {
	row, err := conflictToRow(conflict)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conflict_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to upsert conflict").WithCause(err)
	}
	return nil
}

func (s *GormStore) AppendOutcome(ctx context.Context, outcome *arbitration.ResolutionOutcome) error {
	row, err := outcomeToRow(outcome)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to append outcome").WithCause(err)
	}
	return nil
}

func (s *GormStore) ListConflictsByAgent(ctx context.Context, agentID string) ([]*arbitration.DetectedConflict, error) {
	conflicts, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}
	filtered := conflicts[:0]
	for _, c := range conflicts {
		if involves(c, agentID) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func (s *GormStore) ListOutcomesByAgent(ctx context.Context, agentID string) ([]*arbitration.ResolutionOutcome, error) {
	outcomes, err := s.loadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	filtered := outcomes[:0]
	for _, o := range outcomes {
		if contains(o.Metadata.ParticipatingAgents, agentID) {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

func (s *GormStore) ResolutionMetrics(ctx context.Context) (*ResolutionMetrics, error) {
	conflicts, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.loadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	return computeResolutionMetrics(conflicts, outcomes), nil
}

func (s *GormStore) ConflictTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	conflicts, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}
	return computeConflictTrends(conflicts, days, time.Now()), nil
}

func (s *GormStore) StrategyPerformance(ctx context.Context) ([]StrategyPerformance, error) {
	outcomes, err := s.loadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	return computeStrategyPerformance(outcomes), nil
}

func (s *GormStore) AgentProfile(ctx context.Context, agentID string) (*AgentProfile, error) {
	conflicts, err := s.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.loadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	return computeAgentProfile(agentID, conflicts, outcomes), nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *GormStore) loadConflicts(ctx context.Context) ([]*arbitration.DetectedConflict, error) {
	var rows []conflictRow
	if err := s.db.WithContext(ctx).Order("detected_at asc").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to list conflicts").WithCause(err)
	}
	conflicts := make([]*arbitration.DetectedConflict, 0, len(rows))
	for i := range rows {
		conflict, err := rowToConflict(&rows[i])
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}
	return conflicts, nil
}

func (s *GormStore) loadOutcomes(ctx context.Context) ([]*arbitration.ResolutionOutcome, error) {
	var rows []outcomeRow
	if err := s.db.WithContext(ctx).Order("resolved_at asc").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to list outcomes").WithCause(err)
	}
	outcomes := make([]*arbitration.ResolutionOutcome, 0, len(rows))
	for i := range rows {
		outcome, err := rowToOutcome(&rows[i])
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func sessionToRow(session *dialogue.ConversationSession) (*sessionRow, error) {
	participants, err := marshalField(session.Participants)
	if err != nil {
		return nil, err
	}
	order, err := marshalField(session.TurnOrder)
	if err != nil {
		return nil, err
	}
	contextJSON, err := marshalField(session.Context)
	if err != nil {
		return nil, err
	}
	shared, err := marshalField(session.SharedState)
	if err != nil {
		return nil, err
	}
	return &sessionRow{
		ID:             session.ID,
		Status:         string(session.Status),
		Strategy:       string(session.Strategy),
		Topic:          session.Topic,
		CurrentSpeaker: session.CurrentSpeaker,
		TotalTurns:     session.TotalTurns,
		MaxTurns:       session.MaxTurns,
		TimeLimitNs:    int64(session.TimeLimit),
		Participants:   participants,
		TurnOrder:      order,
		Context:        contextJSON,
		SharedState:    shared,
		Outcome:        session.Outcome,
		StartedAt:      session.StartedAt,
		CompletedAt:    session.CompletedAt,
		UpdatedAt:      time.Now().UTC(),
	}, nil
}

func rowToSession(row *sessionRow) (*dialogue.ConversationSession, error) {
	session := &dialogue.ConversationSession{
		ID:             row.ID,
		Status:         dialogue.SessionStatus(row.Status),
		Strategy:       dialogue.TurnTakingStrategy(row.Strategy),
		Topic:          row.Topic,
		CurrentSpeaker: row.CurrentSpeaker,
		TotalTurns:     row.TotalTurns,
		MaxTurns:       row.MaxTurns,
		TimeLimit:      time.Duration(row.TimeLimitNs),
		Outcome:        row.Outcome,
		StartedAt:      row.StartedAt,
		CompletedAt:    row.CompletedAt,
	}
	if err := unmarshalField(row.Participants, &session.Participants); err != nil {
		return nil, err
	}
	if err := unmarshalField(row.TurnOrder, &session.TurnOrder); err != nil {
		return nil, err
	}
	if err := unmarshalField(row.Context, &session.Context); err != nil {
		return nil, err
	}
	if err := unmarshalField(row.SharedState, &session.SharedState); err != nil {
		return nil, err
	}
	return session, nil
}

func turnToRow(turn *dialogue.DialogueTurn) (*turnRow, error) {
	actions, err := marshalField(turn.Actions)
	if err != nil {
		return nil, err
	}
	refs, err := marshalField(turn.ReferencedTurns)
	if err != nil {
		return nil, err
	}
	return &turnRow{
		ID:               turn.ID,
		SessionID:        turn.SessionID,
		AgentID:          turn.AgentID,
		TurnNumber:       turn.TurnNumber,
		TurnType:         string(turn.TurnType),
		Input:            turn.Input,
		Output:           turn.Output,
		Confidence:       turn.Confidence,
		NextSpeaker:      turn.NextSpeaker,
		Actions:          actions,
		ReferencedTurns:  refs,
		ProcessingTimeMs: turn.ProcessingTimeMs,
		CreatedAt:        turn.CreatedAt,
	}, nil
}

func rowToTurn(row *turnRow) (*dialogue.DialogueTurn, error) {
	turn := &dialogue.DialogueTurn{
		ID:               row.ID,
		SessionID:        row.SessionID,
		AgentID:          row.AgentID,
		TurnNumber:       row.TurnNumber,
		TurnType:         dialogue.TurnType(row.TurnType),
		Input:            row.Input,
		Output:           row.Output,
		Confidence:       row.Confidence,
		NextSpeaker:      row.NextSpeaker,
		ProcessingTimeMs: row.ProcessingTimeMs,
		CreatedAt:        row.CreatedAt,
	}
	if err := unmarshalField(row.Actions, &turn.Actions); err != nil {
		return nil, err
	}
	if err := unmarshalField(row.ReferencedTurns, &turn.ReferencedTurns); err != nil {
		return nil, err
	}
	return turn, nil
}

func interruptionToRow(event *dialogue.InterruptionEvent) (*interruptionRow, error) {
	resolution, err := marshalField(event.Resolution)
	if err != nil {
		return nil, err
	}
	return &interruptionRow{
		ID:         event.ID,
		SessionID:  event.SessionID,
		AgentID:    event.AgentID,
		Reason:     string(event.Reason),
		Details:    event.Details,
		Resolved:   event.Resolved,
		Resolution: resolution,
		CreatedAt:  event.CreatedAt,
		ResolvedAt: event.ResolvedAt,
	}, nil
}

func rowToInterruption(row *interruptionRow) (*dialogue.InterruptionEvent, error) {
	event := &dialogue.InterruptionEvent{
		ID:         row.ID,
		SessionID:  row.SessionID,
		AgentID:    row.AgentID,
		Reason:     dialogue.InterruptionReason(row.Reason),
		Details:    row.Details,
		Resolved:   row.Resolved,
		CreatedAt:  row.CreatedAt,
		ResolvedAt: row.ResolvedAt,
	}
	if err := unmarshalField(row.Resolution, &event.Resolution); err != nil {
		return nil, err
	}
	return event, nil
}

func conflictToRow(conflict *arbitration.DetectedConflict) (*conflictRow, error) {
	agents, err := marshalField(conflict.InvolvedAgents)
	if err != nil {
		return nil, err
	}
	payload, err := marshalField(conflict)
	if err != nil {
		return nil, err
	}
	return &conflictRow{
		ConflictID: conflict.ConflictID,
		Type:       string(conflict.Type),
		Severity:   string(conflict.Severity),
		Status:     string(conflict.Status),
		Agents:     agents,
		Payload:    payload,
		DetectedAt: conflict.DetectedAt,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func rowToConflict(row *conflictRow) (*arbitration.DetectedConflict, error) {
	var conflict arbitration.DetectedConflict
	if err := unmarshalField(row.Payload, &conflict); err != nil {
		return nil, err
	}
	// The filter columns are authoritative; the payload may predate a
	// status update made through them.
	conflict.Status = arbitration.ConflictStatus(row.Status)
	return &conflict, nil
}

func outcomeToRow(outcome *arbitration.ResolutionOutcome) (*outcomeRow, error) {
	agents, err := marshalField(outcome.Metadata.ParticipatingAgents)
	if err != nil {
		return nil, err
	}
	payload, err := marshalField(outcome)
	if err != nil {
		return nil, err
	}
	return &outcomeRow{
		ID:          outcome.ID,
		Strategy:    string(outcome.Strategy),
		OutcomeType: string(outcome.OutcomeType),
		Success:     outcome.Success,
		ChosenAgent: outcome.ChosenAgent,
		Agents:      agents,
		Payload:     payload,
		ResolvedAt:  outcome.Metadata.ResolvedAt,
	}, nil
}

func rowToOutcome(row *outcomeRow) (*arbitration.ResolutionOutcome, error) {
	var outcome arbitration.ResolutionOutcome
	if err := unmarshalField(row.Payload, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func marshalField(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", types.NewError(types.ErrPersistenceFailure, "failed to encode field").WithCause(err)
	}
	return string(data), nil
}

func unmarshalField(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return types.NewError(types.ErrPersistenceFailure, "failed to decode field").WithCause(err)
	}
	return nil
}
