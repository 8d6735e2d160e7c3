package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley/internal/completion"
	"github.com/parleyhq/parley/internal/concurrency"
	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/validate"
)

// Store is the persistence surface the machine needs.
type Store interface {
	GetSchema(ctx context.Context, id string) (*schema.Schema, error)
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	AppendMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// Machine owns session lifecycle transitions. All mutation of a session's
// extractedFields happens here, under the session-scoped lock.
type Machine struct {
	store       Store
	coordinator *extract.Coordinator
	validator   *validate.Engine
	tracker     *completion.Tracker
	bus         *Bus
	locks       *concurrency.SessionLockManager
}

func NewMachine(store Store, coordinator *extract.Coordinator, validator *validate.Engine, tracker *completion.Tracker, bus *Bus) *Machine {
	return &Machine{
		store:       store,
		coordinator: coordinator,
		validator:   validator,
		tracker:     tracker,
		bus:         bus,
		locks:       concurrency.NewSessionLockManager(),
	}
}

// Start creates a new active session over an existing schema.
func (m *Machine) Start(ctx context.Context, schemaID string) (*Session, error) {
	sc, err := m.store.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load schema")
	}
	if sc == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("schema %s", schemaID))
	}

	now := time.Now()
	sess := &Session{
		ID:              ulid.Make().String(),
		SchemaID:        schemaID,
		Status:          StatusActive,
		ExtractedFields: make(map[string]FieldValue),
		RequiredCount:   len(sc.RequiredFields()),
		StartedAt:       now,
		LastActivityAt:  now,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, parleyErrors.Wrap(err, "create session")
	}

	m.emit(EventSessionStarted, sess)
	return sess, nil
}

// ApplyVisitorMessage appends a visitor message, runs extraction over the
// full transcript and folds accepted values into the session. Redelivering
// the same message id is a no-op: extraction is never double-counted.
func (m *Machine) ApplyVisitorMessage(ctx context.Context, sessionID, messageID, content string) (*Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load session")
	}
	if sess == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	if sess.Status.Terminal() {
		return nil, parleyErrors.StateViolation(fmt.Sprintf("session %s is %s", sessionID, sess.Status))
	}

	if messageID != "" {
		existing, err := m.store.GetMessage(ctx, messageID)
		if err != nil {
			return nil, parleyErrors.Wrap(err, "check message")
		}
		if existing != nil {
			slog.Debug("Duplicate message delivery ignored", "session_id", sessionID, "message_id", messageID)
			return sess, nil
		}
	} else {
		messageID = ulid.Make().String()
	}

	sc, err := m.store.GetSchema(ctx, sess.SchemaID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load schema")
	}
	if sc == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("schema %s", sess.SchemaID))
	}

	msg := &Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      RoleVisitor,
		Content:   content,
		CreatedAt: time.Now(),
	}

	transcript, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load transcript")
	}
	transcript = append(transcript, *msg)

	// Extraction never fails: the coordinator degrades to the pattern
	// fallback internally.
	candidates := m.coordinator.ExtractFields(logger.WithSessionID(ctx, sessionID), ToContractMessages(transcript), sc)

	merged, validationErrors := m.merge(ctx, sess, sc, candidates)

	msg.ValidationState = "valid"
	if len(validationErrors) > 0 {
		msg.ValidationState = "invalid"
		msg.ValidationErrors = validationErrors
	}

	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, parleyErrors.Wrap(err, "append message")
	}

	progress := m.tracker.Measure(ctx, sess.SchemaID, sess.FieldSnapshot(), sc)
	sess.CompletedCount = progress.Completed
	sess.RequiredCount = progress.Total
	sess.LastActivityAt = time.Now()

	autoComplete := sess.Status == StatusActive && progress.Total > 0 && progress.Completed == progress.Total
	if autoComplete {
		sess.Status = StatusCompleted
		endedAt := time.Now()
		sess.EndedAt = &endedAt
	}

	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, parleyErrors.Wrap(err, "update session")
	}

	if merged {
		m.emit(EventFieldExtracted, sess)
	}
	if autoComplete {
		slog.Info("Session completed", "session_id", sess.ID, "completed", progress.Completed, "total", progress.Total)
		m.emit(EventSessionCompleted, sess)
	}

	return sess, nil
}

// merge folds validated candidates into the session. An existing accepted
// value is never overwritten by a lower-or-equal-confidence re-extraction of
// the same field, which also makes replays idempotent.
func (m *Machine) merge(ctx context.Context, sess *Session, sc *schema.Schema, candidates map[string]extract.ExtractedField) (bool, []string) {
	var merged bool
	var validationErrors []string

	for fieldID, candidate := range candidates {
		if _, known := sc.FieldByID(fieldID); !known {
			continue
		}

		if existing, ok := sess.ExtractedFields[fieldID]; ok && candidate.Confidence <= existing.Confidence {
			continue
		}

		result := m.validator.Validate(ctx, sess.SchemaID, fieldID, candidate.Value)
		if !result.Valid {
			validationErrors = append(validationErrors, result.Errors...)
			continue
		}

		sess.ExtractedFields[fieldID] = FieldValue{
			Value:      candidate.Value,
			Confidence: candidate.Confidence,
			Source:     candidate.Source,
		}
		merged = true
	}

	return merged, validationErrors
}

// AppendAgentMessage records the agent's half of the conversation. Used by
// the streaming controller once a token stream completes.
func (m *Machine) AppendAgentMessage(ctx context.Context, sessionID, content string) (*Message, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load session")
	}
	if sess == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}

	msg := &Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      RoleAgent,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, parleyErrors.Wrap(err, "append agent message")
	}

	sess.LastActivityAt = time.Now()
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, parleyErrors.Wrap(err, "update session")
	}

	return msg, nil
}

// Close completes a session explicitly, regardless of completion rate.
// Closing an already completed session is a no-op.
func (m *Machine) Close(ctx context.Context, sessionID string) (*Session, error) {
	return m.transition(ctx, sessionID, StatusCompleted, "", EventSessionCompleted)
}

// Abandon marks an idle session abandoned. Non-active sessions are left
// untouched so the retention sweep emits at most one event per session.
func (m *Machine) Abandon(ctx context.Context, sessionID string) (*Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load session")
	}
	if sess == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}
	if sess.Status != StatusActive {
		return sess, nil
	}

	sess.Status = StatusAbandoned
	endedAt := time.Now()
	sess.EndedAt = &endedAt

	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, parleyErrors.Wrap(err, "update session")
	}

	m.emit(EventSessionAbandoned, sess)
	return sess, nil
}

// Fail moves a session to the error state after an unrecoverable failure.
// The transcript is preserved for operator review.
func (m *Machine) Fail(ctx context.Context, sessionID, reason string) (*Session, error) {
	return m.transition(ctx, sessionID, StatusError, reason, EventSessionError)
}

func (m *Machine) transition(ctx context.Context, sessionID string, target Status, reason string, eventType EventType) (*Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "load session")
	}
	if sess == nil {
		return nil, parleyErrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}

	if sess.Status == target {
		return sess, nil
	}
	if sess.Status.Terminal() && target != StatusError {
		return nil, parleyErrors.StateViolation(fmt.Sprintf("cannot move %s session %s to %s", sess.Status, sessionID, target))
	}

	sess.Status = target
	sess.ErrorReason = reason
	endedAt := time.Now()
	sess.EndedAt = &endedAt

	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, parleyErrors.Wrap(err, "update session")
	}

	m.emit(eventType, sess)
	return sess, nil
}

func (m *Machine) emit(eventType EventType, sess *Session) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(NewEvent(eventType, sess.ID, sess.FieldSnapshot()))
}
