package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/completion"
	"github.com/parleyhq/parley/internal/config"
	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/validate"
)

type memStore struct {
	schemas  map[string]*schema.Schema
	sessions map[string]*Session
	messages map[string]*Message
	order    []string
}

func newMemStore() *memStore {
	return &memStore{
		schemas:  make(map[string]*schema.Schema),
		sessions: make(map[string]*Session),
		messages: make(map[string]*Message),
	}
}

func (s *memStore) GetSchema(ctx context.Context, id string) (*schema.Schema, error) {
	return s.schemas[id], nil
}

func copySession(sess *Session) *Session {
	c := *sess
	c.ExtractedFields = make(map[string]FieldValue, len(sess.ExtractedFields))
	for k, v := range sess.ExtractedFields {
		c.ExtractedFields[k] = v
	}
	return &c
}

func (s *memStore) CreateSession(ctx context.Context, sess *Session) error {
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *memStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func (s *memStore) UpdateSession(ctx context.Context, sess *Session) error {
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *memStore) AppendMessage(ctx context.Context, m *Message) error {
	cp := *m
	s.messages[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	for _, id := range s.order {
		if s.messages[id].SessionID == sessionID {
			out = append(out, *s.messages[id])
		}
	}
	return out, nil
}

type noRules struct{}

func (noRules) RulesFor(ctx context.Context, formComponent string) ([]validate.Rule, error) {
	return nil, nil
}

func emailOnlySchema() *schema.Schema {
	return &schema.Schema{
		ID:   "email-only",
		Name: "Email Only",
		Fields: []schema.Field{
			{ID: "email", Label: "Email", Type: schema.FieldEmail, Required: true},
		},
	}
}

func newTestMachine(t *testing.T, sc *schema.Schema) (*Machine, *memStore, *Bus) {
	t.Helper()

	st := newMemStore()
	if sc != nil {
		st.schemas[sc.ID] = sc
	}

	engine := validate.NewEngine(noRules{})
	tracker := completion.NewTracker(engine)
	coordinator := extract.NewCoordinator(nil, extract.NewPatternExtractor(), config.ExtractionConfig{})
	bus := NewBus(32)

	return NewMachine(st, coordinator, engine, tracker, bus), st, bus
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for {
		select {
		case evt := <-events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestStartCreatesActiveSession(t *testing.T) {
	m, _, bus := newTestMachine(t, emailOnlySchema())
	events := bus.Subscribe()

	sess, err := m.Start(context.Background(), "email-only")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, 1, sess.RequiredCount)

	got := drainEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventSessionStarted, got[0].Type)
}

func TestStartUnknownSchema(t *testing.T) {
	m, _, _ := newTestMachine(t, nil)

	_, err := m.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, parleyErrors.ErrNotFound)
}

func TestApplyVisitorMessageIdempotentReplay(t *testing.T) {
	m, st, _ := newTestMachine(t, emailOnlySchema())
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	first, err := m.ApplyVisitorMessage(ctx, sess.ID, "msg-1", "jane@example.com")
	require.NoError(t, err)

	second, err := m.ApplyVisitorMessage(ctx, sess.ID, "msg-1", "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.ExtractedFields, second.ExtractedFields)

	messages, _ := st.ListMessages(ctx, sess.ID)
	assert.Len(t, messages, 1)
}

func TestAutoCompleteWhenAllRequiredFilled(t *testing.T) {
	m, _, bus := newTestMachine(t, emailOnlySchema())
	events := bus.Subscribe()
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	updated, err := m.ApplyVisitorMessage(ctx, sess.ID, "msg-1", "it's jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, updated.Status)
	assert.NotNil(t, updated.EndedAt)
	assert.Equal(t, "jane@example.com", updated.ExtractedFields["email"].Value)
	assert.Equal(t, extract.SourceFallback, updated.ExtractedFields["email"].Source)

	var types []EventType
	for _, evt := range drainEvents(events) {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []EventType{EventSessionStarted, EventFieldExtracted, EventSessionCompleted}, types)
}

func TestNoAutoCompleteWithoutRequiredFields(t *testing.T) {
	sc := &schema.Schema{
		ID: "casual",
		Fields: []schema.Field{
			{ID: "notes", Label: "Notes", Type: schema.FieldText},
		},
	}
	m, _, _ := newTestMachine(t, sc)
	ctx := context.Background()

	sess, err := m.Start(ctx, "casual")
	require.NoError(t, err)

	updated, err := m.ApplyVisitorMessage(ctx, sess.ID, "msg-1", "some notes about things")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, updated.Status)
}

func TestTerminalSessionRejectsMessages(t *testing.T) {
	m, _, _ := newTestMachine(t, emailOnlySchema())
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	_, err = m.ApplyVisitorMessage(ctx, sess.ID, "msg-1", "jane@example.com")
	require.NoError(t, err)

	_, err = m.ApplyVisitorMessage(ctx, sess.ID, "msg-2", "one more thing")
	assert.ErrorIs(t, err, parleyErrors.ErrStateViolation)
}

func TestMergeKeepsHigherConfidence(t *testing.T) {
	m, _, _ := newTestMachine(t, emailOnlySchema())
	ctx := context.Background()

	sess := &Session{
		ID:       "s1",
		SchemaID: "email-only",
		Status:   StatusActive,
		ExtractedFields: map[string]FieldValue{
			"email": {Value: "jane@example.com", Confidence: 90, Source: extract.SourceLLM},
		},
	}

	merged, _ := m.merge(ctx, sess, emailOnlySchema(), map[string]extract.ExtractedField{
		"email":   {FieldID: "email", Value: "other@example.com", Confidence: 90, Source: extract.SourceLLM},
		"unknown": {FieldID: "unknown", Value: "x", Confidence: 100},
	})

	assert.False(t, merged)
	assert.Equal(t, "jane@example.com", sess.ExtractedFields["email"].Value)
	_, ok := sess.ExtractedFields["unknown"]
	assert.False(t, ok)

	merged, _ = m.merge(ctx, sess, emailOnlySchema(), map[string]extract.ExtractedField{
		"email": {FieldID: "email", Value: "better@example.com", Confidence: 95, Source: extract.SourceLLM},
	})
	assert.True(t, merged)
	assert.Equal(t, "better@example.com", sess.ExtractedFields["email"].Value)
}

func TestAbandonIsExactlyOnce(t *testing.T) {
	m, _, bus := newTestMachine(t, emailOnlySchema())
	events := bus.Subscribe()
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)
	drainEvents(events)

	first, err := m.Abandon(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, first.Status)
	assert.Len(t, drainEvents(events), 1)

	second, err := m.Abandon(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, second.Status)
	assert.Empty(t, drainEvents(events))
}

func TestCloseCompletedSessionIsNoOp(t *testing.T) {
	m, _, bus := newTestMachine(t, emailOnlySchema())
	events := bus.Subscribe()
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	_, err = m.Close(ctx, sess.ID)
	require.NoError(t, err)
	drainEvents(events)

	closed, err := m.Close(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, closed.Status)
	assert.Empty(t, drainEvents(events))
}

func TestFailAllowedFromTerminal(t *testing.T) {
	m, _, _ := newTestMachine(t, emailOnlySchema())
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	_, err = m.Close(ctx, sess.ID)
	require.NoError(t, err)

	failed, err := m.Fail(ctx, sess.ID, "webhook endpoint gone")
	require.NoError(t, err)
	assert.Equal(t, StatusError, failed.Status)
	assert.Equal(t, "webhook endpoint gone", failed.ErrorReason)
}

func TestAbandonedSessionCannotClose(t *testing.T) {
	m, _, _ := newTestMachine(t, emailOnlySchema())
	ctx := context.Background()

	sess, err := m.Start(ctx, "email-only")
	require.NoError(t, err)

	_, err = m.Abandon(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Close(ctx, sess.ID)
	assert.ErrorIs(t, err, parleyErrors.ErrStateViolation)
}
