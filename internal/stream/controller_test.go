package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/session"
)

type stubRouter struct {
	chunks chan contract.StreamChunk
}

func (r *stubRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return &contract.CompletionResponse{}, nil
}

func (r *stubRouter) RouteStream(ctx context.Context, model string, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	return r.chunks, nil
}

func (r *stubRouter) ListModels() []string { return nil }

func (r *stubRouter) Health(ctx context.Context) error { return nil }

type recordingAppender struct {
	mu       sync.Mutex
	appended []string
	notify   chan struct{}
}

func newRecordingAppender() *recordingAppender {
	return &recordingAppender{notify: make(chan struct{}, 8)}
}

func (a *recordingAppender) AppendAgentMessage(ctx context.Context, sessionID, content string) (*session.Message, error) {
	a.mu.Lock()
	a.appended = append(a.appended, content)
	a.mu.Unlock()
	a.notify <- struct{}{}
	return &session.Message{SessionID: sessionID, Content: content}, nil
}

func (a *recordingAppender) contents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.appended...)
}

func TestControllerRejectsConcurrentStart(t *testing.T) {
	router := &stubRouter{chunks: make(chan contract.StreamChunk)}
	appender := newRecordingAppender()
	c := NewController(router, appender, "gpt-4o-mini")

	require.NoError(t, c.Start(context.Background(), "s1", contract.CompletionRequest{}, nil))
	err := c.Start(context.Background(), "s1", contract.CompletionRequest{}, nil)
	assert.ErrorIs(t, err, parleyErrors.ErrStreamActive)

	c.Stop("s1")
}

func TestControllerAppendsOnDone(t *testing.T) {
	router := &stubRouter{chunks: make(chan contract.StreamChunk, 4)}
	appender := newRecordingAppender()
	c := NewController(router, appender, "gpt-4o-mini")

	var mu sync.Mutex
	var seen []contract.StreamChunk
	sink := func(chunk contract.StreamChunk) {
		mu.Lock()
		seen = append(seen, chunk)
		mu.Unlock()
	}

	require.NoError(t, c.Start(context.Background(), "s1", contract.CompletionRequest{}, sink))

	router.chunks <- contract.StreamChunk{Content: "What"}
	router.chunks <- contract.StreamChunk{Content: "What is your email"}
	router.chunks <- contract.StreamChunk{Content: "What is your email?", Done: true}

	select {
	case <-appender.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never appended")
	}

	assert.Equal(t, []string{"What is your email?"}, appender.contents())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	// Chunks carry cumulative content; the last one is the full response.
	assert.Equal(t, "What is your email?", seen[len(seen)-1].Content)
	assert.True(t, seen[len(seen)-1].Done)
}

func TestControllerStopAbortsWithoutAppend(t *testing.T) {
	router := &stubRouter{chunks: make(chan contract.StreamChunk, 4)}
	appender := newRecordingAppender()
	c := NewController(router, appender, "gpt-4o-mini")

	require.NoError(t, c.Start(context.Background(), "s1", contract.CompletionRequest{}, nil))
	router.chunks <- contract.StreamChunk{Content: "partial answer"}

	// Give the consumer a moment to record the partial content.
	assert.Eventually(t, func() bool {
		content, ok := c.Current("s1")
		return ok && content == "partial answer"
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop("s1")

	assert.Empty(t, appender.contents())
	assert.False(t, c.IsStreaming("s1"))
}

func TestControllerStopAfterCompletionIsNoOp(t *testing.T) {
	router := &stubRouter{chunks: make(chan contract.StreamChunk, 2)}
	appender := newRecordingAppender()
	c := NewController(router, appender, "gpt-4o-mini")

	require.NoError(t, c.Start(context.Background(), "s1", contract.CompletionRequest{}, nil))
	router.chunks <- contract.StreamChunk{Content: "done", Done: true}

	select {
	case <-appender.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never appended")
	}

	c.Stop("s1")
	c.Stop("s1")

	assert.Equal(t, []string{"done"}, appender.contents())
}

func TestControllerIndependentSessions(t *testing.T) {
	router := &stubRouter{chunks: make(chan contract.StreamChunk)}
	appender := newRecordingAppender()
	c := NewController(router, appender, "gpt-4o-mini")

	require.NoError(t, c.Start(context.Background(), "s1", contract.CompletionRequest{}, nil))

	assert.True(t, c.IsStreaming("s1"))
	assert.False(t, c.IsStreaming("s2"))

	c.Shutdown()
	assert.False(t, c.IsStreaming("s1"))
}
