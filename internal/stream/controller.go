// Package stream manages cancellable token streams of agent responses, one
// per session at a time.
package stream

import (
	"context"
	"log/slog"
	"sync"

	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/session"
)

// MessageAppender materializes the finished response as an immutable agent
// message. Satisfied by *session.Machine.
type MessageAppender interface {
	AppendAgentMessage(ctx context.Context, sessionID, content string) (*session.Message, error)
}

// ChunkSink receives partial-content updates, typically a websocket writer.
type ChunkSink func(chunk contract.StreamChunk)

type activeStream struct {
	cancel  context.CancelFunc
	content string
	done    chan struct{}
}

// Controller runs at most one token stream per session. Chunks carry
// cumulative content, so the current value is last-write-wins; only the
// terminal chunk appends a message to the transcript.
type Controller struct {
	router    model.Router
	appender  MessageAppender
	modelName string

	mu      sync.Mutex
	streams map[string]*activeStream
}

func NewController(router model.Router, appender MessageAppender, modelName string) *Controller {
	return &Controller{
		router:    router,
		appender:  appender,
		modelName: modelName,
		streams:   make(map[string]*activeStream),
	}
}

// Start begins streaming a response for the session. A second Start while a
// stream is in flight is rejected with ErrStreamActive; callers are expected
// to check IsStreaming rather than queue.
func (c *Controller) Start(ctx context.Context, sessionID string, req contract.CompletionRequest, sink ChunkSink) error {
	c.mu.Lock()
	if _, inFlight := c.streams[sessionID]; inFlight {
		c.mu.Unlock()
		return parleyErrors.ErrStreamActive
	}

	streamCtx, cancel := context.WithCancel(logger.WithSessionID(ctx, sessionID))
	st := &activeStream{cancel: cancel, done: make(chan struct{})}
	c.streams[sessionID] = st
	c.mu.Unlock()

	chunks, err := c.router.RouteStream(streamCtx, c.modelName, req)
	if err != nil {
		c.clear(sessionID, st)
		cancel()
		return parleyErrors.Wrap(err, "start stream")
	}

	go c.consume(streamCtx, sessionID, st, chunks, sink)
	return nil
}

func (c *Controller) consume(ctx context.Context, sessionID string, st *activeStream, chunks <-chan contract.StreamChunk, sink ChunkSink) {
	defer close(st.done)
	defer st.cancel()
	defer c.clear(sessionID, st)

	for {
		select {
		case <-ctx.Done():
			// Cancelled mid-stream: no message is appended.
			slog.Debug("Stream aborted", "session_id", sessionID)
			return

		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if chunk.Err != nil {
				slog.Warn("Stream failed", "session_id", sessionID, "error", chunk.Err)
				if sink != nil {
					sink(chunk)
				}
				return
			}

			c.mu.Lock()
			st.content = chunk.Content
			c.mu.Unlock()

			if sink != nil {
				sink(chunk)
			}

			if chunk.Done {
				// Detached context: the finished response is appended even if
				// the request context has already gone away.
				if _, err := c.appender.AppendAgentMessage(context.Background(), sessionID, chunk.Content); err != nil {
					slog.Error("Failed to append streamed message", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}
}

// Stop aborts the session's stream without appending a message. Stopping when
// nothing is streaming, including after completion, is a no-op.
func (c *Controller) Stop(sessionID string) {
	c.mu.Lock()
	st, ok := c.streams[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}

	st.cancel()
	<-st.done
}

// IsStreaming reports whether a stream is in flight for the session.
func (c *Controller) IsStreaming(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[sessionID]
	return ok
}

// Current returns the latest partial content for an in-flight stream.
func (c *Controller) Current(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[sessionID]
	if !ok {
		return "", false
	}
	return st.content, true
}

// Shutdown aborts every in-flight stream. Used on component teardown so
// stream resources are released even when no terminal chunk arrived.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	streams := make([]*activeStream, 0, len(c.streams))
	for _, st := range c.streams {
		streams = append(streams, st)
	}
	c.mu.Unlock()

	for _, st := range streams {
		st.cancel()
		<-st.done
	}
}

func (c *Controller) clear(sessionID string, st *activeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.streams[sessionID]; ok && current == st {
		delete(c.streams, sessionID)
	}
}
