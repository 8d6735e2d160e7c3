package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/session"
)

const nextQuestionSystemPrompt = `You are a friendly conversational assistant collecting information from a visitor.
Ask for exactly one piece of information: the field described below.
Keep the question short, natural and conversational. Do not ask for anything else.
Do not mention forms, fields, or data collection mechanics.`

// streamFrame is one websocket message sent to the client. Content is
// cumulative: each frame carries the full text so far.
type streamFrame struct {
	Content string            `json:"content"`
	Done    bool              `json:"done"`
	Fields  map[string]string `json:"fields,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// HandleStream streams the agent's next question over a websocket. The client
// may send a text message "stop" to abort the in-flight stream.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != session.StatusActive {
		Error(w, http.StatusConflict, fmt.Sprintf("session is %s", sess.Status))
		return
	}
	if s.controller.IsStreaming(sessionID) {
		Error(w, http.StatusConflict, "stream already in flight")
		return
	}

	sc, err := s.repo.GetSchema(r.Context(), sess.SchemaID)
	if err != nil || sc == nil {
		Error(w, http.StatusInternalServerError, "schema unavailable")
		return
	}

	snapshot := sess.FieldSnapshot()
	next := s.tracker.NextRequiredField(r.Context(), sess.SchemaID, snapshot, sc)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	// Nothing left to ask: report the collected fields and finish.
	if next == nil {
		writeFrame(ws, streamFrame{Content: "", Done: true, Fields: snapshot})
		return
	}

	messages, err := s.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeFrame(ws, streamFrame{Done: true, Error: "failed to load transcript"})
		return
	}

	req := contract.CompletionRequest{
		System: fmt.Sprintf("%s\n\nField to collect: %s (%s)", nextQuestionSystemPrompt, next.Label, next.Type),
		Messages: append(session.ToContractMessages(messages), contract.Message{
			Role:    "user",
			Content: fmt.Sprintf("(ask me for: %s)", next.Label),
		}),
	}

	done := make(chan struct{})
	sink := func(chunk contract.StreamChunk) {
		frame := streamFrame{Content: chunk.Content, Done: chunk.Done}
		if chunk.Err != nil {
			frame.Error = chunk.Err.Error()
		}
		writeFrame(ws, frame)
		if chunk.Done || chunk.Err != nil {
			close(done)
		}
	}

	ctx := r.Context()
	if err := s.controller.Start(ctx, sessionID, req, sink); err != nil {
		writeFrame(ws, streamFrame{Done: true, Error: err.Error()})
		return
	}

	// Read loop doubles as disconnect detection.
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for {
			kind, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if kind == websocket.MessageText && string(data) == "stop" {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-stop:
		s.controller.Stop(sessionID)
	case <-ctx.Done():
		s.controller.Stop(sessionID)
	}
}

func writeFrame(ws *websocket.Conn, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write stream frame", "error", err)
	}
}
