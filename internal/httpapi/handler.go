// Package httpapi exposes the engine over HTTP: session lifecycle, validation
// rule administration, webhook management and the websocket streaming
// endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/parleyhq/parley/internal/completion"
	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/webhook"
)

// maxRequestBodySize caps request bodies at 1MB.
const maxRequestBodySize = 1 << 20

// Server wires engine components into HTTP handlers.
type Server struct {
	repo       store.Repository
	machine    *session.Machine
	dispatcher *webhook.Dispatcher
	controller *stream.Controller
	tracker    *completion.Tracker
}

func NewServer(repo store.Repository, machine *session.Machine, dispatcher *webhook.Dispatcher, controller *stream.Controller, tracker *completion.Tracker) *Server {
	return &Server{
		repo:       repo,
		machine:    machine,
		dispatcher: dispatcher,
		controller: controller,
		tracker:    tracker,
	}
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(traceContext)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	s.registerSchemaRoutes(r)
	s.registerSessionRoutes(r)
	s.registerRuleRoutes(r)
	s.registerWebhookRoutes(r)

	r.Get("/ws/sessions/{sessionID}/stream", s.HandleStream)

	return r
}

// traceContext carries the chi request id as the trace id so model calls
// triggered by a request log under the same identifier.
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chiMiddleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(logger.WithTraceID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, parleyErrors.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, parleyErrors.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, parleyErrors.ErrStateViolation):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, parleyErrors.ErrStreamActive):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, parleyErrors.ErrTransient):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// decode parses a JSON request body into v with a size cap.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}
