package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley/internal/schema"
)

func (s *Server) registerSchemaRoutes(r chi.Router) {
	r.Route("/api/schemas", func(r chi.Router) {
		r.Post("/", s.PutSchema)
		r.Get("/{schemaID}", s.GetSchema)
	})
}

func (s *Server) registerSessionRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Get("/{sessionID}", s.GetSession)
		r.Get("/{sessionID}/messages", s.ListMessages)
		r.Post("/{sessionID}/messages", s.PostMessage)
		r.Post("/{sessionID}/close", s.CloseSession)
		r.Post("/{sessionID}/abandon", s.AbandonSession)
	})
}

func (s *Server) PutSchema(w http.ResponseWriter, r *http.Request) {
	var sc schema.Schema
	if err := decode(w, r, &sc); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sc.ID == "" {
		sc.ID = ulid.Make().String()
	}
	if err := sc.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.repo.PutSchema(r.Context(), &sc); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sc)
}

func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.repo.GetSchema(r.Context(), chi.URLParam(r, "schemaID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sc == nil {
		Error(w, http.StatusNotFound, "schema not found")
		return
	}
	JSON(w, http.StatusOK, sc)
}

type createSessionRequest struct {
	SchemaID string `json:"schemaId"`
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SchemaID == "" {
		Error(w, http.StatusBadRequest, "schemaId is required")
		return
	}

	sess, err := s.machine.Start(r.Context(), req.SchemaID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.repo.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.repo.ListMessages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type postMessageRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// PostMessage applies one visitor message. Clients supply messageId for
// idempotent retry; a blank one gets generated server side.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.MessageID == "" {
		req.MessageID = ulid.Make().String()
	}

	sess, err := s.machine.ApplyVisitorMessage(r.Context(), chi.URLParam(r, "sessionID"), req.MessageID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.machine.Close(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) AbandonSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.machine.Abandon(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}
