package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley/internal/validate"
)

func (s *Server) registerRuleRoutes(r chi.Router) {
	r.Route("/api/rules", func(r chi.Router) {
		r.Post("/", s.CreateRule)
		r.Get("/", s.ListRules)
		r.Get("/{ruleID}", s.GetRule)
		r.Put("/{ruleID}", s.UpdateRule)
		r.Delete("/{ruleID}", s.DeleteRule)
	})
}

func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule validate.Rule
	if err := decode(w, r, &rule); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.FormComponent == "" {
		Error(w, http.StatusBadRequest, "formComponent is required")
		return
	}
	if rule.Type == "" {
		Error(w, http.StatusBadRequest, "type is required")
		return
	}
	if rule.ID == "" {
		rule.ID = ulid.Make().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, rule)
}

func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	formComponent := r.URL.Query().Get("form_component")

	var (
		rules []validate.Rule
		err   error
	)
	if formComponent != "" {
		rules, err = s.repo.RulesFor(r.Context(), formComponent)
	} else {
		rules, err = s.repo.ListRules(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rule == nil {
		Error(w, http.StatusNotFound, "rule not found")
		return
	}
	JSON(w, http.StatusOK, rule)
}

func (s *Server) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule validate.Rule
	if err := decode(w, r, &rule); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule.ID = chi.URLParam(r, "ruleID")

	if err := s.repo.UpdateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, rule)
}

func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
