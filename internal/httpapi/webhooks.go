package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley/internal/webhook"
)

func (s *Server) registerWebhookRoutes(r chi.Router) {
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/", s.CreateWebhook)
		r.Get("/", s.ListWebhooks)
		r.Get("/{webhookID}", s.GetWebhook)
		r.Put("/{webhookID}", s.UpdateWebhook)
		r.Delete("/{webhookID}", s.DeleteWebhook)
		r.Post("/{webhookID}/test", s.TestWebhook)
		r.Get("/{webhookID}/health", s.WebhookHealth)
		r.Get("/{webhookID}/deliveries", s.ListDeliveries)
	})
	r.Post("/api/deliveries/{deliveryID}/resend", s.ResendDelivery)
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Server) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var wh webhook.Webhook
	if err := decode(w, r, &wh); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validWebhookURL(wh.URL) {
		Error(w, http.StatusBadRequest, "url must be a valid http(s) URL")
		return
	}
	if len(wh.Triggers) == 0 {
		Error(w, http.StatusBadRequest, "at least one trigger is required")
		return
	}
	if wh.ID == "" {
		wh.ID = ulid.Make().String()
	}
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.CreateWebhook(r.Context(), &wh); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, wh)
}

func (s *Server) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.repo.ListWebhooks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks})
}

func (s *Server) GetWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := s.repo.GetWebhook(r.Context(), chi.URLParam(r, "webhookID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if wh == nil {
		Error(w, http.StatusNotFound, "webhook not found")
		return
	}
	JSON(w, http.StatusOK, wh)
}

func (s *Server) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")
	existing, err := s.repo.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		Error(w, http.StatusNotFound, "webhook not found")
		return
	}

	var wh webhook.Webhook
	if err := decode(w, r, &wh); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validWebhookURL(wh.URL) {
		Error(w, http.StatusBadRequest, "url must be a valid http(s) URL")
		return
	}

	wh.ID = id
	wh.CreatedAt = existing.CreatedAt
	wh.TotalDeliveries = existing.TotalDeliveries
	wh.LastDeliveryStatus = existing.LastDeliveryStatus

	if err := s.repo.UpdateWebhook(r.Context(), &wh); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, wh)
}

func (s *Server) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteWebhook(r.Context(), chi.URLParam(r, "webhookID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) TestWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.SendTest(r.Context(), chi.URLParam(r, "webhookID")); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) WebhookHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")
	wh, err := s.repo.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if wh == nil {
		Error(w, http.StatusNotFound, "webhook not found")
		return
	}

	health, err := s.dispatcher.Health(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"webhookId":          id,
		"health":             health,
		"totalDeliveries":    wh.TotalDeliveries,
		"lastDeliveryStatus": wh.LastDeliveryStatus,
	})
}

func (s *Server) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	deliveries, err := s.repo.ListDeliveries(r.Context(), chi.URLParam(r, "webhookID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

func (s *Server) ResendDelivery(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Resend(r.Context(), chi.URLParam(r, "deliveryID")); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
