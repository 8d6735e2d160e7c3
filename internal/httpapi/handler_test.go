package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/completion"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/extract"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/internal/webhook"
)

type noModelRouter struct{}

func (noModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return nil, context.Canceled
}

func (noModelRouter) RouteStream(ctx context.Context, model string, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	return nil, context.Canceled
}

func (noModelRouter) ListModels() []string { return nil }

func (noModelRouter) Health(ctx context.Context) error { return nil }

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine := validate.NewEngine(repo)
	tracker := completion.NewTracker(engine)
	coordinator := extract.NewCoordinator(nil, extract.NewPatternExtractor(), config.ExtractionConfig{})
	bus := session.NewBus(64)
	machine := session.NewMachine(repo, coordinator, engine, tracker, bus)
	controller := stream.NewController(noModelRouter{}, machine, "test-model")

	dispatcher, err := webhook.NewDispatcher(repo, repo, bus.Subscribe(), config.WebhookConfig{})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(repo, machine, dispatcher, controller, tracker).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

func leadCaptureSchema() map[string]interface{} {
	return map[string]interface{}{
		"id":   "lead-capture",
		"name": "Lead Capture",
		"fields": []map[string]interface{}{
			{"id": "email", "label": "Email", "type": "email", "required": true},
		},
	}
}

func TestSchemaEndpoints(t *testing.T) {
	srv := newTestAPI(t)

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/schemas", leadCaptureSchema())
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "lead-capture", created["id"])

	status, fetched := doJSON(t, http.MethodGet, srv.URL+"/api/schemas/lead-capture", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Lead Capture", fetched["name"])

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/schemas/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/schemas", map[string]interface{}{
		"id":     "broken",
		"fields": []map[string]interface{}{{"id": "x", "type": "hologram"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSessionFlow(t *testing.T) {
	srv := newTestAPI(t)
	doJSON(t, http.MethodPost, srv.URL+"/api/schemas", leadCaptureSchema())

	status, sess := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]string{"schemaId": "lead-capture"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", sess["status"])
	sessionID := sess["id"].(string)

	status, updated := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+sessionID+"/messages", map[string]string{
		"content": "reach me at dana@example.com",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", updated["status"])
	fields := updated["extractedFields"].(map[string]interface{})
	email := fields["email"].(map[string]interface{})
	assert.Equal(t, "dana@example.com", email["value"])

	status, msgs := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+sessionID+"/messages", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, msgs["messages"], 1)

	// Terminal sessions reject further input.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+sessionID+"/messages", map[string]string{
		"content": "one more thing",
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestSessionErrors(t *testing.T) {
	srv := newTestAPI(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]string{"schemaId": "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAbandonEndpoint(t *testing.T) {
	srv := newTestAPI(t)
	doJSON(t, http.MethodPost, srv.URL+"/api/schemas", leadCaptureSchema())

	_, sess := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]string{"schemaId": "lead-capture"})
	sessionID := sess["id"].(string)

	status, abandoned := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+sessionID+"/abandon", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abandoned", abandoned["status"])

	// Abandoning again is a no-op, not an error.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+sessionID+"/abandon", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRuleEndpoints(t *testing.T) {
	srv := newTestAPI(t)

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]interface{}{
		"formComponent": "lead-capture",
		"fieldName":     "email",
		"ruleType":      "email",
		"enabled":       true,
		"priority":      5,
	})
	require.Equal(t, http.StatusCreated, status)
	ruleID := created["id"].(string)
	require.NotEmpty(t, ruleID)

	status, listed := doJSON(t, http.MethodGet, srv.URL+"/api/rules?form_component=lead-capture", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed["rules"], 1)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]interface{}{"ruleType": "required"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/rules/"+ruleID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/rules/"+ruleID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebhookEndpoints(t *testing.T) {
	srv := newTestAPI(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/webhooks", map[string]interface{}{
		"url":      "not a url",
		"triggers": []string{"session.completed"},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/webhooks", map[string]interface{}{
		"url": "https://example.com/hook",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, created := doJSON(t, http.MethodPost, srv.URL+"/api/webhooks", map[string]interface{}{
		"url":      "https://example.com/hook",
		"triggers": []string{"session.completed"},
		"enabled":  true,
	})
	require.Equal(t, http.StatusCreated, status)
	webhookID := created["id"].(string)

	status, health := doJSON(t, http.MethodGet, srv.URL+"/api/webhooks/"+webhookID+"/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", health["health"])
	assert.Equal(t, float64(0), health["totalDeliveries"])

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/webhooks/"+webhookID+"/test", nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, updated := doJSON(t, http.MethodPut, srv.URL+"/api/webhooks/"+webhookID, map[string]interface{}{
		"url":      "https://example.com/hook-v2",
		"triggers": []string{"session.completed", "session.abandoned"},
		"enabled":  false,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://example.com/hook-v2", updated["url"])
	assert.Equal(t, false, updated["enabled"])
	assert.Len(t, updated["triggers"], 2)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/deliveries/missing/resend", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/webhooks/"+webhookID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/webhooks/"+webhookID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
