// Package store persists sessions, messages, schemas, validation rules,
// webhooks and delivery records. The engine tolerates partial writes across
// entities and reconciles via status fields; no cross-entity transactions are
// assumed.
package store

import (
	"context"
	"time"

	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/internal/webhook"
)

// Repository is the persistence contract consumed by the engine.
type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	// Schemas
	PutSchema(ctx context.Context, s *schema.Schema) error
	GetSchema(ctx context.Context, id string) (*schema.Schema, error)

	// Sessions
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	UpdateSession(ctx context.Context, s *session.Session) error
	ListSessions(ctx context.Context, status session.Status) ([]*session.Session, error)
	ListIdleSessions(ctx context.Context, inactiveSince time.Time) ([]*session.Session, error)

	// Messages
	AppendMessage(ctx context.Context, m *session.Message) error
	GetMessage(ctx context.Context, id string) (*session.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]session.Message, error)

	// Validation rules
	CreateRule(ctx context.Context, r *validate.Rule) error
	GetRule(ctx context.Context, id string) (*validate.Rule, error)
	UpdateRule(ctx context.Context, r *validate.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]validate.Rule, error)
	RulesFor(ctx context.Context, formComponent string) ([]validate.Rule, error)

	// Webhooks
	CreateWebhook(ctx context.Context, w *webhook.Webhook) error
	GetWebhook(ctx context.Context, id string) (*webhook.Webhook, error)
	UpdateWebhook(ctx context.Context, w *webhook.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context) ([]*webhook.Webhook, error)

	// Deliveries
	CreateDelivery(ctx context.Context, d *webhook.Delivery) error
	UpdateDelivery(ctx context.Context, d *webhook.Delivery) error
	GetDelivery(ctx context.Context, id string) (*webhook.Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error)
	LastAttempt(ctx context.Context, webhookID, sessionID, eventType string) (int, error)
}
