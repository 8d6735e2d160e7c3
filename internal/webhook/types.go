// Package webhook delivers session domain events to external endpoints and
// keeps the delivery ledger operators act on.
package webhook

import (
	"time"

	"github.com/parleyhq/parley/internal/session"
)

// Webhook is one configured endpoint subscription.
type Webhook struct {
	ID                 string   `json:"id"`
	AgentID            string   `json:"agentId"`
	URL                string   `json:"url"`
	Triggers           []string `json:"triggers"`
	Enabled            bool     `json:"enabled"`
	LastDeliveryStatus string   `json:"lastDeliveryStatus,omitempty"`
	TotalDeliveries    int      `json:"totalDeliveries"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Triggered reports whether the webhook subscribes to the event type.
func (w *Webhook) Triggered(eventType session.EventType) bool {
	if !w.Enabled {
		return false
	}
	for _, t := range w.Triggers {
		if t == string(eventType) {
			return true
		}
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Delivery is one attempt record. Append-only: a resend creates a new row
// rather than mutating history.
type Delivery struct {
	ID         string         `json:"id"`
	WebhookID  string         `json:"webhookId"`
	SessionID  string         `json:"sessionId"`
	EventType  string         `json:"eventType"`
	Status     DeliveryStatus `json:"status"`
	HTTPStatus int            `json:"httpStatus,omitempty"`
	Attempt    int            `json:"attempt"`
	Test       bool           `json:"test"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Payload is the canonical body POSTed to webhook endpoints.
type Payload struct {
	Event     string            `json:"event"`
	SessionID string            `json:"sessionId"`
	Fields    map[string]string `json:"fields"`
	Timestamp time.Time         `json:"timestamp"`
}

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)
