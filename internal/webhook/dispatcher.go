package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parleyhq/parley/internal/concurrency"
	"github.com/parleyhq/parley/internal/config"
	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/session"
)

// Store is the persistence surface the delivery subsystem needs.
type Store interface {
	ListWebhooks(ctx context.Context) ([]*Webhook, error)
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	UpdateWebhook(ctx context.Context, w *Webhook) error
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error)
	LastAttempt(ctx context.Context, webhookID, sessionID, eventType string) (int, error)
}

// SessionSource resolves the current field snapshot for manual resends.
type SessionSource interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
}

// Notifier is told when a webhook's health turns critical.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type job struct {
	webhook  *Webhook
	delivery *Delivery
	payload  Payload
}

// Dispatcher consumes session domain events and fans matching ones out to a
// bounded worker pool performing the HTTP deliveries. Delivery failures are
// recorded and surfaced, never propagated back into session progression.
type Dispatcher struct {
	store    Store
	sessions SessionSource
	sender   *Sender
	health   *HealthScorer
	notifier Notifier

	events <-chan session.Event
	jobs   chan job

	workers         int
	maxAttempts     int
	retryBackoff    time.Duration
	shutdownTimeout time.Duration

	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(store Store, sessions SessionSource, events <-chan session.Event, cfg config.WebhookConfig) (*Dispatcher, error) {
	requestTimeout, err := config.DurationOrDefault(cfg.RequestTimeout, config.DefaultWebhookRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse webhook request timeout: %w", err)
	}

	retryBackoff, err := config.DurationOrDefault(cfg.RetryBackoff, config.DefaultWebhookRetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("parse webhook retry backoff: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultWebhookShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse webhook shutdown timeout: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWebhookWorkers
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultWebhookQueueSize
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultWebhookMaxAttempts
	}

	return &Dispatcher{
		store:           store,
		sessions:        sessions,
		sender:          NewSender(requestTimeout),
		health:          NewHealthScorer(cfg),
		events:          events,
		jobs:            make(chan job, queueSize),
		workers:         workers,
		maxAttempts:     maxAttempts,
		retryBackoff:    retryBackoff,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// SetNotifier wires an operator alert sink for critical webhook health.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return parleyErrors.InvalidInput("dispatcher already started")
	}
	d.started = true
	d.quit = make(chan struct{})

	d.wg.Add(1)
	concurrency.SafeGo(func() {
		defer d.wg.Done()
		d.eventLoop(ctx)
	}, nil)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		concurrency.SafeGo(func() {
			defer d.wg.Done()
			d.workerLoop(ctx)
		}, nil)
	}

	slog.Info("Webhook dispatcher started", "workers", d.workers)
	return nil
}

func (d *Dispatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case evt, ok := <-d.events:
			if !ok {
				return
			}
			d.dispatch(ctx, evt)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, evt session.Event) {
	webhooks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		slog.Error("Failed to list webhooks", "error", err)
		return
	}

	payload := Payload{
		Event:     string(evt.Type),
		SessionID: evt.SessionID,
		Fields:    evt.Fields,
		Timestamp: evt.OccurredAt,
	}

	for _, wh := range webhooks {
		if !wh.Triggered(evt.Type) {
			continue
		}

		if err := d.enqueue(ctx, wh, payload, false); err != nil {
			slog.Warn("Failed to enqueue webhook delivery", "webhook_id", wh.ID, "event", evt.Type, "error", err)
		}
	}
}

// enqueue records the pending Delivery before handing it to a worker. When
// the queue is full the row stays pending in the ledger, where the operator
// can see and resend it; a triggered event never vanishes without a trace.
func (d *Dispatcher) enqueue(ctx context.Context, wh *Webhook, payload Payload, test bool) error {
	lastAttempt, err := d.store.LastAttempt(ctx, wh.ID, payload.SessionID, payload.Event)
	if err != nil {
		slog.Error("Failed to resolve attempt sequence", "webhook_id", wh.ID, "error", err)
		lastAttempt = 0
	}

	delivery := &Delivery{
		ID:        ulid.Make().String(),
		WebhookID: wh.ID,
		SessionID: payload.SessionID,
		EventType: payload.Event,
		Status:    DeliveryPending,
		Attempt:   lastAttempt + 1,
		Test:      test,
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		return parleyErrors.Wrap(err, "record delivery")
	}

	select {
	case d.jobs <- job{webhook: wh, delivery: delivery, payload: payload}:
		return nil
	default:
		slog.Warn("Webhook queue full, delivery left pending", "delivery_id", delivery.ID, "webhook_id", wh.ID)
		return parleyErrors.Transient("webhook queue full")
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		}
	}
}

// deliver runs one Delivery record through its bounded retry loop. The
// pending row already exists, written at enqueue time, so a crash mid-flight
// still leaves a trace the operator can resend.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	delivery := j.delivery

	var httpStatus int
	var sendErr error
	for try := 0; try < d.maxAttempts; try++ {
		if try > 0 {
			delivery.Status = DeliveryRetrying
			if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
				slog.Warn("Failed to mark delivery retrying", "delivery_id", delivery.ID, "error", err)
			}

			select {
			case <-time.After(d.retryBackoff * time.Duration(try)):
			case <-ctx.Done():
				// Finalize with a detached context so the ledger never holds
				// a delivery stuck at retrying after shutdown.
				delivery.Status = DeliveryFailed
				if err := d.store.UpdateDelivery(context.Background(), delivery); err != nil {
					slog.Error("Failed to finalize delivery on shutdown", "delivery_id", delivery.ID, "error", err)
				}
				return
			}
		}

		httpStatus, sendErr = d.sender.Send(ctx, j.webhook.URL, j.payload)
		if sendErr == nil {
			break
		}
		slog.Warn("Webhook delivery attempt failed", "webhook_id", j.webhook.ID, "try", try+1, "status", httpStatus, "error", sendErr)
	}

	delivery.HTTPStatus = httpStatus
	if sendErr == nil {
		delivery.Status = DeliverySuccess
	} else {
		delivery.Status = DeliveryFailed
	}
	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		slog.Error("Failed to finalize delivery", "delivery_id", delivery.ID, "error", err)
	}

	d.updateWebhookStats(ctx, j.webhook.ID, delivery)
}

// updateWebhookStats bumps the webhook's delivery accounting. Test deliveries
// never touch total_deliveries so health scoring stays honest.
func (d *Dispatcher) updateWebhookStats(ctx context.Context, webhookID string, delivery *Delivery) {
	wh, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil || wh == nil {
		slog.Error("Failed to reload webhook for stats", "webhook_id", webhookID, "error", err)
		return
	}

	wh.LastDeliveryStatus = string(delivery.Status)
	if !delivery.Test {
		wh.TotalDeliveries++
	}
	if err := d.store.UpdateWebhook(ctx, wh); err != nil {
		slog.Error("Failed to update webhook stats", "webhook_id", webhookID, "error", err)
		return
	}

	if delivery.Status == DeliveryFailed {
		d.checkHealth(ctx, wh)
	}
}

func (d *Dispatcher) checkHealth(ctx context.Context, wh *Webhook) {
	verdict, err := d.Health(ctx, wh.ID)
	if err != nil {
		return
	}
	if verdict == HealthCritical && d.notifier != nil {
		d.notifier.Notify(ctx, fmt.Sprintf("webhook %s (%s) is critical: recent deliveries mostly failing", wh.ID, wh.URL))
	}
}

// Health scores a webhook from its recent delivery outcomes.
func (d *Dispatcher) Health(ctx context.Context, webhookID string) (Health, error) {
	deliveries, err := d.store.ListDeliveries(ctx, webhookID, d.health.Window())
	if err != nil {
		return "", parleyErrors.Wrap(err, "list deliveries")
	}
	return d.health.Score(deliveries), nil
}

// Resend creates a fresh Delivery attempt for the same webhook and session,
// independent of automatic retry. The payload carries the session's current
// field snapshot.
func (d *Dispatcher) Resend(ctx context.Context, deliveryID string) error {
	delivery, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return parleyErrors.Wrap(err, "load delivery")
	}
	if delivery == nil {
		return parleyErrors.NotFound(fmt.Sprintf("delivery %s", deliveryID))
	}

	wh, err := d.store.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		return parleyErrors.Wrap(err, "load webhook")
	}
	if wh == nil {
		return parleyErrors.NotFound(fmt.Sprintf("webhook %s", delivery.WebhookID))
	}

	sess, err := d.sessions.GetSession(ctx, delivery.SessionID)
	if err != nil {
		return parleyErrors.Wrap(err, "load session")
	}
	if sess == nil {
		return parleyErrors.NotFound(fmt.Sprintf("session %s", delivery.SessionID))
	}

	payload := Payload{
		Event:     delivery.EventType,
		SessionID: delivery.SessionID,
		Fields:    sess.FieldSnapshot(),
		Timestamp: time.Now().UTC(),
	}

	return d.enqueue(ctx, wh, payload, false)
}

// SendTest enqueues a non-triggering test delivery with a sample payload.
func (d *Dispatcher) SendTest(ctx context.Context, webhookID string) error {
	wh, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return parleyErrors.Wrap(err, "load webhook")
	}
	if wh == nil {
		return parleyErrors.NotFound(fmt.Sprintf("webhook %s", webhookID))
	}

	payload := Payload{
		Event:     "webhook.test",
		SessionID: "test-session",
		Fields:    map[string]string{"sample": "value"},
		Timestamp: time.Now().UTC(),
	}

	return d.enqueue(ctx, wh, payload, true)
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	close(d.quit)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Webhook dispatcher stopped")
		d.started = false
		return nil
	case <-time.After(d.shutdownTimeout):
		slog.Warn("Webhook dispatcher shutdown timeout")
		d.started = false
		return parleyErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
