// Package retention abandons sessions that sat idle past the configured
// timeout so operators always receive a terminal webhook for every
// conversation.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/session"
)

// SessionStore lists candidates for abandonment.
type SessionStore interface {
	ListIdleSessions(ctx context.Context, inactiveSince time.Time) ([]*session.Session, error)
}

// Abandoner marks a session abandoned. Non-active sessions are a silent
// no-op, which keeps the sweep safe to re-run.
type Abandoner interface {
	Abandon(ctx context.Context, sessionID string) (*session.Session, error)
}

type Sweeper struct {
	store     SessionStore
	abandoner Abandoner

	schedule    string
	idleTimeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

func NewSweeper(store SessionStore, abandoner Abandoner, retCfg config.RetentionConfig, sessCfg config.SessionConfig) (*Sweeper, error) {
	idleTimeout, err := config.DurationOrDefault(sessCfg.IdleTimeout, config.DefaultSessionIdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse session idle timeout: %w", err)
	}

	schedule := retCfg.SweepSchedule
	if schedule == "" {
		schedule = config.DefaultRetentionSweepSchedule
	}

	return &Sweeper{
		store:       store,
		abandoner:   abandoner,
		schedule:    schedule,
		idleTimeout: idleTimeout,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true

	slog.Info("Retention sweeper started", "schedule", s.schedule, "idle_timeout", s.idleTimeout)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		slog.Info("Retention sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep abandons every active session idle past the timeout. Each session
// transitions at most once because Abandon ignores non-active sessions.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.idleTimeout)
	idle, err := s.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed to list idle sessions", "error", err)
		return
	}

	abandoned := 0
	for _, sess := range idle {
		if _, err := s.abandoner.Abandon(ctx, sess.ID); err != nil {
			slog.Warn("Failed to abandon idle session", "session_id", sess.ID, "error", err)
			continue
		}
		abandoned++
	}

	if abandoned > 0 {
		slog.Info("Retention sweep abandoned idle sessions", "count", abandoned, "cutoff", cutoff)
	}
}
