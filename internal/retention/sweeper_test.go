package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/session"
)

type stubSessionStore struct {
	idle []*session.Session
	err  error
}

func (s *stubSessionStore) ListIdleSessions(ctx context.Context, inactiveSince time.Time) ([]*session.Session, error) {
	return s.idle, s.err
}

type stubAbandoner struct {
	abandoned []string
	failOn    string
}

func (a *stubAbandoner) Abandon(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == a.failOn {
		return nil, errors.New("store unavailable")
	}
	a.abandoned = append(a.abandoned, sessionID)
	return &session.Session{ID: sessionID, Status: session.StatusAbandoned}, nil
}

func newTestSweeper(t *testing.T, st *stubSessionStore, a *stubAbandoner) *Sweeper {
	t.Helper()
	s, err := NewSweeper(st, a, config.RetentionConfig{}, config.SessionConfig{IdleTimeout: "30m"})
	require.NoError(t, err)
	return s
}

func TestSweepAbandonsIdleSessions(t *testing.T) {
	st := &stubSessionStore{idle: []*session.Session{{ID: "s1"}, {ID: "s2"}}}
	a := &stubAbandoner{}

	newTestSweeper(t, st, a).Sweep(context.Background())

	assert.Equal(t, []string{"s1", "s2"}, a.abandoned)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	st := &stubSessionStore{idle: []*session.Session{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}}
	a := &stubAbandoner{failOn: "s2"}

	newTestSweeper(t, st, a).Sweep(context.Background())

	assert.Equal(t, []string{"s1", "s3"}, a.abandoned)
}

func TestSweepToleratesListError(t *testing.T) {
	st := &stubSessionStore{err: errors.New("db locked")}
	a := &stubAbandoner{}

	newTestSweeper(t, st, a).Sweep(context.Background())

	assert.Empty(t, a.abandoned)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	s, err := NewSweeper(&stubSessionStore{}, &stubAbandoner{}, config.RetentionConfig{SweepSchedule: "not a cron"}, config.SessionConfig{})
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.Error(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	s := newTestSweeper(t, &stubSessionStore{}, &stubAbandoner{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx))
}
