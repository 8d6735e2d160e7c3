// Package alert pushes operator notifications when webhook delivery health
// degrades past the critical threshold.
package alert

import (
	"context"
	"log/slog"
)

// Notifier delivers a single operator alert. Implementations must not block
// session or delivery progression on a slow sink.
type Notifier interface {
	Notify(ctx context.Context, message string)
	Name() string
}

// Multi fans one alert out to every configured sink.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) Notify(ctx context.Context, message string) {
	for _, sink := range m.sinks {
		sink.Notify(ctx, message)
	}
}

// Log is the always-available sink writing alerts to the structured log.
type Log struct{}

func (Log) Name() string {
	return "log"
}

func (Log) Notify(_ context.Context, message string) {
	slog.Error("ALERT", "message", message)
}
