package notifier

import (
	"context"
	"log/slog"
)

// Notifier delivers a human-readable alert to zero or more channels.
// Delivery is best-effort and fire-and-forget: callers never retry or
// block on failure, and a failed delivery must never surface as an error
// to the supervisor loop.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Slog writes alerts to the supervisor's structured log. It is always
// wired so alerts are never silently lost when no channel is configured.
type Slog struct {
	Log *slog.Logger
}

func (s Slog) Notify(_ context.Context, message string) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("alert", "message", message)
}

// Multi fans one alert out to every configured notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		n.Notify(ctx, message)
	}
}
