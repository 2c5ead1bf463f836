package sessionsworker

import (
	"context"
	"log/slog"
	"time"
)

type creations interface {
	DiscardExpired(olderThan time.Duration) bool
}

type sessionsWorker struct {
	creations creations
	ttl       time.Duration
	logger    *slog.Logger
}

type Worker interface {
	DiscardStaleSessions(ctx context.Context) (interval time.Duration, err error)
}

// DiscardStaleSessions drops a creation session that has sat untouched past
// its lifetime, typically one abandoned at a paste-wait stage.
func (w *sessionsWorker) DiscardStaleSessions(_ context.Context) (interval time.Duration, err error) {
	const checkInterval = time.Minute

	interval = checkInterval

	if w.creations.DiscardExpired(w.ttl) {
		w.logger.With("worker", "DiscardStaleSessions").Info("discarded stale creation session")
	}

	return
}

func NewWorker(
	creations creations,
	ttl time.Duration,
	logger *slog.Logger,
) Worker {
	return &sessionsWorker{
		creations: creations,
		ttl:       ttl,
		logger:    logger,
	}
}
