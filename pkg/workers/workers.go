package workers

import (
	"context"
	"log/slog"
	"time"

	dkeysworker "dkey-backend/pkg/workers/dkeys"
	sessionsworker "dkey-backend/pkg/workers/sessions"
)

type workerFunc = func(ctx context.Context) (interval time.Duration, err error)

type worker struct {
	dkeys    dkeysworker.Worker
	sessions sessionsworker.Worker
	logger   *slog.Logger
}

type Workers interface {
	Start(ctx context.Context) (err error)
}

func (w *worker) Start(ctx context.Context) (err error) {
	go w.run(ctx, "SyncReceivedDkeys", w.dkeys.SyncReceivedDkeys)
	go w.run(ctx, "DiscardStaleSessions", w.sessions.DiscardStaleSessions)

	return nil
}

func (w *worker) run(ctx context.Context, name string, f workerFunc) {
	logger := w.logger.With(slog.String("run_worker", name))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			interval, err := f(ctx)
			if err != nil {
				logger.Error(err.Error())
			}
			if interval <= 0 {
				interval = time.Second
			}
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

func NewWorkers(
	dkeys dkeysworker.Worker,
	sessions sessionsworker.Worker,
	logger *slog.Logger,
) Workers {
	return &worker{
		dkeys:    dkeys,
		sessions: sessions,
		logger:   logger,
	}
}
