package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher sends due occurrences through the relay.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// Reconciler flushes unsynced local writes to the remote store.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Scheduler drives the two background duties of the orchestrator: relay
// dispatch of due occurrences and best-effort store reconciliation.
type Scheduler struct {
	dispatcher        Dispatcher
	reconciler        Reconciler
	dispatchInterval  time.Duration
	reconcileInterval time.Duration
	logger            *slog.Logger
}

func New(dispatcher Dispatcher, reconciler Reconciler, dispatchInterval, reconcileInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		dispatcher:        dispatcher,
		reconciler:        reconciler,
		dispatchInterval:  dispatchInterval,
		reconcileInterval: reconcileInterval,
		logger:            logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"dispatch_interval", s.dispatchInterval,
		"reconcile_interval", s.reconcileInterval,
	)

	s.runDispatch(ctx)

	dispatchTicker := time.NewTicker(s.dispatchInterval)
	defer dispatchTicker.Stop()
	reconcileTicker := time.NewTicker(s.reconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-dispatchTicker.C:
			s.runDispatch(ctx)
		case <-reconcileTicker.C:
			s.runReconcile(ctx)
		}
	}
}

func (s *Scheduler) runDispatch(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	n, err := s.dispatcher.DispatchDue(runCtx, time.Now().UTC())
	if err != nil {
		s.logger.Error("dispatch run failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("dispatched due occurrences", "count", n)
	}
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := s.reconciler.Reconcile(runCtx); err != nil {
		s.logger.Error("reconcile run failed", "error", err)
	}
}
