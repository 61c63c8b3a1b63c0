package eligibility

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/metrics"
)

// Scheduler task intervals.
const (
	expireInterval   = 1 * time.Hour
	budgetInterval   = 10 * time.Minute
	activateInterval = 5 * time.Minute
	drainInterval    = 1 * time.Minute
	cleanupInterval  = 24 * time.Hour
	staleInterval    = 24 * time.Hour
)

// Retention windows and batch caps for maintenance tasks.
const (
	completedRetention = 7 * 24 * time.Hour
	logRetention       = 30 * 24 * time.Hour
	inactiveRetention  = 90 * 24 * time.Hour
	staleAfter         = 7 * 24 * time.Hour
	staleBatch         = 100
	drainBatch         = 50
)

// SweepStore provides the offer scans the scheduler runs.
type SweepStore interface {
	ExhaustedEntityRefs(ctx context.Context) ([]db.EntityRef, error)
	NewlyActiveExclusiveOfferIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	StaleEntityRefs(ctx context.Context, cutoff time.Time, limit int) ([]db.EntityRef, error)
}

// MaintenanceRows provides the row-level flips and prunes.
type MaintenanceRows interface {
	ExpireOutdated(ctx context.Context, now time.Time) (int64, error)
	MarkBudgetExhausted(ctx context.Context, offerType db.OfferType, offerID uuid.UUID) (int64, error)
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QueueMaintenance prunes terminal queue entries.
type QueueMaintenance interface {
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogMaintenance prunes computation logs.
type LogMaintenance interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertSender notifies operators of exhausted offer budgets. May be nil.
type AlertSender interface {
	SendBudgetExhausted(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error
}

// Scheduler runs the periodic maintenance tasks. Every task owns its errors:
// a failing sweep logs and waits for its next tick, it never stops the
// scheduler or its siblings.
type Scheduler struct {
	queue  *Queue
	sweeps SweepStore
	rows   MaintenanceRows
	qmaint QueueMaintenance
	lmaint LogMaintenance
	alerts AlertSender
	logger *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewScheduler creates the scheduler. alerts may be nil.
func NewScheduler(queue *Queue, sweeps SweepStore, rows MaintenanceRows, qmaint QueueMaintenance, lmaint LogMaintenance, alerts AlertSender, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queue:  queue,
		sweeps: sweeps,
		rows:   rows,
		qmaint: qmaint,
		lmaint: lmaint,
		alerts: alerts,
		logger: logger,
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches one goroutine per task.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler starting")

	s.spawn(ctx, "expire", expireInterval, s.runExpire)
	s.spawn(ctx, "budget_sweep", budgetInterval, s.runBudgetSweep)
	s.spawn(ctx, "activate_new", activateInterval, s.runActivateNew)
	s.spawn(ctx, "drain", drainInterval, s.runDrain)
	s.spawn(ctx, "cleanup", cleanupInterval, s.runCleanup)
	s.spawn(ctx, "stale_recompute", staleInterval, s.runStaleRecompute)
}

// Stop signals all tasks and waits for them to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, task func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := task(ctx); err != nil {
					metrics.RecordSchedulerRun(name, "error")
					s.logger.Error("scheduler task failed",
						zap.String("task", name),
						zap.Error(err),
					)
				} else {
					metrics.RecordSchedulerRun(name, "ok")
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runExpire deactivates rows whose validity window has passed.
func (s *Scheduler) runExpire(ctx context.Context) error {
	expired, err := s.rows.ExpireOutdated(ctx, s.now())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.logger.Info("expired eligibility rows deactivated", zap.Int64("rows", expired))
	}
	return nil
}

// runBudgetSweep finds offers whose budget ran out between recomputes and
// flips their rows. The used-vs-net comparison is a plain cross-column scan;
// a spend landing mid-sweep is caught on the next pass.
func (s *Scheduler) runBudgetSweep(ctx context.Context) error {
	refs, err := s.sweeps.ExhaustedEntityRefs(ctx)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		rows, err := s.rows.MarkBudgetExhausted(ctx, db.OfferTypeFor(ref.EntityType), ref.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			continue
		}

		s.logger.Info("offer budget exhausted",
			zap.String("entity_type", string(ref.EntityType)),
			zap.String("entity_id", ref.ID.String()),
			zap.Int64("rows", rows),
		)

		if s.alerts != nil {
			if err := s.alerts.SendBudgetExhausted(ctx, ref.EntityType, ref.ID, rows); err != nil {
				s.logger.Warn("budget alert failed", zap.Error(err))
			}
		}
	}

	return nil
}

// runActivateNew queues exclusive offers whose window opened since they were
// last materialized.
func (s *Scheduler) runActivateNew(ctx context.Context) error {
	ids, err := s.sweeps.NewlyActiveExclusiveOfferIDs(ctx, s.now())
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := s.queue.Enqueue(ctx, db.EntityExclusiveOffer, id, "offer window opened", PriorityHigh); err != nil {
			return err
		}
	}

	return nil
}

// runDrain pumps pending queue entries into the transport.
func (s *Scheduler) runDrain(ctx context.Context) error {
	_, err := s.queue.DrainPending(ctx, drainBatch)
	return err
}

// runCleanup prunes terminal queue entries, old computation logs, and rows
// that have sat inactive past retention.
func (s *Scheduler) runCleanup(ctx context.Context) error {
	now := s.now()

	queueDeleted, err := s.qmaint.DeleteCompletedBefore(ctx, now.Add(-completedRetention))
	if err != nil {
		return err
	}

	logsDeleted, err := s.lmaint.DeleteBefore(ctx, now.Add(-logRetention))
	if err != nil {
		return err
	}

	rowsDeleted, err := s.rows.DeleteInactiveBefore(ctx, now.Add(-inactiveRetention))
	if err != nil {
		return err
	}

	s.logger.Info("cleanup completed",
		zap.Int64("queue_entries", queueDeleted),
		zap.Int64("computation_logs", logsDeleted),
		zap.Int64("eligibility_rows", rowsDeleted),
	)

	return nil
}

// runStaleRecompute queues a bounded batch of offers that have not been
// recomputed recently, as a safety net under the event-driven paths.
func (s *Scheduler) runStaleRecompute(ctx context.Context) error {
	refs, err := s.sweeps.StaleEntityRefs(ctx, s.now().Add(-staleAfter), staleBatch)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if _, err := s.queue.Enqueue(ctx, ref.EntityType, ref.ID, "stale recompute", PriorityLow); err != nil {
			return err
		}
	}

	if len(refs) > 0 {
		s.logger.Info("stale offers queued", zap.Int("count", len(refs)))
	}

	return nil
}
