package eligibility

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/metrics"
)

// Queue priorities. A re-enqueue can only raise an entry's priority.
const (
	PriorityCritical = 100
	PriorityHigh     = 75
	PriorityMedium   = 50
	PriorityLow      = 25
)

// maxAttempts is the terminal-failure cap per queue entry.
const maxAttempts = 3

// QueueStore persists recomputation queue entries.
type QueueStore interface {
	FindActive(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) (*db.QueueEntry, error)
	Create(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, reason string, priority int) (*db.QueueEntry, error)
	Upgrade(ctx context.Context, id uuid.UUID, priority int, reason string) error
	ListPending(ctx context.Context, limit int) ([]*db.QueueEntry, error)
	CountPending(ctx context.Context) (int, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error
	MarkFailed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, errMsg string, maxAttempts int) error
}

// MerchantOfferLister enumerates a merchant's offer entities.
type MerchantOfferLister interface {
	MerchantEntityRefs(ctx context.Context, merchantID uuid.UUID) ([]db.EntityRef, error)
}

// UserRowInvalidator flips a user's rows with one merchant inactive.
type UserRowInvalidator interface {
	InvalidateForUserMerchant(ctx context.Context, userID, merchantID uuid.UUID) (int64, error)
}

// Recomputer runs one full offer recompute.
type Recomputer interface {
	Recompute(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) (Result, error)
}

// Queue coordinates the durable recomputation queue: dedup on enqueue,
// dispatch to the transport, and the worker-side processing protocol.
type Queue struct {
	entries   QueueStore
	offers    MerchantOfferLister
	rows      UserRowInvalidator
	mat       Recomputer
	transport Transport
	logger    *zap.Logger
}

// NewQueue creates the queue service.
func NewQueue(entries QueueStore, offers MerchantOfferLister, rows UserRowInvalidator, mat Recomputer, transport Transport, logger *zap.Logger) *Queue {
	return &Queue{
		entries:   entries,
		offers:    offers,
		rows:      rows,
		mat:       mat,
		transport: transport,
		logger:    logger,
	}
}

// Enqueue requests a recompute for one offer entity. If a non-terminal entry
// already exists the request collapses into it, raising its priority when
// the new request is more urgent.
func (q *Queue) Enqueue(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, reason string, priority int) (*db.QueueEntry, error) {
	existing, err := q.entries.FindActive(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if priority > existing.Priority {
			if err := q.entries.Upgrade(ctx, existing.ID, priority, reason); err != nil {
				return nil, err
			}
			existing.Priority = priority
			existing.Reason = reason
			metrics.RecordEnqueue("upgraded")
		} else {
			metrics.RecordEnqueue("deduplicated")
		}
		return existing, nil
	}

	entry, err := q.entries.Create(ctx, entityType, entityID, reason, priority)
	if err != nil {
		return nil, err
	}
	metrics.RecordEnqueue("created")

	q.dispatch(ctx, Job{
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		Priority:   priority,
	})

	return entry, nil
}

// EnqueueAllForMerchant queues every offer the merchant owns. Returns how
// many entities were touched.
func (q *Queue) EnqueueAllForMerchant(ctx context.Context, merchantID uuid.UUID, reason string, priority int) (int, error) {
	refs, err := q.offers.MerchantEntityRefs(ctx, merchantID)
	if err != nil {
		return 0, err
	}

	for _, ref := range refs {
		if _, err := q.Enqueue(ctx, ref.EntityType, ref.ID, reason, priority); err != nil {
			return 0, fmt.Errorf("enqueue %s %s: %w", ref.EntityType, ref.ID, err)
		}
	}

	q.logger.Info("merchant offers queued",
		zap.String("merchant_id", merchantID.String()),
		zap.String("reason", reason),
		zap.Int("entities", len(refs)),
	)

	return len(refs), nil
}

// EnqueueForUserChange handles a customer-type change: the user's rows with
// the merchant are invalidated immediately so stale eligibility disappears
// before the merchant-wide recompute catches up.
func (q *Queue) EnqueueForUserChange(ctx context.Context, userID, merchantID uuid.UUID, reason string) error {
	invalidated, err := q.rows.InvalidateForUserMerchant(ctx, userID, merchantID)
	if err != nil {
		return err
	}

	q.logger.Info("user eligibility invalidated",
		zap.String("user_id", userID.String()),
		zap.String("merchant_id", merchantID.String()),
		zap.String("reason", reason),
		zap.Int64("rows", invalidated),
	)

	_, err = q.EnqueueAllForMerchant(ctx, merchantID, reason, PriorityHigh)
	return err
}

// DrainPending re-dispatches pending entries to the transport in priority
// order. This is both the steady-state pump and the recovery path for
// dispatches lost to restarts or a full buffer.
func (q *Queue) DrainPending(ctx context.Context, limit int) (int, error) {
	depth, err := q.entries.CountPending(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetQueueDepth(depth)

	pending, err := q.entries.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, entry := range pending {
		job := Job{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Reason:     entry.Reason,
			Priority:   entry.Priority,
		}
		if err := q.transport.Dispatch(ctx, job); err != nil {
			q.logger.Warn("drain dispatch failed",
				zap.String("entity_type", string(entry.EntityType)),
				zap.String("entity_id", entry.EntityID.String()),
				zap.Error(err),
			)
			break
		}
		dispatched++
	}

	return dispatched, nil
}

// Process handles one job from the transport. Jobs whose entry is no longer
// pending are dropped: either another worker has it or it already finished.
// Failures send the entry back to pending until the attempt cap, then
// terminal failed.
func (q *Queue) Process(ctx context.Context, job Job) error {
	entry, err := q.entries.FindActive(ctx, job.EntityType, job.EntityID)
	if err != nil {
		return err
	}
	if entry == nil || entry.Status != db.QueueStatusPending {
		return nil
	}

	if err := q.entries.MarkProcessing(ctx, entry.ID); err != nil {
		return err
	}

	if _, err := q.mat.Recompute(ctx, job.EntityType, job.EntityID); err != nil {
		if markErr := q.entries.MarkFailed(ctx, job.EntityType, job.EntityID, err.Error(), maxAttempts); markErr != nil {
			q.logger.Error("mark failed errored", zap.Error(markErr))
		}
		return fmt.Errorf("recompute %s %s: %w", job.EntityType, job.EntityID, err)
	}

	return q.entries.MarkCompleted(ctx, job.EntityType, job.EntityID)
}

func (q *Queue) dispatch(ctx context.Context, job Job) {
	if q.transport == nil {
		return
	}
	if err := q.transport.Dispatch(ctx, job); err != nil {
		// Entry stays pending; the periodic drain will retry it.
		q.logger.Warn("job dispatch failed",
			zap.String("entity_type", string(job.EntityType)),
			zap.String("entity_id", job.EntityID.String()),
			zap.Error(err),
		)
	}
}
