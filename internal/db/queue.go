package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// QueueRepository persists recomputation queue entries. The queue is the
// durable record; any job transport on top of it is best-effort.
type QueueRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *DB, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{
		db:     db,
		logger: logger,
	}
}

const queueColumns = `id, entity_type, entity_id, reason, priority, status,
	attempts, last_attempt_at, completed_at, error_message, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.Reason, &e.Priority, &e.Status,
		&e.Attempts, &e.LastAttemptAt, &e.CompletedAt, &e.ErrorMessage,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindActive returns the non-terminal entry for an entity, or (nil, nil) if
// none exists. At most one can exist by construction.
func (r *QueueRepository) FindActive(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*QueueEntry, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+queueColumns+`
		 FROM eligibility_queue
		 WHERE entity_type = $1 AND entity_id = $2 AND status IN ($3, $4)
		 LIMIT 1`,
		entityType, entityID, QueueStatusPending, QueueStatusProcessing,
	)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active queue entry: %w", err)
	}
	return entry, nil
}

// Create inserts a new pending entry.
func (r *QueueRepository) Create(ctx context.Context, entityType EntityType, entityID uuid.UUID, reason string, priority int) (*QueueEntry, error) {
	row := r.db.Pool().QueryRow(ctx,
		`INSERT INTO eligibility_queue (id, entity_type, entity_id, reason, priority, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+queueColumns,
		uuid.New(), entityType, entityID, reason, priority, QueueStatusPending,
	)
	entry, err := scanQueueEntry(row)
	if err != nil {
		return nil, fmt.Errorf("create queue entry: %w", err)
	}

	r.logger.Info("queue entry created",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID.String()),
		zap.String("reason", reason),
		zap.Int("priority", priority),
	)

	return entry, nil
}

// Upgrade raises an existing entry's priority and refreshes its reason.
// Priority never goes down on re-enqueue.
func (r *QueueRepository) Upgrade(ctx context.Context, id uuid.UUID, priority int, reason string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE eligibility_queue
		 SET priority = $1, reason = $2, updated_at = NOW()
		 WHERE id = $3`,
		priority, reason, id,
	)
	if err != nil {
		return fmt.Errorf("upgrade queue entry: %w", err)
	}
	return nil
}

// ListPending returns pending entries in drain order: highest priority first,
// oldest first within a priority.
func (r *QueueRepository) ListPending(ctx context.Context, limit int) ([]*QueueEntry, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+queueColumns+`
		 FROM eligibility_queue
		 WHERE status = $1
		 ORDER BY priority DESC, created_at ASC
		 LIMIT $2`,
		QueueStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	return collectQueueEntries(rows)
}

// ListByStatus returns entries with a given status, newest first. Used by the
// introspection API.
func (r *QueueRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*QueueEntry, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+queueColumns+`
		 FROM eligibility_queue
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries by status: %w", err)
	}
	defer rows.Close()

	return collectQueueEntries(rows)
}

// CountPending returns the pending entry count for the queue depth gauge.
func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM eligibility_queue WHERE status = $1`,
		QueueStatusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return count, nil
}

// MarkProcessing moves an entry to processing and counts the attempt.
func (r *QueueRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE eligibility_queue
		 SET status = $1, attempts = attempts + 1, last_attempt_at = NOW(), updated_at = NOW()
		 WHERE id = $2`,
		QueueStatusProcessing, id,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted moves the entity's processing entry to completed.
func (r *QueueRepository) MarkCompleted(ctx context.Context, entityType EntityType, entityID uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE eligibility_queue
		 SET status = $1, completed_at = NOW(), error_message = NULL, updated_at = NOW()
		 WHERE entity_type = $2 AND entity_id = $3 AND status = $4`,
		QueueStatusCompleted, entityType, entityID, QueueStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt for the entity's processing entry.
// Entries with attempts still below the cap go back to pending for another
// try; the rest land in the terminal failed state.
func (r *QueueRepository) MarkFailed(ctx context.Context, entityType EntityType, entityID uuid.UUID, errMsg string, maxAttempts int) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE eligibility_queue
		 SET status = CASE WHEN attempts >= $1 THEN $2 ELSE $3 END,
		     error_message = $4, updated_at = NOW()
		 WHERE entity_type = $5 AND entity_id = $6 AND status = $7`,
		maxAttempts, QueueStatusFailed, QueueStatusPending,
		errMsg, entityType, entityID, QueueStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	if result.RowsAffected() > 0 {
		r.logger.Warn("queue entry attempt failed",
			zap.String("entity_type", string(entityType)),
			zap.String("entity_id", entityID.String()),
			zap.String("error", errMsg),
		)
	}

	return nil
}

// DeleteCompletedBefore prunes completed entries older than the cutoff.
func (r *QueueRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM eligibility_queue
		 WHERE status = $1 AND completed_at < $2`,
		QueueStatusCompleted, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete completed entries: %w", err)
	}
	return result.RowsAffected(), nil
}

func collectQueueEntries(rows pgx.Rows) ([]*QueueEntry, error) {
	var entries []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Reason, &e.Priority, &e.Status,
			&e.Attempts, &e.LastAttemptAt, &e.CompletedAt, &e.ErrorMessage,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}
