package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogsRepository records materializer runs for observability.
type LogsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLogsRepository creates a new computation log repository.
func NewLogsRepository(db *DB, logger *zap.Logger) *LogsRepository {
	return &LogsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes one computation log entry.
func (r *LogsRepository) Insert(ctx context.Context, log ComputationLog) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO eligibility_computation_logs
		 (id, entity_type, entity_id, operation, records_affected, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), log.EntityType, log.EntityID, log.Operation,
		log.RecordsAffected, log.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert computation log: %w", err)
	}
	return nil
}

// DeleteBefore prunes log entries older than the cutoff.
func (r *LogsRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM eligibility_computation_logs WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete computation logs: %w", err)
	}
	return result.RowsAffected(), nil
}
