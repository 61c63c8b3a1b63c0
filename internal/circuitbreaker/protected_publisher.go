package circuitbreaker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
)

// Publisher mirrors the materializer's event publisher interface to avoid
// circular imports.
type Publisher interface {
	PublishRecomputed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error
	PublishInvalidated(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error
}

// ProtectedPublisher wraps an event publisher with a CircuitBreaker so a
// dead topic fails fast instead of adding a timeout to every recompute.
type ProtectedPublisher struct {
	publisher Publisher
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewProtectedPublisher wraps a publisher with circuit breaker protection.
func NewProtectedPublisher(publisher Publisher, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedPublisher {
	return &ProtectedPublisher{
		publisher: publisher,
		breaker:   breaker,
		logger:    logger,
	}
}

// PublishRecomputed publishes through the breaker, failing fast when open.
func (p *ProtectedPublisher) PublishRecomputed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error {
	return p.guarded(entityID, func() error {
		return p.publisher.PublishRecomputed(ctx, entityType, entityID, rows)
	})
}

// PublishInvalidated publishes through the breaker, failing fast when open.
func (p *ProtectedPublisher) PublishInvalidated(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error {
	return p.guarded(entityID, func() error {
		return p.publisher.PublishInvalidated(ctx, entityType, entityID)
	})
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedPublisher) Breaker() *CircuitBreaker {
	return p.breaker
}

func (p *ProtectedPublisher) guarded(entityID uuid.UUID, publish func() error) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected publish",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("entity_id", entityID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s publisher unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := publish(); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}
