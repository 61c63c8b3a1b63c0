package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"offer-eligibility-engine/internal/eligibility"
)

// Source yields jobs for the pool. Receive blocks until a job arrives or
// the context ends.
type Source interface {
	Receive(ctx context.Context) (eligibility.Job, error)
}

// Handler processes one job. Attempt accounting lives in the queue table,
// not here; a returned error just means this delivery did not complete.
type Handler func(ctx context.Context, job eligibility.Job) error

// Pool runs N goroutines consuming jobs from a source.
type Pool struct {
	source  Source
	handler Handler
	count   int
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New creates a worker pool. count defaults to 1 when non-positive.
func New(source Source, handler Handler, count int, logger *zap.Logger) *Pool {
	if count <= 0 {
		count = 1
	}
	return &Pool{
		source:  source,
		handler: handler,
		count:   count,
		logger:  logger,
	}
}

// Start launches the workers. They run until the context ends.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool starting", zap.Int("workers", p.count))

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		job, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("job receive failed",
				zap.Int("worker", id),
				zap.Error(err),
			)
			continue
		}

		if err := p.handler(ctx, job); err != nil {
			p.logger.Error("job processing failed",
				zap.Int("worker", id),
				zap.String("entity_type", string(job.EntityType)),
				zap.String("entity_id", job.EntityID.String()),
				zap.Error(err),
			)
		}
	}
}
