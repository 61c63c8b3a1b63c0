package eligibility

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"offer-eligibility-engine/internal/db"
)

// Job is one recompute request in flight between enqueue and a worker. The
// durable record is the queue table; jobs are delivery hints and may be
// lost or duplicated.
type Job struct {
	EntityType db.EntityType `json:"entity_type"`
	EntityID   uuid.UUID     `json:"entity_id"`
	Reason     string        `json:"reason"`
	Priority   int           `json:"priority"`
}

// Transport carries jobs from the enqueue path to the worker pool.
type Transport interface {
	Dispatch(ctx context.Context, job Job) error
}

// ErrTransportFull is returned when the in-process transport buffer is
// saturated. The periodic drain re-dispatches the entry later.
var ErrTransportFull = errors.New("transport buffer full")

// LocalTransport is the single-node transport: a buffered channel between
// the enqueue path and the worker pool. Used when no SQS queue is
// configured.
type LocalTransport struct {
	jobs chan Job
}

// NewLocalTransport creates an in-process transport with the given buffer.
func NewLocalTransport(buffer int) *LocalTransport {
	return &LocalTransport{
		jobs: make(chan Job, buffer),
	}
}

// Dispatch hands a job to the worker pool without blocking.
func (t *LocalTransport) Dispatch(ctx context.Context, job Job) error {
	select {
	case t.jobs <- job:
		return nil
	default:
		return ErrTransportFull
	}
}

// Receive blocks until a job is available or the context ends.
func (t *LocalTransport) Receive(ctx context.Context) (Job, error) {
	select {
	case job := <-t.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
