package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/eligibility"
)

func TestPool_ProcessesJobs(t *testing.T) {
	transport := eligibility.NewLocalTransport(8)

	var mu sync.Mutex
	var handled []uuid.UUID
	done := make(chan struct{}, 3)

	handler := func(ctx context.Context, job eligibility.Job) error {
		mu.Lock()
		handled = append(handled, job.EntityID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := New(transport, handler, 2, zap.NewNop())
	pool.Start(ctx)

	want := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		job := eligibility.Job{EntityType: db.EntityCashbackConfig, EntityID: uuid.New()}
		want[job.EntityID] = true
		if err := transport.Dispatch(ctx, job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 3 {
		t.Fatalf("expected 3 handled jobs, got %d", len(handled))
	}
	for _, id := range handled {
		if !want[id] {
			t.Errorf("unexpected job %s", id)
		}
	}
}

func TestPool_StopsOnContextCancel(t *testing.T) {
	transport := eligibility.NewLocalTransport(1)

	handler := func(ctx context.Context, job eligibility.Job) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	pool := New(transport, handler, 3, zap.NewNop())
	pool.Start(ctx)

	cancel()

	stopped := make(chan struct{})
	go func() {
		pool.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit on context cancel")
	}
}

func TestNew_DefaultsToOneWorker(t *testing.T) {
	pool := New(eligibility.NewLocalTransport(1), func(ctx context.Context, job eligibility.Job) error { return nil }, 0, zap.NewNop())
	if pool.count != 1 {
		t.Errorf("expected 1 worker, got %d", pool.count)
	}
}
