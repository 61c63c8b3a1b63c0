package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"offer-eligibility-engine/internal/db"
)

func TestLocalTransport_DispatchReceive(t *testing.T) {
	tr := NewLocalTransport(4)
	job := Job{EntityType: db.EntityCashbackConfig, EntityID: uuid.New(), Priority: PriorityHigh}

	if err := tr.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := tr.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EntityID != job.EntityID || got.Priority != job.Priority {
		t.Errorf("expected %+v, got %+v", job, got)
	}
}

func TestLocalTransport_FullBuffer(t *testing.T) {
	tr := NewLocalTransport(1)

	if err := tr.Dispatch(context.Background(), Job{EntityID: uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := tr.Dispatch(context.Background(), Job{EntityID: uuid.New()})
	if !errors.Is(err, ErrTransportFull) {
		t.Errorf("expected ErrTransportFull, got %v", err)
	}
}

func TestLocalTransport_ReceiveHonorsContext(t *testing.T) {
	tr := NewLocalTransport(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
