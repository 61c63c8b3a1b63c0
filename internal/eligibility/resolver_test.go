package eligibility

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeCustomers struct {
	all      []uuid.UUID
	merchant []uuid.UUID
	byTypes  map[string][]uuid.UUID

	typesAsked []string
}

func (f *fakeCustomers) AllUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return f.all, nil
}

func (f *fakeCustomers) MerchantUserIDs(ctx context.Context, merchantID uuid.UUID) ([]uuid.UUID, error) {
	return f.merchant, nil
}

func (f *fakeCustomers) UserIDsByTypes(ctx context.Context, merchantID uuid.UUID, types []string) ([]uuid.UUID, error) {
	f.typesAsked = types
	var out []uuid.UUID
	for _, t := range types {
		out = append(out, f.byTypes[t]...)
	}
	return out, nil
}

func TestResolveUsers_AllShortCircuits(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	fake := &fakeCustomers{all: []uuid.UUID{u1, u2}}
	r := NewResolver(fake, zap.NewNop())

	got, err := r.ResolveUsers(context.Background(), uuid.New(), []string{"All", "Vip"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected every known user, got %d", len(got))
	}
	if fake.typesAsked != nil {
		t.Error("All should short-circuit concrete type lookups")
	}
}

func TestResolveUsers_NonCustomerComplement(t *testing.T) {
	insider, outsider := uuid.New(), uuid.New()
	fake := &fakeCustomers{
		all:      []uuid.UUID{insider, outsider},
		merchant: []uuid.UUID{insider},
	}
	r := NewResolver(fake, zap.NewNop())

	got, err := r.ResolveUsers(context.Background(), uuid.New(), []string{"NonCustomer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != outsider {
		t.Errorf("expected only the outsider, got %v", got)
	}
}

func TestResolveUsers_UnionDeduplicates(t *testing.T) {
	shared := uuid.New()
	vipOnly := uuid.New()
	outsider := uuid.New()
	fake := &fakeCustomers{
		all:      []uuid.UUID{shared, vipOnly, outsider},
		merchant: []uuid.UUID{shared, vipOnly},
		byTypes: map[string][]uuid.UUID{
			"Vip":     {shared, vipOnly},
			"Regular": {shared},
		},
	}
	r := NewResolver(fake, zap.NewNop())

	got, err := r.ResolveUsers(context.Background(), uuid.New(), []string{"NonCustomer", "Vip", "Regular"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 distinct users, got %d: %v", len(got), got)
	}

	seen := map[uuid.UUID]int{}
	for _, id := range got {
		seen[id]++
	}
	if seen[shared] != 1 {
		t.Errorf("shared user should appear exactly once, got %d", seen[shared])
	}
}

func TestResolveUsers_EmptySpec(t *testing.T) {
	fake := &fakeCustomers{all: []uuid.UUID{uuid.New()}}
	r := NewResolver(fake, zap.NewNop())

	got, err := r.ResolveUsers(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty spec should resolve to nobody, got %v", got)
	}
}
