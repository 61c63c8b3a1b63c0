package eligibility

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
)

// CustomerSource provides the user-ID sets the resolver unions over.
type CustomerSource interface {
	AllUserIDs(ctx context.Context) ([]uuid.UUID, error)
	MerchantUserIDs(ctx context.Context, merchantID uuid.UUID) ([]uuid.UUID, error)
	UserIDsByTypes(ctx context.Context, merchantID uuid.UUID, types []string) ([]uuid.UUID, error)
}

// Resolver turns a merchant plus a customer-type spec into the set of user
// IDs an offer targets.
type Resolver struct {
	customers CustomerSource
	logger    *zap.Logger
}

// NewResolver creates a new customer resolver.
func NewResolver(customers CustomerSource, logger *zap.Logger) *Resolver {
	return &Resolver{
		customers: customers,
		logger:    logger,
	}
}

// ResolveUsers unions the user sets named by the type spec. "All" matches
// every known user globally and short-circuits the rest. "NonCustomer"
// matches users with no relationship to the merchant. Concrete types match
// users holding that relationship. Duplicates collapse; an empty or
// unrecognized spec resolves to nobody.
func (r *Resolver) ResolveUsers(ctx context.Context, merchantID uuid.UUID, typeSpec []string) ([]uuid.UUID, error) {
	var concrete []string
	nonCustomer := false

	for _, t := range typeSpec {
		switch t {
		case db.CustomerTokenAll:
			ids, err := r.customers.AllUserIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve all users: %w", err)
			}
			return ids, nil
		case string(db.CustomerNonCustomer):
			nonCustomer = true
		default:
			concrete = append(concrete, t)
		}
	}

	seen := make(map[uuid.UUID]struct{})
	var result []uuid.UUID
	add := func(ids []uuid.UUID) {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				result = append(result, id)
			}
		}
	}

	if nonCustomer {
		all, err := r.customers.AllUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve non-customers: %w", err)
		}
		known, err := r.customers.MerchantUserIDs(ctx, merchantID)
		if err != nil {
			return nil, fmt.Errorf("resolve merchant users: %w", err)
		}
		knownSet := make(map[uuid.UUID]struct{}, len(known))
		for _, id := range known {
			knownSet[id] = struct{}{}
		}
		var outsiders []uuid.UUID
		for _, id := range all {
			if _, ok := knownSet[id]; !ok {
				outsiders = append(outsiders, id)
			}
		}
		add(outsiders)
	}

	if len(concrete) > 0 {
		ids, err := r.customers.UserIDsByTypes(ctx, merchantID, concrete)
		if err != nil {
			return nil, fmt.Errorf("resolve users by type: %w", err)
		}
		add(ids)
	}

	return result, nil
}
