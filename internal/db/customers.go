package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CustomersRepository resolves customer-type relationships to user-ID sets.
type CustomersRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCustomersRepository creates a new customers repository.
func NewCustomersRepository(db *DB, logger *zap.Logger) *CustomersRepository {
	return &CustomersRepository{
		db:     db,
		logger: logger,
	}
}

// AllUserIDs returns every user holding a customer-type relationship with
// any merchant. Backs the "All" token and the NonCustomer complement base;
// registered users with no relationship anywhere are outside the audience.
func (r *CustomersRepository) AllUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT DISTINCT user_id FROM customer_types`)
	if err != nil {
		return nil, fmt.Errorf("query all users: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// MerchantUserIDs returns every user with any customer-type relationship to
// the merchant. Backs the NonCustomer complement.
func (r *CustomersRepository) MerchantUserIDs(ctx context.Context, merchantID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT DISTINCT user_id FROM customer_types WHERE merchant_id = $1`,
		merchantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query merchant users: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// UserIDsByTypes returns users holding any of the given customer types with
// the merchant.
func (r *CustomersRepository) UserIDsByTypes(ctx context.Context, merchantID uuid.UUID, types []string) ([]uuid.UUID, error) {
	if len(types) == 0 {
		return nil, nil
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT DISTINCT user_id FROM customer_types
		 WHERE merchant_id = $1 AND type = ANY($2)`,
		merchantID, types,
	)
	if err != nil {
		return nil, fmt.Errorf("query users by types: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}
