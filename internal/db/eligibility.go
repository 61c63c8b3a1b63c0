package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EligibilityRepository handles database operations for materialized
// eligibility rows.
type EligibilityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEligibilityRepository creates a new eligibility row repository.
func NewEligibilityRepository(db *DB, logger *zap.Logger) *EligibilityRepository {
	return &EligibilityRepository{
		db:     db,
		logger: logger,
	}
}

// DeleteForOffer removes every materialized row for one offer. The
// materializer calls this before re-inserting so no stale rows survive a
// rule change.
func (r *EligibilityRepository) DeleteForOffer(ctx context.Context, offerType OfferType, offerID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM user_offer_eligibility WHERE offer_type = $1 AND offer_id = $2`,
		offerType, offerID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete eligibility rows: %w", err)
	}
	return result.RowsAffected(), nil
}

// InsertBatch inserts eligibility rows, silently skipping duplicate keys so
// redundant recomputes stay idempotent. Callers bound the batch size.
func (r *EligibilityRepository) InsertBatch(ctx context.Context, rows []EligibilityRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO user_offer_eligibility (
			user_id, outlet_id, offer_type, offer_id, merchant_id,
			merchant_name, merchant_category, outlet_name,
			valid_from, valid_until, is_active, has_budget_remaining,
			min_percentage, max_percentage, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id, outlet_id, offer_type, offer_id) DO NOTHING
	`
	for _, row := range rows {
		batch.Queue(query,
			row.UserID, row.OutletID, row.OfferType, row.OfferID, row.MerchantID,
			row.MerchantName, row.MerchantCategory, row.OutletName,
			row.ValidFrom, row.ValidUntil, row.IsActive, row.HasBudgetRemaining,
			row.MinPercentage, row.MaxPercentage, row.ComputedAt,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert eligibility batch: %w", err)
		}
		inserted += tag.RowsAffected()
	}

	return inserted, nil
}

// InvalidateForOffer flips every row for one offer to inactive. Rows are
// retained for the cleanup retention window, not deleted.
func (r *EligibilityRepository) InvalidateForOffer(ctx context.Context, offerType OfferType, offerID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE user_offer_eligibility
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE offer_type = $1 AND offer_id = $2`,
		offerType, offerID,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate eligibility rows: %w", err)
	}

	r.logger.Info("eligibility rows invalidated",
		zap.String("offer_type", string(offerType)),
		zap.String("offer_id", offerID.String()),
		zap.Int64("rows", result.RowsAffected()),
	)

	return result.RowsAffected(), nil
}

// InvalidateForUserMerchant flips every row a user holds with one merchant
// to inactive. Used when a customer-type relationship changes, ahead of the
// merchant-wide recompute.
func (r *EligibilityRepository) InvalidateForUserMerchant(ctx context.Context, userID, merchantID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE user_offer_eligibility
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE user_id = $1 AND merchant_id = $2`,
		userID, merchantID,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate user eligibility: %w", err)
	}
	return result.RowsAffected(), nil
}

// MarkBudgetExhausted flips every row for one offer to budget-exhausted and
// inactive.
func (r *EligibilityRepository) MarkBudgetExhausted(ctx context.Context, offerType OfferType, offerID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE user_offer_eligibility
		 SET has_budget_remaining = FALSE, is_active = FALSE, updated_at = NOW()
		 WHERE offer_type = $1 AND offer_id = $2`,
		offerType, offerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark budget exhausted: %w", err)
	}
	return result.RowsAffected(), nil
}

// ExpireOutdated deactivates rows of windowed offer types whose validity
// window has passed. Loyalty rows carry no end date and are untouched.
func (r *EligibilityRepository) ExpireOutdated(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE user_offer_eligibility
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE offer_type IN ($1, $2)
		   AND is_active = TRUE
		   AND valid_until IS NOT NULL
		   AND valid_until < $3`,
		OfferTypeExclusive, OfferTypeCashback, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire outdated rows: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteInactiveBefore prunes rows that have sat inactive since before the
// cutoff (the 90-day retention window).
func (r *EligibilityRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM user_offer_eligibility
		 WHERE is_active = FALSE AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune inactive rows: %w", err)
	}
	return result.RowsAffected(), nil
}

// Filter narrows the read-path eligibility scan. Zero values mean "no
// constraint" except UserID and Now, which are always applied.
type Filter struct {
	UserID        uuid.UUID
	Now           time.Time
	OfferType     OfferType // optional: restrict to one variant
	Category      string    // optional: exact merchant category
	Search        string    // optional: substring on merchant/outlet name
	MinPercentage *float64  // optional: cashback range filter lower bound
	MaxPercentage *float64  // optional: cashback range filter upper bound
}

func (f Filter) whereClause() (string, []any) {
	conds := []string{
		"user_id = $1",
		"is_active = TRUE",
		"has_budget_remaining = TRUE",
		"valid_from <= $2",
		"(valid_until IS NULL OR valid_until >= $2)",
	}
	args := []any{f.UserID, f.Now}

	next := func() int { return len(args) + 1 }

	if f.OfferType != "" {
		conds = append(conds, fmt.Sprintf("offer_type = $%d", next()))
		args = append(args, f.OfferType)
	}
	if f.Category != "" {
		conds = append(conds, fmt.Sprintf("merchant_category = $%d", next()))
		args = append(args, f.Category)
	}
	if f.Search != "" {
		conds = append(conds, fmt.Sprintf("(merchant_name ILIKE $%d OR outlet_name ILIKE $%d)", next(), next()+1))
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if f.MinPercentage != nil || f.MaxPercentage != nil {
		conds = append(conds, fmt.Sprintf("offer_type = $%d", next()))
		args = append(args, OfferTypeCashback)
		if f.MinPercentage != nil {
			conds = append(conds, fmt.Sprintf("max_percentage >= $%d", next()))
			args = append(args, *f.MinPercentage)
		}
		if f.MaxPercentage != nil {
			conds = append(conds, fmt.Sprintf("min_percentage <= $%d", next()))
			args = append(args, *f.MaxPercentage)
		}
	}

	return strings.Join(conds, " AND "), args
}

// escapeLike neutralizes LIKE metacharacters so user input matches literally
// inside an ILIKE pattern.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// CountForUser returns the eligibility-row count under the filter, before
// outlet dedup or pagination.
func (r *EligibilityRepository) CountForUser(ctx context.Context, f Filter) (int, error) {
	where, args := f.whereClause()

	var count int
	err := r.db.Pool().QueryRow(ctx,
		"SELECT COUNT(*) FROM user_offer_eligibility WHERE "+where, args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count eligibility rows: %w", err)
	}
	return count, nil
}

// CountActiveForUser returns the user's raw active-row count, ignoring all
// filters. Used for read-path diagnostics when a filtered query comes back
// empty.
func (r *EligibilityRepository) CountActiveForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM user_offer_eligibility WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active rows: %w", err)
	}
	return count, nil
}

// OutletRef is one deduplicated page entry: an outlet plus the eligibility
// row that won the dedup for it.
type OutletRef struct {
	OutletID  uuid.UUID
	OfferType OfferType
	OfferID   uuid.UUID
}

// ListOutletPage returns one row per distinct outlet under the filter,
// ordered most-recently-computed first, paginated. Pagination therefore
// walks outlets, not raw rows.
func (r *EligibilityRepository) ListOutletPage(ctx context.Context, f Filter, limit, offset int) ([]OutletRef, error) {
	where, args := f.whereClause()
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT outlet_id, offer_type, offer_id FROM (
			SELECT DISTINCT ON (outlet_id) outlet_id, offer_type, offer_id, computed_at
			FROM user_offer_eligibility
			WHERE %s
			ORDER BY outlet_id, computed_at DESC
		) deduped
		ORDER BY computed_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outlet page: %w", err)
	}
	defer rows.Close()

	var refs []OutletRef
	for rows.Next() {
		var ref OutletRef
		if err := rows.Scan(&ref.OutletID, &ref.OfferType, &ref.OfferID); err != nil {
			return nil, fmt.Errorf("scan outlet ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outlet refs: %w", err)
	}

	return refs, nil
}

// ListOfferRefs returns every (outlet, offer) pair under the filter without
// dedup. The read path uses this to decide which nested offers an outlet
// keeps after filtering.
func (r *EligibilityRepository) ListOfferRefs(ctx context.Context, f Filter) ([]OutletRef, error) {
	where, args := f.whereClause()

	rows, err := r.db.Pool().Query(ctx,
		`SELECT outlet_id, offer_type, offer_id FROM user_offer_eligibility WHERE `+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query offer refs: %w", err)
	}
	defer rows.Close()

	var refs []OutletRef
	for rows.Next() {
		var ref OutletRef
		if err := rows.Scan(&ref.OutletID, &ref.OfferType, &ref.OfferID); err != nil {
			return nil, fmt.Errorf("scan offer ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer refs: %w", err)
	}

	return refs, nil
}

// ListDistinctOfferIDs returns distinct offer ids under the filter. Used for
// the loyalty program listing, which is not outlet-oriented.
func (r *EligibilityRepository) ListDistinctOfferIDs(ctx context.Context, f Filter) ([]uuid.UUID, error) {
	where, args := f.whereClause()

	rows, err := r.db.Pool().Query(ctx,
		`SELECT DISTINCT offer_id FROM user_offer_eligibility WHERE `+where, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query distinct offer ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer ids: %w", err)
	}

	return ids, nil
}
