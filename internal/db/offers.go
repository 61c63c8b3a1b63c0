package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EntityRef identifies one offer entity for queueing and sweeps.
type EntityRef struct {
	EntityType EntityType
	ID         uuid.UUID
}

// OffersRepository loads offer entities with their relations pre-filtered to
// active + approved, the only shape the materializer evaluates.
type OffersRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOffersRepository creates a new offers repository.
func NewOffersRepository(db *DB, logger *zap.Logger) *OffersRepository {
	return &OffersRepository{
		db:     db,
		logger: logger,
	}
}

// GetCashbackConfig loads one cashback configuration with its merchant,
// linked outlets, and tiers. Returns (nil, nil) when the id is unknown.
func (r *OffersRepository) GetCashbackConfig(ctx context.Context, id uuid.UUID) (*CashbackConfig, error) {
	var c CashbackConfig
	var m Merchant
	err := r.db.Pool().QueryRow(ctx, `
		SELECT c.id, c.merchant_id, c.is_active, c.deleted_at, c.review_status,
		       c.eligible_customer_types, c.start_date, c.end_date,
		       c.net_budget, c.used_budget, c.eligibility_computed_at, c.updated_at,
		       m.id, m.business_name, m.category, m.status
		FROM cashback_configs c
		JOIN merchants m ON m.id = c.merchant_id
		WHERE c.id = $1`,
		id,
	).Scan(
		&c.ID, &c.MerchantID, &c.IsActive, &c.DeletedAt, &c.ReviewStatus,
		&c.EligibleCustomerTypes, &c.StartDate, &c.EndDate,
		&c.NetBudget, &c.UsedBudget, &c.EligibilityComputedAt, &c.UpdatedAt,
		&m.ID, &m.BusinessName, &m.Category, &m.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cashback config: %w", err)
	}
	c.Merchant = &m

	c.Outlets, err = r.scanOutlets(ctx, `
		SELECT o.id, o.merchant_id, o.name, o.is_active, o.review_status
		FROM outlets o
		JOIN cashback_config_outlets co ON co.outlet_id = o.id
		WHERE co.config_id = $1 AND o.is_active = TRUE AND o.review_status = $2`,
		id, ReviewApproved,
	)
	if err != nil {
		return nil, err
	}

	c.Tiers, err = r.scanCashbackTiers(ctx, id)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// GetExclusiveOffer loads one exclusive offer with its merchant and linked
// outlets. Returns (nil, nil) when the id is unknown.
func (r *OffersRepository) GetExclusiveOffer(ctx context.Context, id uuid.UUID) (*ExclusiveOffer, error) {
	var o ExclusiveOffer
	var m Merchant
	err := r.db.Pool().QueryRow(ctx, `
		SELECT e.id, e.merchant_id, e.is_active, e.deleted_at, e.review_status,
		       e.eligible_customer_types, e.start_date, e.end_date,
		       e.net_budget, e.used_budget, e.eligibility_computed_at, e.updated_at,
		       m.id, m.business_name, m.category, m.status
		FROM exclusive_offers e
		JOIN merchants m ON m.id = e.merchant_id
		WHERE e.id = $1`,
		id,
	).Scan(
		&o.ID, &o.MerchantID, &o.IsActive, &o.DeletedAt, &o.ReviewStatus,
		&o.EligibleCustomerTypes, &o.StartDate, &o.EndDate,
		&o.NetBudget, &o.UsedBudget, &o.EligibilityComputedAt, &o.UpdatedAt,
		&m.ID, &m.BusinessName, &m.Category, &m.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exclusive offer: %w", err)
	}
	o.Merchant = &m

	o.Outlets, err = r.scanOutlets(ctx, `
		SELECT o.id, o.merchant_id, o.name, o.is_active, o.review_status
		FROM outlets o
		JOIN exclusive_offer_outlets eo ON eo.outlet_id = o.id
		WHERE eo.offer_id = $1 AND o.is_active = TRUE AND o.review_status = $2`,
		id, ReviewApproved,
	)
	if err != nil {
		return nil, err
	}

	return &o, nil
}

// GetLoyaltyProgram loads one loyalty program with its merchant, the
// merchant's active outlets, tiers, and rewards. Returns (nil, nil) when the
// id is unknown. Loyalty applies merchant-wide, so outlets come from the
// merchant rather than a link table.
func (r *OffersRepository) GetLoyaltyProgram(ctx context.Context, id uuid.UUID) (*LoyaltyProgram, error) {
	var p LoyaltyProgram
	var m Merchant
	err := r.db.Pool().QueryRow(ctx, `
		SELECT p.id, p.merchant_id, p.is_active, p.review_status,
		       p.points_issued_limit, p.points_used_in_period,
		       p.eligibility_computed_at, p.updated_at,
		       m.id, m.business_name, m.category, m.status
		FROM loyalty_programs p
		JOIN merchants m ON m.id = p.merchant_id
		WHERE p.id = $1`,
		id,
	).Scan(
		&p.ID, &p.MerchantID, &p.IsActive, &p.ReviewStatus,
		&p.PointsIssuedLimit, &p.PointsUsedInPeriod,
		&p.EligibilityComputedAt, &p.UpdatedAt,
		&m.ID, &m.BusinessName, &m.Category, &m.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get loyalty program: %w", err)
	}
	p.Merchant = &m

	p.Outlets, err = r.scanOutlets(ctx, `
		SELECT id, merchant_id, name, is_active, review_status
		FROM outlets
		WHERE merchant_id = $1 AND is_active = TRUE AND review_status = $2`,
		p.MerchantID, ReviewApproved,
	)
	if err != nil {
		return nil, err
	}

	p.Tiers, err = r.scanLoyaltyTiers(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Rewards, err = r.scanLoyaltyRewards(ctx, id)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// StampComputed records when an offer's eligibility was last materialized.
func (r *OffersRepository) StampComputed(ctx context.Context, entityType EntityType, id uuid.UUID, at time.Time) error {
	var table string
	switch entityType {
	case EntityCashbackConfig:
		table = "cashback_configs"
	case EntityExclusiveOffer:
		table = "exclusive_offers"
	case EntityLoyaltyProgram:
		table = "loyalty_programs"
	default:
		return fmt.Errorf("unknown entity type: %s", entityType)
	}

	_, err := r.db.Pool().Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET eligibility_computed_at = $1 WHERE id = $2`, table),
		at, id,
	)
	if err != nil {
		return fmt.Errorf("stamp computed at: %w", err)
	}
	return nil
}

// MerchantEntityRefs lists every offer entity a merchant owns, for
// merchant-wide re-enqueues. Soft-deleted offers are skipped.
func (r *OffersRepository) MerchantEntityRefs(ctx context.Context, merchantID uuid.UUID) ([]EntityRef, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT 'CASHBACK_CONFIG', id FROM cashback_configs
		WHERE merchant_id = $1 AND deleted_at IS NULL
		UNION ALL
		SELECT 'EXCLUSIVE_OFFER', id FROM exclusive_offers
		WHERE merchant_id = $1 AND deleted_at IS NULL
		UNION ALL
		SELECT 'LOYALTY_PROGRAM', id FROM loyalty_programs
		WHERE merchant_id = $1`,
		merchantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query merchant entities: %w", err)
	}
	defer rows.Close()

	return scanEntityRefs(rows)
}

// ExhaustedEntityRefs lists active offers whose budget or points allocation
// is used up.
func (r *OffersRepository) ExhaustedEntityRefs(ctx context.Context) ([]EntityRef, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT 'CASHBACK_CONFIG', id FROM cashback_configs
		WHERE deleted_at IS NULL AND is_active = TRUE AND used_budget >= net_budget
		UNION ALL
		SELECT 'EXCLUSIVE_OFFER', id FROM exclusive_offers
		WHERE deleted_at IS NULL AND is_active = TRUE AND used_budget >= net_budget
		UNION ALL
		SELECT 'LOYALTY_PROGRAM', id FROM loyalty_programs
		WHERE is_active = TRUE
		  AND points_issued_limit IS NOT NULL
		  AND points_used_in_period >= points_issued_limit`,
	)
	if err != nil {
		return nil, fmt.Errorf("query exhausted offers: %w", err)
	}
	defer rows.Close()

	return scanEntityRefs(rows)
}

// NewlyActiveExclusiveOfferIDs lists approved exclusive offers whose window
// has opened but whose eligibility has not been materialized since the window
// started.
func (r *OffersRepository) NewlyActiveExclusiveOfferIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id FROM exclusive_offers
		WHERE deleted_at IS NULL
		  AND is_active = TRUE
		  AND review_status = $1
		  AND start_date <= $2
		  AND end_date >= $2
		  AND (eligibility_computed_at IS NULL OR eligibility_computed_at < start_date)`,
		ReviewApproved, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query newly active offers: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// StaleEntityRefs lists active offers not recomputed since the cutoff,
// oldest first, capped at limit. Never-computed offers sort first.
func (r *OffersRepository) StaleEntityRefs(ctx context.Context, cutoff time.Time, limit int) ([]EntityRef, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT entity_type, id FROM (
			SELECT 'CASHBACK_CONFIG' AS entity_type, id, eligibility_computed_at
			FROM cashback_configs
			WHERE deleted_at IS NULL AND is_active = TRUE AND review_status = $1
			  AND (eligibility_computed_at IS NULL OR eligibility_computed_at < $2)
			UNION ALL
			SELECT 'EXCLUSIVE_OFFER', id, eligibility_computed_at
			FROM exclusive_offers
			WHERE deleted_at IS NULL AND is_active = TRUE AND review_status = $1
			  AND (eligibility_computed_at IS NULL OR eligibility_computed_at < $2)
			UNION ALL
			SELECT 'LOYALTY_PROGRAM', id, eligibility_computed_at
			FROM loyalty_programs
			WHERE is_active = TRUE AND review_status = $1
			  AND (eligibility_computed_at IS NULL OR eligibility_computed_at < $2)
		) stale
		ORDER BY eligibility_computed_at ASC NULLS FIRST
		LIMIT $3`,
		ReviewApproved, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale offers: %w", err)
	}
	defer rows.Close()

	return scanEntityRefs(rows)
}

// OutletDetail is a read-path outlet with its merchant denormalized.
type OutletDetail struct {
	Outlet
	MerchantName     string `json:"merchant_name"`
	MerchantCategory string `json:"merchant_category"`
}

// OutletDetails loads outlets with merchant info for the read path.
func (r *OffersRepository) OutletDetails(ctx context.Context, ids []uuid.UUID) ([]OutletDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT o.id, o.merchant_id, o.name, o.is_active, o.review_status,
		       m.business_name, m.category
		FROM outlets o
		JOIN merchants m ON m.id = o.merchant_id
		WHERE o.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query outlet details: %w", err)
	}
	defer rows.Close()

	var details []OutletDetail
	for rows.Next() {
		var d OutletDetail
		if err := rows.Scan(&d.ID, &d.MerchantID, &d.Name, &d.IsActive, &d.ReviewStatus,
			&d.MerchantName, &d.MerchantCategory); err != nil {
			return nil, fmt.Errorf("scan outlet detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outlet details: %w", err)
	}

	return details, nil
}

// CashbackConfigsByIDs loads cashback configs with their tiers for the read
// path.
func (r *OffersRepository) CashbackConfigsByIDs(ctx context.Context, ids []uuid.UUID) ([]CashbackConfig, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, merchant_id, is_active, deleted_at, review_status,
		       eligible_customer_types, start_date, end_date,
		       net_budget, used_budget, eligibility_computed_at, updated_at
		FROM cashback_configs
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query cashback configs: %w", err)
	}
	defer rows.Close()

	var configs []CashbackConfig
	for rows.Next() {
		var c CashbackConfig
		if err := rows.Scan(&c.ID, &c.MerchantID, &c.IsActive, &c.DeletedAt, &c.ReviewStatus,
			&c.EligibleCustomerTypes, &c.StartDate, &c.EndDate,
			&c.NetBudget, &c.UsedBudget, &c.EligibilityComputedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cashback config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cashback configs: %w", err)
	}

	for i := range configs {
		configs[i].Tiers, err = r.scanCashbackTiers(ctx, configs[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return configs, nil
}

// ExclusiveOffersByIDs loads exclusive offers for the read path.
func (r *OffersRepository) ExclusiveOffersByIDs(ctx context.Context, ids []uuid.UUID) ([]ExclusiveOffer, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, merchant_id, is_active, deleted_at, review_status,
		       eligible_customer_types, start_date, end_date,
		       net_budget, used_budget, eligibility_computed_at, updated_at
		FROM exclusive_offers
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query exclusive offers: %w", err)
	}
	defer rows.Close()

	var offers []ExclusiveOffer
	for rows.Next() {
		var o ExclusiveOffer
		if err := rows.Scan(&o.ID, &o.MerchantID, &o.IsActive, &o.DeletedAt, &o.ReviewStatus,
			&o.EligibleCustomerTypes, &o.StartDate, &o.EndDate,
			&o.NetBudget, &o.UsedBudget, &o.EligibilityComputedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan exclusive offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exclusive offers: %w", err)
	}

	return offers, nil
}

// LoyaltyProgramsByIDs loads loyalty programs with merchant, tiers, and
// rewards for the read path.
func (r *OffersRepository) LoyaltyProgramsByIDs(ctx context.Context, ids []uuid.UUID) ([]LoyaltyProgram, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT p.id, p.merchant_id, p.is_active, p.review_status,
		       p.points_issued_limit, p.points_used_in_period,
		       p.eligibility_computed_at, p.updated_at,
		       m.id, m.business_name, m.category, m.status
		FROM loyalty_programs p
		JOIN merchants m ON m.id = p.merchant_id
		WHERE p.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query loyalty programs: %w", err)
	}
	defer rows.Close()

	var programs []LoyaltyProgram
	for rows.Next() {
		var p LoyaltyProgram
		var m Merchant
		if err := rows.Scan(&p.ID, &p.MerchantID, &p.IsActive, &p.ReviewStatus,
			&p.PointsIssuedLimit, &p.PointsUsedInPeriod,
			&p.EligibilityComputedAt, &p.UpdatedAt,
			&m.ID, &m.BusinessName, &m.Category, &m.Status); err != nil {
			return nil, fmt.Errorf("scan loyalty program: %w", err)
		}
		p.Merchant = &m
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loyalty programs: %w", err)
	}

	for i := range programs {
		programs[i].Tiers, err = r.scanLoyaltyTiers(ctx, programs[i].ID)
		if err != nil {
			return nil, err
		}
		programs[i].Rewards, err = r.scanLoyaltyRewards(ctx, programs[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return programs, nil
}

func (r *OffersRepository) scanOutlets(ctx context.Context, query string, args ...any) ([]Outlet, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outlets: %w", err)
	}
	defer rows.Close()

	var outlets []Outlet
	for rows.Next() {
		var o Outlet
		if err := rows.Scan(&o.ID, &o.MerchantID, &o.Name, &o.IsActive, &o.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan outlet: %w", err)
		}
		outlets = append(outlets, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outlets: %w", err)
	}
	return outlets, nil
}

func (r *OffersRepository) scanCashbackTiers(ctx context.Context, configID uuid.UUID) ([]CashbackTier, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, config_id, percentage, is_active, review_status
		FROM cashback_tiers
		WHERE config_id = $1 AND is_active = TRUE AND review_status = $2
		ORDER BY percentage ASC`,
		configID, ReviewApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("query cashback tiers: %w", err)
	}
	defer rows.Close()

	var tiers []CashbackTier
	for rows.Next() {
		var t CashbackTier
		if err := rows.Scan(&t.ID, &t.ConfigID, &t.Percentage, &t.IsActive, &t.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan cashback tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cashback tiers: %w", err)
	}
	return tiers, nil
}

func (r *OffersRepository) scanLoyaltyTiers(ctx context.Context, programID uuid.UUID) ([]LoyaltyTier, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, program_id, name, min_customer_type, is_active, review_status
		FROM loyalty_tiers
		WHERE program_id = $1 AND is_active = TRUE AND review_status = $2
		ORDER BY created_at ASC`,
		programID, ReviewApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("query loyalty tiers: %w", err)
	}
	defer rows.Close()

	var tiers []LoyaltyTier
	for rows.Next() {
		var t LoyaltyTier
		if err := rows.Scan(&t.ID, &t.ProgramID, &t.Name, &t.MinCustomerType, &t.IsActive, &t.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan loyalty tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loyalty tiers: %w", err)
	}
	return tiers, nil
}

func (r *OffersRepository) scanLoyaltyRewards(ctx context.Context, programID uuid.UUID) ([]LoyaltyReward, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, program_id, name, points_cost, is_active, review_status
		FROM loyalty_rewards
		WHERE program_id = $1 AND is_active = TRUE AND review_status = $2
		ORDER BY points_cost ASC`,
		programID, ReviewApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("query loyalty rewards: %w", err)
	}
	defer rows.Close()

	var rewards []LoyaltyReward
	for rows.Next() {
		var rw LoyaltyReward
		if err := rows.Scan(&rw.ID, &rw.ProgramID, &rw.Name, &rw.PointsCost, &rw.IsActive, &rw.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan loyalty reward: %w", err)
		}
		rewards = append(rewards, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loyalty rewards: %w", err)
	}
	return rewards, nil
}

func scanEntityRefs(rows pgx.Rows) ([]EntityRef, error) {
	var refs []EntityRef
	for rows.Next() {
		var ref EntityRef
		if err := rows.Scan(&ref.EntityType, &ref.ID); err != nil {
			return nil, fmt.Errorf("scan entity ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity refs: %w", err)
	}
	return refs, nil
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
