package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/metrics"
)

// batchSize bounds eligibility row inserts per statement batch.
const batchSize = 1000

// Materializer run operations, recorded in computation logs.
const (
	OpCompute    = "compute"
	OpInvalidate = "invalidate"
)

// OfferStore loads offer entities and stamps their computation time.
type OfferStore interface {
	GetCashbackConfig(ctx context.Context, id uuid.UUID) (*db.CashbackConfig, error)
	GetExclusiveOffer(ctx context.Context, id uuid.UUID) (*db.ExclusiveOffer, error)
	GetLoyaltyProgram(ctx context.Context, id uuid.UUID) (*db.LoyaltyProgram, error)
	StampComputed(ctx context.Context, entityType db.EntityType, id uuid.UUID, at time.Time) error
}

// RowStore persists materialized eligibility rows.
type RowStore interface {
	DeleteForOffer(ctx context.Context, offerType db.OfferType, offerID uuid.UUID) (int64, error)
	InsertBatch(ctx context.Context, rows []db.EligibilityRow) (int64, error)
	InvalidateForOffer(ctx context.Context, offerType db.OfferType, offerID uuid.UUID) (int64, error)
}

// LogStore records materializer runs.
type LogStore interface {
	Insert(ctx context.Context, log db.ComputationLog) error
}

// EventPublisher announces materializer outcomes to downstream consumers.
type EventPublisher interface {
	PublishRecomputed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error
	PublishInvalidated(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error
}

// Result summarizes one materializer run.
type Result struct {
	Operation   string
	RowsCreated int64
}

// Materializer recomputes the full eligibility row set for one offer at a
// time: delete the offer's rows, re-derive them from current offer state,
// insert in batches. Redundant runs converge on the same rows.
type Materializer struct {
	offers   OfferStore
	rows     RowStore
	logs     LogStore
	resolver *Resolver
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewMaterializer creates a materializer. events may be nil when no
// downstream topic is configured.
func NewMaterializer(offers OfferStore, rows RowStore, logs LogStore, resolver *Resolver, events EventPublisher, logger *zap.Logger) *Materializer {
	return &Materializer{
		offers:   offers,
		rows:     rows,
		logs:     logs,
		resolver: resolver,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Recompute fully rebuilds eligibility for one offer entity. Unknown or
// ineligible offers have their rows invalidated instead; neither case is an
// error.
func (m *Materializer) Recompute(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) (Result, error) {
	start := m.now()

	var res Result
	var err error
	switch entityType {
	case db.EntityCashbackConfig:
		res, err = m.recomputeCashback(ctx, entityID)
	case db.EntityExclusiveOffer:
		res, err = m.recomputeExclusive(ctx, entityID)
	case db.EntityLoyaltyProgram:
		res, err = m.recomputeLoyalty(ctx, entityID)
	default:
		return Result{}, fmt.Errorf("unknown entity type: %s", entityType)
	}

	duration := m.now().Sub(start)
	if err != nil {
		metrics.RecordRecompute(string(entityType), "error", duration)
		return Result{}, err
	}
	metrics.RecordRecompute(string(entityType), res.Operation, duration)
	metrics.RecordRowsMaterialized(string(entityType), res.RowsCreated)

	// The log is observability, not bookkeeping: a failed insert must not
	// fail the run.
	if logErr := m.logs.Insert(ctx, db.ComputationLog{
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       res.Operation,
		RecordsAffected: int(res.RowsCreated),
		DurationMs:      duration.Milliseconds(),
	}); logErr != nil {
		m.logger.Warn("computation log write failed", zap.Error(logErr))
	}

	m.publish(ctx, entityType, entityID, res)

	m.logger.Info("eligibility recomputed",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID.String()),
		zap.String("operation", res.Operation),
		zap.Int64("rows", res.RowsCreated),
		zap.Duration("duration", duration),
	)

	return res, nil
}

func (m *Materializer) recomputeCashback(ctx context.Context, id uuid.UUID) (Result, error) {
	now := m.now()

	config, err := m.offers.GetCashbackConfig(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if config == nil || !CashbackEligible(config, now) {
		return m.invalidate(ctx, db.OfferTypeCashback, id)
	}

	users, err := m.resolver.ResolveUsers(ctx, config.MerchantID, config.EligibleCustomerTypes)
	if err != nil {
		return Result{}, err
	}
	m.warnIfEmpty(db.EntityCashbackConfig, id, len(users), len(config.Outlets), len(config.Tiers))

	minPct, maxPct := PercentageRange(config.Tiers)
	validFrom := now
	if config.StartDate != nil {
		validFrom = *config.StartDate
	}

	rows := buildRows(users, config.Outlets, config.Merchant, db.OfferTypeCashback, id, rowTemplate{
		ValidFrom:     validFrom,
		ValidUntil:    config.EndDate,
		MinPercentage: minPct,
		MaxPercentage: maxPct,
		ComputedAt:    now,
	})

	created, err := m.replaceRows(ctx, db.OfferTypeCashback, id, rows)
	if err != nil {
		return Result{}, err
	}
	if err := m.offers.StampComputed(ctx, db.EntityCashbackConfig, id, now); err != nil {
		return Result{}, err
	}

	return Result{Operation: OpCompute, RowsCreated: created}, nil
}

func (m *Materializer) recomputeExclusive(ctx context.Context, id uuid.UUID) (Result, error) {
	now := m.now()

	offer, err := m.offers.GetExclusiveOffer(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if offer == nil || !ExclusiveEligible(offer, now) {
		return m.invalidate(ctx, db.OfferTypeExclusive, id)
	}

	users, err := m.resolver.ResolveUsers(ctx, offer.MerchantID, offer.EligibleCustomerTypes)
	if err != nil {
		return Result{}, err
	}
	m.warnIfEmpty(db.EntityExclusiveOffer, id, len(users), len(offer.Outlets), 1)

	endDate := offer.EndDate
	rows := buildRows(users, offer.Outlets, offer.Merchant, db.OfferTypeExclusive, id, rowTemplate{
		ValidFrom:  offer.StartDate,
		ValidUntil: &endDate,
		ComputedAt: now,
	})

	created, err := m.replaceRows(ctx, db.OfferTypeExclusive, id, rows)
	if err != nil {
		return Result{}, err
	}
	if err := m.offers.StampComputed(ctx, db.EntityExclusiveOffer, id, now); err != nil {
		return Result{}, err
	}

	return Result{Operation: OpCompute, RowsCreated: created}, nil
}

func (m *Materializer) recomputeLoyalty(ctx context.Context, id uuid.UUID) (Result, error) {
	now := m.now()

	program, err := m.offers.GetLoyaltyProgram(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if program == nil || !LoyaltyEligible(program) {
		return m.invalidate(ctx, db.OfferTypeLoyalty, id)
	}

	// The program's audience is whoever meets its least restrictive tier;
	// the tier gate is a floor, not a partition.
	tier := LeastRestrictiveTier(program.Tiers)
	if tier == nil {
		m.logger.Warn("loyalty program has no usable tier",
			zap.String("program_id", id.String()),
		)
		return m.invalidate(ctx, db.OfferTypeLoyalty, id)
	}

	users, err := m.resolver.ResolveUsers(ctx, program.MerchantID, TypesAtOrAbove(tier.MinCustomerType))
	if err != nil {
		return Result{}, err
	}
	m.warnIfEmpty(db.EntityLoyaltyProgram, id, len(users), len(program.Outlets), len(program.Tiers))

	rows := buildRows(users, program.Outlets, program.Merchant, db.OfferTypeLoyalty, id, rowTemplate{
		ValidFrom:  now,
		ComputedAt: now,
	})

	created, err := m.replaceRows(ctx, db.OfferTypeLoyalty, id, rows)
	if err != nil {
		return Result{}, err
	}
	if err := m.offers.StampComputed(ctx, db.EntityLoyaltyProgram, id, now); err != nil {
		return Result{}, err
	}

	return Result{Operation: OpCompute, RowsCreated: created}, nil
}

func (m *Materializer) invalidate(ctx context.Context, offerType db.OfferType, id uuid.UUID) (Result, error) {
	if _, err := m.rows.InvalidateForOffer(ctx, offerType, id); err != nil {
		return Result{}, err
	}
	return Result{Operation: OpInvalidate, RowsCreated: 0}, nil
}

// replaceRows is the delete-then-insert cycle. Not transactional across
// statements: a reader can briefly see no rows for the offer, which beats
// seeing stale ones.
func (m *Materializer) replaceRows(ctx context.Context, offerType db.OfferType, id uuid.UUID, rows []db.EligibilityRow) (int64, error) {
	if _, err := m.rows.DeleteForOffer(ctx, offerType, id); err != nil {
		return 0, err
	}

	var created int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := m.rows.InsertBatch(ctx, rows[start:end])
		if err != nil {
			return created, err
		}
		created += n
	}

	return created, nil
}

func (m *Materializer) warnIfEmpty(entityType db.EntityType, id uuid.UUID, users, outlets, tiers int) {
	if users > 0 && outlets > 0 && tiers > 0 {
		return
	}
	m.logger.Warn("offer materializes to zero rows",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", id.String()),
		zap.Int("users", users),
		zap.Int("outlets", outlets),
		zap.Int("tiers", tiers),
	)
}

func (m *Materializer) publish(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, res Result) {
	if m.events == nil {
		return
	}

	var err error
	if res.Operation == OpInvalidate {
		err = m.events.PublishInvalidated(ctx, entityType, entityID)
	} else {
		err = m.events.PublishRecomputed(ctx, entityType, entityID, res.RowsCreated)
	}
	if err != nil {
		m.logger.Warn("eligibility event publish failed", zap.Error(err))
	}
}

type rowTemplate struct {
	ValidFrom     time.Time
	ValidUntil    *time.Time
	MinPercentage *float64
	MaxPercentage *float64
	ComputedAt    time.Time
}

func buildRows(users []uuid.UUID, outlets []db.Outlet, merchant *db.Merchant, offerType db.OfferType, offerID uuid.UUID, tmpl rowTemplate) []db.EligibilityRow {
	rows := make([]db.EligibilityRow, 0, len(users)*len(outlets))
	for _, userID := range users {
		for _, outlet := range outlets {
			rows = append(rows, db.EligibilityRow{
				UserID:             userID,
				OutletID:           outlet.ID,
				OfferType:          offerType,
				OfferID:            offerID,
				MerchantID:         merchant.ID,
				MerchantName:       merchant.BusinessName,
				MerchantCategory:   merchant.Category,
				OutletName:         outlet.Name,
				ValidFrom:          tmpl.ValidFrom,
				ValidUntil:         tmpl.ValidUntil,
				IsActive:           true,
				HasBudgetRemaining: true,
				MinPercentage:      tmpl.MinPercentage,
				MaxPercentage:      tmpl.MaxPercentage,
				ComputedAt:         tmpl.ComputedAt,
			})
		}
	}
	return rows
}
