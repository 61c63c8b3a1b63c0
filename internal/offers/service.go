package offers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/metrics"
	"offer-eligibility-engine/internal/redis"
)

// Percentage filter tokens accepted by the read API.
const (
	PercentageUnder5        = "UNDER_5"
	PercentageBetween5And10 = "BETWEEN_5_10"
	PercentageAbove10       = "ABOVE_10"
)

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// RowReader reads materialized eligibility rows.
type RowReader interface {
	CountForUser(ctx context.Context, f db.Filter) (int, error)
	CountActiveForUser(ctx context.Context, userID uuid.UUID) (int, error)
	ListOutletPage(ctx context.Context, f db.Filter, limit, offset int) ([]db.OutletRef, error)
	ListOfferRefs(ctx context.Context, f db.Filter) ([]db.OutletRef, error)
	ListDistinctOfferIDs(ctx context.Context, f db.Filter) ([]uuid.UUID, error)
}

// OfferReader loads offer and outlet detail for response assembly.
type OfferReader interface {
	OutletDetails(ctx context.Context, ids []uuid.UUID) ([]db.OutletDetail, error)
	CashbackConfigsByIDs(ctx context.Context, ids []uuid.UUID) ([]db.CashbackConfig, error)
	ExclusiveOffersByIDs(ctx context.Context, ids []uuid.UUID) ([]db.ExclusiveOffer, error)
	LoyaltyProgramsByIDs(ctx context.Context, ids []uuid.UUID) ([]db.LoyaltyProgram, error)
}

// Query names the filters a user can apply to their offer listing.
type Query struct {
	UserID           uuid.UUID `json:"user_id"`
	Page             int       `json:"page"`
	PageSize         int       `json:"page_size"`
	Category         string    `json:"category,omitempty"`
	Search           string    `json:"search,omitempty"`
	PercentageFilter string    `json:"percentage_filter,omitempty"`
}

// OutletOffers is one outlet in the listing with the offers the user is
// eligible for there.
type OutletOffers struct {
	OutletID         uuid.UUID           `json:"outlet_id"`
	OutletName       string              `json:"outlet_name"`
	MerchantID       uuid.UUID           `json:"merchant_id"`
	MerchantName     string              `json:"merchant_name"`
	MerchantCategory string              `json:"merchant_category"`
	CashbackConfigs  []db.CashbackConfig `json:"cashback_configs,omitempty"`
	ExclusiveOffers  []db.ExclusiveOffer `json:"exclusive_offers,omitempty"`
}

// Response is a page of outlets with eligible offers. TotalCount counts
// eligibility rows before outlet dedup, matching what pagination walks over
// is a superset of.
type Response struct {
	Outlets    []OutletOffers `json:"outlets"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// LoyaltyResponse lists the loyalty programs a user can join.
type LoyaltyResponse struct {
	Programs []db.LoyaltyProgram `json:"programs"`
	Count    int                 `json:"count"`
}

// Service is the read path over materialized eligibility. It only ever
// filters precomputed rows; no eligibility rule runs at request time.
type Service struct {
	rows   RowReader
	offers OfferReader
	cache  *redis.QueryCache
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the read service. cache may be nil when the query
// cache is disabled.
func NewService(rows RowReader, offers OfferReader, cache *redis.QueryCache, logger *zap.Logger) *Service {
	return &Service{
		rows:   rows,
		offers: offers,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// GetOffersForUser returns the user's eligible offers grouped by outlet,
// paginated over distinct outlets. Served from cache when possible; any
// cache failure degrades to a fresh query.
func (s *Service) GetOffersForUser(ctx context.Context, q Query) (*Response, error) {
	q = normalize(q)

	var cacheKey string
	if s.cache != nil {
		key, err := s.cache.Key("offers", q)
		if err == nil {
			cacheKey = key
			var cached Response
			hit, err := s.cache.Get(ctx, cacheKey, &cached)
			if err != nil {
				metrics.RecordCacheLookup("error")
				s.logger.Warn("query cache read failed", zap.Error(err))
			} else if hit {
				metrics.RecordCacheLookup("hit")
				return &cached, nil
			} else {
				metrics.RecordCacheLookup("miss")
			}
		}
	}

	resp, err := s.queryOffers(ctx, q)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, q.UserID.String(), resp); err != nil {
			s.logger.Warn("query cache write failed", zap.Error(err))
		}
	}

	return resp, nil
}

func (s *Service) queryOffers(ctx context.Context, q Query) (*Response, error) {
	filter := s.buildFilter(q)

	total, err := s.rows.CountForUser(ctx, filter)
	if err != nil {
		return nil, err
	}

	if total == 0 {
		s.warnEmpty(ctx, q)
		return &Response{Outlets: []OutletOffers{}, TotalCount: 0, Page: q.Page, PageSize: q.PageSize}, nil
	}

	page, err := s.rows.ListOutletPage(ctx, filter, q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return nil, err
	}

	refs, err := s.rows.ListOfferRefs(ctx, filter)
	if err != nil {
		return nil, err
	}

	outlets, err := s.assembleOutlets(ctx, page, refs)
	if err != nil {
		return nil, err
	}

	return &Response{
		Outlets:    outlets,
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
	}, nil
}

func (s *Service) assembleOutlets(ctx context.Context, page []db.OutletRef, refs []db.OutletRef) ([]OutletOffers, error) {
	pageOutlets := make(map[uuid.UUID]bool, len(page))
	outletIDs := make([]uuid.UUID, 0, len(page))
	for _, ref := range page {
		pageOutlets[ref.OutletID] = true
		outletIDs = append(outletIDs, ref.OutletID)
	}

	// Collect eligible offer ids per outlet, restricted to this page.
	cashbackByOutlet := make(map[uuid.UUID][]uuid.UUID)
	exclusiveByOutlet := make(map[uuid.UUID][]uuid.UUID)
	cashbackIDs := make(map[uuid.UUID]bool)
	exclusiveIDs := make(map[uuid.UUID]bool)
	for _, ref := range refs {
		if !pageOutlets[ref.OutletID] {
			continue
		}
		switch ref.OfferType {
		case db.OfferTypeCashback:
			cashbackByOutlet[ref.OutletID] = append(cashbackByOutlet[ref.OutletID], ref.OfferID)
			cashbackIDs[ref.OfferID] = true
		case db.OfferTypeExclusive:
			exclusiveByOutlet[ref.OutletID] = append(exclusiveByOutlet[ref.OutletID], ref.OfferID)
			exclusiveIDs[ref.OfferID] = true
		}
	}

	details, err := s.offers.OutletDetails(ctx, outletIDs)
	if err != nil {
		return nil, err
	}
	detailByID := make(map[uuid.UUID]db.OutletDetail, len(details))
	for _, d := range details {
		detailByID[d.ID] = d
	}

	cashbacks, err := s.offers.CashbackConfigsByIDs(ctx, keys(cashbackIDs))
	if err != nil {
		return nil, err
	}
	cashbackByID := make(map[uuid.UUID]db.CashbackConfig, len(cashbacks))
	for _, c := range cashbacks {
		cashbackByID[c.ID] = c
	}

	exclusives, err := s.offers.ExclusiveOffersByIDs(ctx, keys(exclusiveIDs))
	if err != nil {
		return nil, err
	}
	exclusiveByID := make(map[uuid.UUID]db.ExclusiveOffer, len(exclusives))
	for _, e := range exclusives {
		exclusiveByID[e.ID] = e
	}

	outlets := make([]OutletOffers, 0, len(page))
	for _, ref := range page {
		detail, ok := detailByID[ref.OutletID]
		if !ok {
			continue
		}

		out := OutletOffers{
			OutletID:         detail.ID,
			OutletName:       detail.Name,
			MerchantID:       detail.MerchantID,
			MerchantName:     detail.MerchantName,
			MerchantCategory: detail.MerchantCategory,
		}
		for _, id := range cashbackByOutlet[ref.OutletID] {
			if c, ok := cashbackByID[id]; ok {
				out.CashbackConfigs = append(out.CashbackConfigs, c)
			}
		}
		for _, id := range exclusiveByOutlet[ref.OutletID] {
			if e, ok := exclusiveByID[id]; ok {
				out.ExclusiveOffers = append(out.ExclusiveOffers, e)
			}
		}
		outlets = append(outlets, out)
	}

	return outlets, nil
}

// GetLoyaltyProgramsForUser returns loyalty programs the user is eligible
// for. Loyalty listings are program-oriented, not outlet-oriented.
func (s *Service) GetLoyaltyProgramsForUser(ctx context.Context, userID uuid.UUID) (*LoyaltyResponse, error) {
	var cacheKey string
	if s.cache != nil {
		key, err := s.cache.Key("loyalty", userID)
		if err == nil {
			cacheKey = key
			var cached LoyaltyResponse
			hit, err := s.cache.Get(ctx, cacheKey, &cached)
			if err != nil {
				metrics.RecordCacheLookup("error")
				s.logger.Warn("query cache read failed", zap.Error(err))
			} else if hit {
				metrics.RecordCacheLookup("hit")
				return &cached, nil
			} else {
				metrics.RecordCacheLookup("miss")
			}
		}
	}

	filter := db.Filter{
		UserID:    userID,
		Now:       s.now(),
		OfferType: db.OfferTypeLoyalty,
	}

	ids, err := s.rows.ListDistinctOfferIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	programs, err := s.offers.LoyaltyProgramsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if programs == nil {
		programs = []db.LoyaltyProgram{}
	}

	resp := &LoyaltyResponse{Programs: programs, Count: len(programs)}

	if s.cache != nil && cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, userID.String(), resp); err != nil {
			s.logger.Warn("query cache write failed", zap.Error(err))
		}
	}

	return resp, nil
}

// InvalidateUserCache drops every cached listing for the user.
func (s *Service) InvalidateUserCache(ctx context.Context, userID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateUser(ctx, userID.String())
}

func (s *Service) buildFilter(q Query) db.Filter {
	f := db.Filter{
		UserID:   q.UserID,
		Now:      s.now(),
		Category: q.Category,
		Search:   q.Search,
	}
	f.MinPercentage, f.MaxPercentage = percentageBounds(q.PercentageFilter)
	return f
}

// warnEmpty distinguishes "filters matched nothing" from "nothing was ever
// materialized for this user", which usually means a missed recompute.
func (s *Service) warnEmpty(ctx context.Context, q Query) {
	active, err := s.rows.CountActiveForUser(ctx, q.UserID)
	if err != nil {
		return
	}
	s.logger.Warn("offer query returned no rows",
		zap.String("user_id", q.UserID.String()),
		zap.Int("active_rows", active),
		zap.String("category", q.Category),
		zap.String("search", q.Search),
		zap.String("percentage_filter", q.PercentageFilter),
	)
}

func normalize(q Query) Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

func percentageBounds(token string) (min, max *float64) {
	f := func(v float64) *float64 { return &v }
	switch token {
	case PercentageUnder5:
		return nil, f(5)
	case PercentageBetween5And10:
		return f(5), f(10)
	case PercentageAbove10:
		return f(10), nil
	default:
		return nil, nil
	}
}

func keys(set map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
