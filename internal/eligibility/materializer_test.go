package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/db"
)

type fakeOfferStore struct {
	cashback  *db.CashbackConfig
	exclusive *db.ExclusiveOffer
	loyalty   *db.LoyaltyProgram

	stamped []db.EntityType
}

func (f *fakeOfferStore) GetCashbackConfig(ctx context.Context, id uuid.UUID) (*db.CashbackConfig, error) {
	return f.cashback, nil
}

func (f *fakeOfferStore) GetExclusiveOffer(ctx context.Context, id uuid.UUID) (*db.ExclusiveOffer, error) {
	return f.exclusive, nil
}

func (f *fakeOfferStore) GetLoyaltyProgram(ctx context.Context, id uuid.UUID) (*db.LoyaltyProgram, error) {
	return f.loyalty, nil
}

func (f *fakeOfferStore) StampComputed(ctx context.Context, entityType db.EntityType, id uuid.UUID, at time.Time) error {
	f.stamped = append(f.stamped, entityType)
	return nil
}

type fakeRowStore struct {
	deletes     int
	inserts     [][]db.EligibilityRow
	invalidated []db.OfferType

	deleteBeforeInsert bool
}

func (f *fakeRowStore) DeleteForOffer(ctx context.Context, offerType db.OfferType, offerID uuid.UUID) (int64, error) {
	f.deletes++
	if len(f.inserts) == 0 {
		f.deleteBeforeInsert = true
	}
	return 0, nil
}

func (f *fakeRowStore) InsertBatch(ctx context.Context, rows []db.EligibilityRow) (int64, error) {
	copied := make([]db.EligibilityRow, len(rows))
	copy(copied, rows)
	f.inserts = append(f.inserts, copied)
	return int64(len(rows)), nil
}

func (f *fakeRowStore) InvalidateForOffer(ctx context.Context, offerType db.OfferType, offerID uuid.UUID) (int64, error) {
	f.invalidated = append(f.invalidated, offerType)
	return 3, nil
}

type fakeLogStore struct {
	entries []db.ComputationLog
	err     error
}

func (f *fakeLogStore) Insert(ctx context.Context, log db.ComputationLog) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, log)
	return nil
}

type fakeEvents struct {
	recomputed  int
	invalidated int
}

func (f *fakeEvents) PublishRecomputed(ctx context.Context, entityType db.EntityType, entityID uuid.UUID, rows int64) error {
	f.recomputed++
	return nil
}

func (f *fakeEvents) PublishInvalidated(ctx context.Context, entityType db.EntityType, entityID uuid.UUID) error {
	f.invalidated++
	return nil
}

func outlets(n int, merchantID uuid.UUID) []db.Outlet {
	out := make([]db.Outlet, n)
	for i := range out {
		out[i] = db.Outlet{ID: uuid.New(), MerchantID: merchantID, Name: "outlet", IsActive: true, ReviewStatus: db.ReviewApproved}
	}
	return out
}

func testCashbackConfig(merchantID uuid.UUID, outletCount int) *db.CashbackConfig {
	return &db.CashbackConfig{
		ID:                    uuid.New(),
		MerchantID:            merchantID,
		IsActive:              true,
		ReviewStatus:          db.ReviewApproved,
		EligibleCustomerTypes: []string{"Vip"},
		NetBudget:             100,
		Merchant:              &db.Merchant{ID: merchantID, BusinessName: "Acme", Category: "Food", Status: db.MerchantActive},
		Outlets:               outlets(outletCount, merchantID),
		Tiers: []db.CashbackTier{
			{Percentage: 3},
			{Percentage: 8},
		},
	}
}

func newTestMaterializer(offersStore *fakeOfferStore, rows *fakeRowStore, logs *fakeLogStore, customers *fakeCustomers, events EventPublisher) *Materializer {
	resolver := NewResolver(customers, zap.NewNop())
	return NewMaterializer(offersStore, rows, logs, resolver, events, zap.NewNop())
}

func TestRecompute_CashbackMaterializesUserOutletCross(t *testing.T) {
	merchantID := uuid.New()
	u1, u2 := uuid.New(), uuid.New()
	config := testCashbackConfig(merchantID, 2)

	offersStore := &fakeOfferStore{cashback: config}
	rows := &fakeRowStore{}
	logs := &fakeLogStore{}
	events := &fakeEvents{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Vip": {u1, u2}}}

	m := newTestMaterializer(offersStore, rows, logs, customers, events)

	res, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Operation != OpCompute {
		t.Errorf("expected compute, got %s", res.Operation)
	}
	if res.RowsCreated != 4 {
		t.Errorf("expected 4 rows (2 users x 2 outlets), got %d", res.RowsCreated)
	}
	if rows.deletes != 1 || !rows.deleteBeforeInsert {
		t.Error("old rows must be deleted before inserting")
	}
	if len(offersStore.stamped) != 1 {
		t.Error("computed-at stamp missing")
	}
	if events.recomputed != 1 {
		t.Error("recomputed event not published")
	}
	if len(logs.entries) != 1 || logs.entries[0].Operation != OpCompute {
		t.Error("computation log missing")
	}

	row := rows.inserts[0][0]
	if row.MerchantName != "Acme" || row.MerchantCategory != "Food" {
		t.Error("merchant fields not denormalized into rows")
	}
	if row.MinPercentage == nil || *row.MinPercentage != 3 {
		t.Errorf("expected min percentage 3, got %v", row.MinPercentage)
	}
	if row.MaxPercentage == nil || *row.MaxPercentage != 8 {
		t.Errorf("expected max percentage 8, got %v", row.MaxPercentage)
	}
	if !row.IsActive || !row.HasBudgetRemaining {
		t.Error("fresh rows must start active with budget")
	}
}

func TestRecompute_IneligibleInvalidates(t *testing.T) {
	config := testCashbackConfig(uuid.New(), 1)
	config.IsActive = false

	offersStore := &fakeOfferStore{cashback: config}
	rows := &fakeRowStore{}
	logs := &fakeLogStore{}
	events := &fakeEvents{}

	m := newTestMaterializer(offersStore, rows, logs, &fakeCustomers{}, events)

	res, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID)
	if err != nil {
		t.Fatalf("ineligible offers are not errors: %v", err)
	}

	if res.Operation != OpInvalidate {
		t.Errorf("expected invalidate, got %s", res.Operation)
	}
	if len(rows.invalidated) != 1 {
		t.Error("rows should be invalidated")
	}
	if rows.deletes != 0 || len(rows.inserts) != 0 {
		t.Error("invalidation must not touch row replacement")
	}
	if events.invalidated != 1 {
		t.Error("invalidated event not published")
	}
}

func TestRecompute_SuspendedMerchantInvalidates(t *testing.T) {
	config := testCashbackConfig(uuid.New(), 1)
	config.Merchant.Status = db.MerchantSuspended

	offersStore := &fakeOfferStore{cashback: config}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Vip": {uuid.New()}}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	res, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Operation != OpInvalidate || res.RowsCreated != 0 {
		t.Errorf("suspended merchant must invalidate, got %+v", res)
	}
	if len(rows.inserts) != 0 {
		t.Error("no rows may materialize for a suspended merchant")
	}
	if len(rows.invalidated) != 1 {
		t.Error("existing rows should be flipped inactive")
	}
}

func TestRecompute_TierlessCashbackInvalidates(t *testing.T) {
	config := testCashbackConfig(uuid.New(), 1)
	config.Tiers = nil

	offersStore := &fakeOfferStore{cashback: config}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Vip": {uuid.New()}}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	res, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Operation != OpInvalidate || res.RowsCreated != 0 {
		t.Errorf("tierless config must invalidate, got %+v", res)
	}
	if len(rows.inserts) != 0 {
		t.Error("no rows may materialize without tiers")
	}
}

func TestRecompute_RewardlessLoyaltyInvalidates(t *testing.T) {
	merchantID := uuid.New()
	program := &db.LoyaltyProgram{
		ID:           uuid.New(),
		MerchantID:   merchantID,
		IsActive:     true,
		ReviewStatus: db.ReviewApproved,
		Merchant:     &db.Merchant{ID: merchantID, BusinessName: "Acme", Category: "Food", Status: db.MerchantActive},
		Outlets:      outlets(1, merchantID),
		Tiers: []db.LoyaltyTier{
			{Name: "Silver", MinCustomerType: db.CustomerNew, IsActive: true},
		},
	}

	offersStore := &fakeOfferStore{loyalty: program}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"New": {uuid.New()}}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	res, err := m.Recompute(context.Background(), db.EntityLoyaltyProgram, program.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Operation != OpInvalidate || res.RowsCreated != 0 {
		t.Errorf("rewardless program must invalidate, got %+v", res)
	}
	if len(rows.inserts) != 0 {
		t.Error("no rows may materialize without rewards")
	}
}

func TestRecompute_MissingOfferInvalidates(t *testing.T) {
	offersStore := &fakeOfferStore{}
	rows := &fakeRowStore{}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, &fakeCustomers{}, nil)

	res, err := m.Recompute(context.Background(), db.EntityExclusiveOffer, uuid.New())
	if err != nil {
		t.Fatalf("missing offers are not errors: %v", err)
	}
	if res.Operation != OpInvalidate {
		t.Errorf("expected invalidate, got %s", res.Operation)
	}
}

func TestRecompute_BatchesLargeRowSets(t *testing.T) {
	merchantID := uuid.New()
	config := testCashbackConfig(merchantID, 1500)

	offersStore := &fakeOfferStore{cashback: config}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Vip": {uuid.New()}}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	res, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RowsCreated != 1500 {
		t.Fatalf("expected 1500 rows, got %d", res.RowsCreated)
	}
	if len(rows.inserts) != 2 {
		t.Fatalf("expected 2 insert batches, got %d", len(rows.inserts))
	}
	if len(rows.inserts[0]) != 1000 || len(rows.inserts[1]) != 500 {
		t.Errorf("expected batches of 1000 and 500, got %d and %d",
			len(rows.inserts[0]), len(rows.inserts[1]))
	}
}

func TestRecompute_LogFailureIsSwallowed(t *testing.T) {
	config := testCashbackConfig(uuid.New(), 1)

	offersStore := &fakeOfferStore{cashback: config}
	logs := &fakeLogStore{err: errors.New("log table gone")}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Vip": {uuid.New()}}}

	m := newTestMaterializer(offersStore, &fakeRowStore{}, logs, customers, nil)

	if _, err := m.Recompute(context.Background(), db.EntityCashbackConfig, config.ID); err != nil {
		t.Fatalf("log failures must not fail the run: %v", err)
	}
}

func TestRecompute_LoyaltyUsesLeastRestrictiveTier(t *testing.T) {
	merchantID := uuid.New()
	program := &db.LoyaltyProgram{
		ID:           uuid.New(),
		MerchantID:   merchantID,
		IsActive:     true,
		ReviewStatus: db.ReviewApproved,
		Merchant:     &db.Merchant{ID: merchantID, BusinessName: "Acme", Category: "Food", Status: db.MerchantActive},
		Outlets:      outlets(1, merchantID),
		Tiers: []db.LoyaltyTier{
			{Name: "Gold", MinCustomerType: db.CustomerRegular, IsActive: true},
			{Name: "Silver", MinCustomerType: db.CustomerOccasional, IsActive: true},
		},
		Rewards: []db.LoyaltyReward{{Name: "Free coffee", PointsCost: 100}},
	}

	offersStore := &fakeOfferStore{loyalty: program}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{byTypes: map[string][]uuid.UUID{"Occasional": {uuid.New()}}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	res, err := m.Recompute(context.Background(), db.EntityLoyaltyProgram, program.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RowsCreated != 1 {
		t.Fatalf("expected 1 row, got %d", res.RowsCreated)
	}

	// Silver's floor (Occasional) should drive the audience, not Gold's.
	want := []string{"Occasional", "Regular", "Vip"}
	if len(customers.typesAsked) != len(want) {
		t.Fatalf("expected types %v, asked %v", want, customers.typesAsked)
	}
	for i, typ := range want {
		if customers.typesAsked[i] != typ {
			t.Errorf("expected types %v, asked %v", want, customers.typesAsked)
			break
		}
	}

	row := rows.inserts[0][0]
	if row.ValidUntil != nil {
		t.Error("loyalty rows carry no end date")
	}
	if row.MinPercentage != nil || row.MaxPercentage != nil {
		t.Error("loyalty rows carry no percentages")
	}
}

func TestRecompute_ExclusiveCarriesWindow(t *testing.T) {
	merchantID := uuid.New()
	start := time.Now().Add(-time.Hour).Truncate(time.Second)
	end := time.Now().Add(time.Hour).Truncate(time.Second)
	offer := &db.ExclusiveOffer{
		ID:                    uuid.New(),
		MerchantID:            merchantID,
		IsActive:              true,
		ReviewStatus:          db.ReviewApproved,
		EligibleCustomerTypes: []string{"All"},
		StartDate:             start,
		EndDate:               end,
		NetBudget:             50,
		Merchant:              &db.Merchant{ID: merchantID, BusinessName: "Acme", Category: "Food", Status: db.MerchantActive},
		Outlets:               outlets(1, merchantID),
	}

	offersStore := &fakeOfferStore{exclusive: offer}
	rows := &fakeRowStore{}
	customers := &fakeCustomers{all: []uuid.UUID{uuid.New()}}

	m := newTestMaterializer(offersStore, rows, &fakeLogStore{}, customers, nil)

	if _, err := m.Recompute(context.Background(), db.EntityExclusiveOffer, offer.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := rows.inserts[0][0]
	if !row.ValidFrom.Equal(start) {
		t.Errorf("valid_from should be the window start, got %v", row.ValidFrom)
	}
	if row.ValidUntil == nil || !row.ValidUntil.Equal(end) {
		t.Errorf("valid_until should be the window end, got %v", row.ValidUntil)
	}
}

func TestRecompute_UnknownEntityType(t *testing.T) {
	m := newTestMaterializer(&fakeOfferStore{}, &fakeRowStore{}, &fakeLogStore{}, &fakeCustomers{}, nil)

	if _, err := m.Recompute(context.Background(), "MYSTERY", uuid.New()); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
}
