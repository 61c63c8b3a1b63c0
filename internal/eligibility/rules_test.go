package eligibility

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"offer-eligibility-engine/internal/db"
)

func TestRank_Ordering(t *testing.T) {
	ordered := []db.CustomerType{
		db.CustomerNonCustomer,
		db.CustomerNew,
		db.CustomerInfrequent,
		db.CustomerOccasional,
		db.CustomerRegular,
		db.CustomerVip,
	}

	for i := 1; i < len(ordered); i++ {
		if Rank(ordered[i-1]) >= Rank(ordered[i]) {
			t.Errorf("%s should rank below %s", ordered[i-1], ordered[i])
		}
	}

	if Rank("Mystery") != -1 {
		t.Errorf("unknown type should rank -1, got %d", Rank("Mystery"))
	}
}

func TestTypesAtOrAbove(t *testing.T) {
	got := TypesAtOrAbove(db.CustomerOccasional)
	want := []string{"Occasional", "Regular", "Vip"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := TypesAtOrAbove(db.CustomerNonCustomer); len(got) != 6 {
		t.Errorf("NonCustomer floor should include all 6 types, got %v", got)
	}

	if got := TypesAtOrAbove("Mystery"); got != nil {
		t.Errorf("unknown minimum should expand to nothing, got %v", got)
	}
}

func TestLeastRestrictiveTier(t *testing.T) {
	tiers := []db.LoyaltyTier{
		{Name: "Gold", MinCustomerType: db.CustomerRegular},
		{Name: "Silver", MinCustomerType: db.CustomerNew},
		{Name: "Bronze", MinCustomerType: db.CustomerNew},
	}

	tier := LeastRestrictiveTier(tiers)
	if tier == nil {
		t.Fatal("expected a tier")
	}
	// First tier encountered wins the tie.
	if tier.Name != "Silver" {
		t.Errorf("expected Silver, got %s", tier.Name)
	}

	if LeastRestrictiveTier(nil) != nil {
		t.Error("no tiers should yield nil")
	}

	unknown := []db.LoyaltyTier{{Name: "X", MinCustomerType: "Mystery"}}
	if LeastRestrictiveTier(unknown) != nil {
		t.Error("tiers with unknown minimums should yield nil")
	}
}

func TestHasBudgetRemaining(t *testing.T) {
	if !HasBudgetRemaining(99.99, 100) {
		t.Error("spend below budget should have budget remaining")
	}
	if HasBudgetRemaining(100, 100) {
		t.Error("spend equal to budget is exhausted")
	}
	if HasBudgetRemaining(101, 100) {
		t.Error("spend over budget is exhausted")
	}
}

func TestPercentageRange(t *testing.T) {
	tiers := []db.CashbackTier{
		{Percentage: 7.5},
		{Percentage: 2},
		{Percentage: 12},
	}

	min, max := PercentageRange(tiers)
	if min == nil || *min != 2 {
		t.Errorf("expected min 2, got %v", min)
	}
	if max == nil || *max != 12 {
		t.Errorf("expected max 12, got %v", max)
	}

	min, max = PercentageRange(nil)
	if min != nil || max != nil {
		t.Error("no tiers should yield nil bounds")
	}
}

func TestMerchantActive(t *testing.T) {
	if MerchantActive(nil) {
		t.Error("missing merchant should count as inactive")
	}
	if MerchantActive(&db.Merchant{Status: db.MerchantSuspended}) {
		t.Error("suspended merchant is not active")
	}
	if !MerchantActive(&db.Merchant{Status: db.MerchantActive}) {
		t.Error("active merchant should pass")
	}
}

func TestCashbackEligible(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	base := func() *db.CashbackConfig {
		return &db.CashbackConfig{
			ID:           uuid.New(),
			IsActive:     true,
			ReviewStatus: db.ReviewApproved,
			NetBudget:    100,
			UsedBudget:   10,
			Merchant:     &db.Merchant{ID: uuid.New(), Status: db.MerchantActive},
			Tiers:        []db.CashbackTier{{Percentage: 5}},
		}
	}

	if !CashbackEligible(base(), now) {
		t.Error("active approved funded config should be eligible")
	}

	c := base()
	c.IsActive = false
	if CashbackEligible(c, now) {
		t.Error("inactive config should be ineligible")
	}

	c = base()
	c.DeletedAt = &past
	if CashbackEligible(c, now) {
		t.Error("deleted config should be ineligible")
	}

	c = base()
	c.ReviewStatus = db.ReviewPending
	if CashbackEligible(c, now) {
		t.Error("unapproved config should be ineligible")
	}

	c = base()
	c.StartDate = &future
	if CashbackEligible(c, now) {
		t.Error("not-yet-started config should be ineligible")
	}

	c = base()
	c.EndDate = &past
	if CashbackEligible(c, now) {
		t.Error("ended config should be ineligible")
	}

	c = base()
	c.UsedBudget = 100
	if CashbackEligible(c, now) {
		t.Error("exhausted budget should be ineligible")
	}

	c = base()
	c.Merchant.Status = db.MerchantSuspended
	if CashbackEligible(c, now) {
		t.Error("suspended merchant should make the config ineligible")
	}

	c = base()
	c.Merchant = nil
	if CashbackEligible(c, now) {
		t.Error("missing merchant should make the config ineligible")
	}

	c = base()
	c.Tiers = nil
	if CashbackEligible(c, now) {
		t.Error("config without tiers should be ineligible")
	}

	// Window dates are optional for cashback.
	c = base()
	c.StartDate = &past
	c.EndDate = &future
	if !CashbackEligible(c, now) {
		t.Error("config inside its window should be eligible")
	}
}

func TestExclusiveEligible(t *testing.T) {
	now := time.Now()

	base := func() *db.ExclusiveOffer {
		return &db.ExclusiveOffer{
			ID:           uuid.New(),
			IsActive:     true,
			ReviewStatus: db.ReviewApproved,
			StartDate:    now.Add(-time.Hour),
			EndDate:      now.Add(time.Hour),
			NetBudget:    100,
			UsedBudget:   0,
			Merchant:     &db.Merchant{ID: uuid.New(), Status: db.MerchantActive},
		}
	}

	if !ExclusiveEligible(base(), now) {
		t.Error("offer inside its window should be eligible")
	}

	o := base()
	o.EndDate = now.Add(-time.Minute)
	if ExclusiveEligible(o, now) {
		t.Error("expired offer should be ineligible")
	}

	// The activate-new sweep picks it up when the window opens.
	o = base()
	o.StartDate = now.Add(time.Hour)
	o.EndDate = now.Add(2 * time.Hour)
	if ExclusiveEligible(o, now) {
		t.Error("not-yet-open offer should be ineligible")
	}

	o = base()
	o.UsedBudget = 100
	if ExclusiveEligible(o, now) {
		t.Error("exhausted budget should be ineligible")
	}

	o = base()
	o.Merchant.Status = db.MerchantSuspended
	if ExclusiveEligible(o, now) {
		t.Error("suspended merchant should make the offer ineligible")
	}
}

func TestLoyaltyEligible(t *testing.T) {
	limit := 500.0

	base := func() *db.LoyaltyProgram {
		return &db.LoyaltyProgram{
			ID:           uuid.New(),
			IsActive:     true,
			ReviewStatus: db.ReviewApproved,
			Merchant:     &db.Merchant{ID: uuid.New(), Status: db.MerchantActive},
			Rewards:      []db.LoyaltyReward{{Name: "Free coffee", PointsCost: 100}},
		}
	}

	if !LoyaltyEligible(base()) {
		t.Error("active approved program should be eligible")
	}

	p := base()
	p.PointsIssuedLimit = &limit
	p.PointsUsedInPeriod = 499
	if !LoyaltyEligible(p) {
		t.Error("program under its points limit should be eligible")
	}

	p = base()
	p.PointsIssuedLimit = &limit
	p.PointsUsedInPeriod = 500
	if LoyaltyEligible(p) {
		t.Error("program at its points limit should be ineligible")
	}

	p = base()
	p.IsActive = false
	if LoyaltyEligible(p) {
		t.Error("inactive program should be ineligible")
	}

	p = base()
	p.Rewards = nil
	if LoyaltyEligible(p) {
		t.Error("program without rewards should be ineligible")
	}

	p = base()
	p.Merchant.Status = db.MerchantSuspended
	if LoyaltyEligible(p) {
		t.Error("suspended merchant should make the program ineligible")
	}
}
