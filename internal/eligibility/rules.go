package eligibility

import (
	"time"

	"offer-eligibility-engine/internal/db"
)

// customerRank orders customer types from weakest to strongest relationship.
// Unknown types rank below NonCustomer and never match a tier gate.
var customerRank = map[db.CustomerType]int{
	db.CustomerNonCustomer: 0,
	db.CustomerNew:         1,
	db.CustomerInfrequent:  2,
	db.CustomerOccasional:  3,
	db.CustomerRegular:     4,
	db.CustomerVip:         5,
}

// hierarchyOrder lists customer types weakest first, for expanding a minimum
// into the set of qualifying types.
var hierarchyOrder = []db.CustomerType{
	db.CustomerNonCustomer,
	db.CustomerNew,
	db.CustomerInfrequent,
	db.CustomerOccasional,
	db.CustomerRegular,
	db.CustomerVip,
}

// Rank returns a customer type's position in the hierarchy, -1 if unknown.
func Rank(t db.CustomerType) int {
	r, ok := customerRank[t]
	if !ok {
		return -1
	}
	return r
}

// TypesAtOrAbove expands a minimum customer type into every type that meets
// it. An unknown minimum expands to nothing.
func TypesAtOrAbove(min db.CustomerType) []string {
	minRank := Rank(min)
	if minRank < 0 {
		return nil
	}

	var types []string
	for _, t := range hierarchyOrder {
		if customerRank[t] >= minRank {
			types = append(types, string(t))
		}
	}
	return types
}

// LeastRestrictiveTier picks the tier with the weakest minimum customer
// type. Ties keep the first tier encountered. Returns nil when no tier has a
// known minimum.
func LeastRestrictiveTier(tiers []db.LoyaltyTier) *db.LoyaltyTier {
	var best *db.LoyaltyTier
	bestRank := -1
	for i := range tiers {
		r := Rank(tiers[i].MinCustomerType)
		if r < 0 {
			continue
		}
		if best == nil || r < bestRank {
			best = &tiers[i]
			bestRank = r
		}
	}
	return best
}

// HasBudgetRemaining reports whether spend has not yet reached the budget.
func HasBudgetRemaining(used, net float64) bool {
	return used < net
}

// PercentageRange derives the cashback band from a config's tiers: the
// lowest and highest tier percentages. Nil bounds when there are no tiers.
func PercentageRange(tiers []db.CashbackTier) (min, max *float64) {
	for i := range tiers {
		p := tiers[i].Percentage
		if min == nil || p < *min {
			v := p
			min = &v
		}
		if max == nil || p > *max {
			v := p
			max = &v
		}
	}
	return min, max
}

// MerchantActive reports whether the offer's merchant can carry offers at
// all. A missing merchant record counts as inactive.
func MerchantActive(m *db.Merchant) bool {
	return m != nil && m.Status == db.MerchantActive
}

// CashbackEligible reports whether a cashback config should produce
// eligibility rows at all. Both window dates are optional; at least one
// active approved tier is required.
func CashbackEligible(c *db.CashbackConfig, now time.Time) bool {
	if !c.IsActive || c.DeletedAt != nil || c.ReviewStatus != db.ReviewApproved {
		return false
	}
	if !MerchantActive(c.Merchant) {
		return false
	}
	if len(c.Tiers) == 0 {
		return false
	}
	if c.StartDate != nil && c.StartDate.After(now) {
		return false
	}
	if c.EndDate != nil && c.EndDate.Before(now) {
		return false
	}
	return HasBudgetRemaining(c.UsedBudget, c.NetBudget)
}

// ExclusiveEligible reports whether an exclusive offer should produce
// eligibility rows. The window is mandatory and must contain now; the
// activate-new sweep recomputes offers whose window opens later.
func ExclusiveEligible(o *db.ExclusiveOffer, now time.Time) bool {
	if !o.IsActive || o.DeletedAt != nil || o.ReviewStatus != db.ReviewApproved {
		return false
	}
	if !MerchantActive(o.Merchant) {
		return false
	}
	if o.StartDate.After(now) || o.EndDate.Before(now) {
		return false
	}
	return HasBudgetRemaining(o.UsedBudget, o.NetBudget)
}

// LoyaltyEligible reports whether a loyalty program should produce
// eligibility rows. The program needs at least one active approved reward;
// the points limit is optional and, when set, a used-up allocation
// disqualifies the program.
func LoyaltyEligible(p *db.LoyaltyProgram) bool {
	if !p.IsActive || p.ReviewStatus != db.ReviewApproved {
		return false
	}
	if !MerchantActive(p.Merchant) {
		return false
	}
	if len(p.Rewards) == 0 {
		return false
	}
	if p.PointsIssuedLimit != nil && p.PointsUsedInPeriod >= *p.PointsIssuedLimit {
		return false
	}
	return true
}
