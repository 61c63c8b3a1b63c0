package db

import (
	"time"

	"github.com/google/uuid"
)

// OfferType identifies which offer variant an eligibility row belongs to.
type OfferType string

const (
	OfferTypeCashback  OfferType = "CASHBACK"
	OfferTypeExclusive OfferType = "EXCLUSIVE"
	OfferTypeLoyalty   OfferType = "LOYALTY"
)

// EntityType identifies the offer entity behind a queue entry.
type EntityType string

const (
	EntityCashbackConfig EntityType = "CASHBACK_CONFIG"
	EntityExclusiveOffer EntityType = "EXCLUSIVE_OFFER"
	EntityLoyaltyProgram EntityType = "LOYALTY_PROGRAM"
)

// Queue entry status constants
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// Review status constants
const (
	ReviewApproved = "Approved"
	ReviewPending  = "Pending"
	ReviewRejected = "Rejected"
)

// Merchant status constants
const (
	MerchantActive    = "Active"
	MerchantSuspended = "Suspended"
)

// CustomerType classifies a user's relationship depth with a merchant.
type CustomerType string

const (
	CustomerNonCustomer CustomerType = "NonCustomer"
	CustomerNew         CustomerType = "New"
	CustomerInfrequent  CustomerType = "Infrequent"
	CustomerOccasional  CustomerType = "Occasional"
	CustomerRegular     CustomerType = "Regular"
	CustomerVip         CustomerType = "Vip"
)

// CustomerTokenAll is the special list token meaning "every known user".
// The NonCustomer type doubles as a token meaning "users with no
// relationship to this merchant".
const CustomerTokenAll = "All"

// Merchant is the owning business for offers and outlets.
type Merchant struct {
	ID           uuid.UUID `json:"id"`
	BusinessName string    `json:"business_name"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
}

// Outlet is a physical or virtual location where an offer is redeemable.
type Outlet struct {
	ID           uuid.UUID `json:"id"`
	MerchantID   uuid.UUID `json:"merchant_id"`
	Name         string    `json:"name"`
	IsActive     bool      `json:"is_active"`
	ReviewStatus string    `json:"review_status"`
}

// CashbackTier is one percentage band inside a cashback configuration.
type CashbackTier struct {
	ID           uuid.UUID `json:"id"`
	ConfigID     uuid.UUID `json:"config_id"`
	Percentage   float64   `json:"percentage"`
	IsActive     bool      `json:"is_active"`
	ReviewStatus string    `json:"review_status"`
}

// CashbackConfig is a merchant's cashback offer with its tiers.
// Nested collections are filtered to active+approved at load time.
type CashbackConfig struct {
	ID                    uuid.UUID      `json:"id"`
	MerchantID            uuid.UUID      `json:"merchant_id"`
	IsActive              bool           `json:"is_active"`
	DeletedAt             *time.Time     `json:"deleted_at,omitempty"`
	ReviewStatus          string         `json:"review_status"`
	EligibleCustomerTypes []string       `json:"eligible_customer_types"`
	StartDate             *time.Time     `json:"start_date,omitempty"`
	EndDate               *time.Time     `json:"end_date,omitempty"`
	NetBudget             float64        `json:"net_budget"`
	UsedBudget            float64        `json:"used_budget"`
	EligibilityComputedAt *time.Time     `json:"eligibility_computed_at,omitempty"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Merchant              *Merchant      `json:"merchant,omitempty"`
	Outlets               []Outlet       `json:"outlets,omitempty"`
	Tiers                 []CashbackTier `json:"tiers,omitempty"`
}

// ExclusiveOffer is a time-boxed merchant offer with a mandatory window.
type ExclusiveOffer struct {
	ID                    uuid.UUID  `json:"id"`
	MerchantID            uuid.UUID  `json:"merchant_id"`
	IsActive              bool       `json:"is_active"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty"`
	ReviewStatus          string     `json:"review_status"`
	EligibleCustomerTypes []string   `json:"eligible_customer_types"`
	StartDate             time.Time  `json:"start_date"`
	EndDate               time.Time  `json:"end_date"`
	NetBudget             float64    `json:"net_budget"`
	UsedBudget            float64    `json:"used_budget"`
	EligibilityComputedAt *time.Time `json:"eligibility_computed_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Merchant              *Merchant  `json:"merchant,omitempty"`
	Outlets               []Outlet   `json:"outlets,omitempty"`
}

// LoyaltyTier gates program membership by a minimum customer type.
type LoyaltyTier struct {
	ID              uuid.UUID    `json:"id"`
	ProgramID       uuid.UUID    `json:"program_id"`
	Name            string       `json:"name"`
	MinCustomerType CustomerType `json:"min_customer_type"`
	IsActive        bool         `json:"is_active"`
	ReviewStatus    string       `json:"review_status"`
}

// LoyaltyReward is a redeemable item inside a loyalty program.
type LoyaltyReward struct {
	ID           uuid.UUID `json:"id"`
	ProgramID    uuid.UUID `json:"program_id"`
	Name         string    `json:"name"`
	PointsCost   int       `json:"points_cost"`
	IsActive     bool      `json:"is_active"`
	ReviewStatus string    `json:"review_status"`
}

// LoyaltyProgram is a merchant's (at most one) points program.
// Outlets come from the merchant since loyalty applies merchant-wide.
type LoyaltyProgram struct {
	ID                    uuid.UUID       `json:"id"`
	MerchantID            uuid.UUID       `json:"merchant_id"`
	IsActive              bool            `json:"is_active"`
	ReviewStatus          string          `json:"review_status"`
	PointsIssuedLimit     *float64        `json:"points_issued_limit,omitempty"`
	PointsUsedInPeriod    float64         `json:"points_used_in_period"`
	EligibilityComputedAt *time.Time      `json:"eligibility_computed_at,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Merchant              *Merchant       `json:"merchant,omitempty"`
	Outlets               []Outlet        `json:"outlets,omitempty"`
	Tiers                 []LoyaltyTier   `json:"tiers,omitempty"`
	Rewards               []LoyaltyReward `json:"rewards,omitempty"`
}

// EligibilityRow is the materialized fact: this user may currently see this
// offer at this outlet. Uniqueness is on (user_id, outlet_id, offer_type,
// offer_id); rows are replaced wholesale per offer, never mutated except for
// flag flips by the scheduler.
type EligibilityRow struct {
	UserID             uuid.UUID  `json:"user_id"`
	OutletID           uuid.UUID  `json:"outlet_id"`
	OfferType          OfferType  `json:"offer_type"`
	OfferID            uuid.UUID  `json:"offer_id"`
	MerchantID         uuid.UUID  `json:"merchant_id"`
	MerchantName       string     `json:"merchant_name"`
	MerchantCategory   string     `json:"merchant_category"`
	OutletName         string     `json:"outlet_name"`
	ValidFrom          time.Time  `json:"valid_from"`
	ValidUntil         *time.Time `json:"valid_until,omitempty"`
	IsActive           bool       `json:"is_active"`
	HasBudgetRemaining bool       `json:"has_budget_remaining"`
	MinPercentage      *float64   `json:"min_percentage,omitempty"`
	MaxPercentage      *float64   `json:"max_percentage,omitempty"`
	ComputedAt         time.Time  `json:"computed_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// QueueEntry records one pending/processing/terminal recompute request.
// At most one non-terminal entry exists per (entity_type, entity_id).
type QueueEntry struct {
	ID            uuid.UUID  `json:"id"`
	EntityType    EntityType `json:"entity_type"`
	EntityID      uuid.UUID  `json:"entity_id"`
	Reason        string     `json:"reason"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ComputationLog is an observability record of one materializer run.
type ComputationLog struct {
	ID              uuid.UUID  `json:"id"`
	EntityType      EntityType `json:"entity_type"`
	EntityID        uuid.UUID  `json:"entity_id"`
	Operation       string     `json:"operation"`
	RecordsAffected int        `json:"records_affected"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OfferTypeFor maps a queue entity type to its eligibility row offer type.
func OfferTypeFor(entityType EntityType) OfferType {
	switch entityType {
	case EntityCashbackConfig:
		return OfferTypeCashback
	case EntityExclusiveOffer:
		return OfferTypeExclusive
	case EntityLoyaltyProgram:
		return OfferTypeLoyalty
	default:
		return ""
	}
}
