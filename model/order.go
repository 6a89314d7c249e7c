package model

import "time"

// Order lifecycle fields the engine reads or owns. The commerce lifecycle
// (status, delivery) is owned elsewhere; this engine owns the eligibility
// status and the hold dates.
const (
	OrderStatusCompleted = "completed"

	DeliveryStatusDelivered = "delivered"
)

// EscrowStatus tracks where an order's buyer funds sit.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// OrderEligibilityStatus is the order-level promotion state machine.
type OrderEligibilityStatus string

const (
	OrderPendingMaturity     OrderEligibilityStatus = "PENDING_MATURITY"
	OrderEligibleForPayout   OrderEligibilityStatus = "ELIGIBLE_FOR_PAYOUT"
	OrderPaid                OrderEligibilityStatus = "PAID"
	OrderRefunded            OrderEligibilityStatus = "REFUNDED"
	OrderIneligibleSuspended OrderEligibilityStatus = "INELIGIBLE_SUSPENDED"
)

type Order struct {
	ID                int64                  `json:"-"`
	OrderID           string                 `json:"order_id"`
	SellerID          string                 `json:"seller_id"`
	BuyerID           string                 `json:"buyer_id"`
	TotalAmount       int64                  `json:"total_amount"`
	Currency          string                 `json:"currency"`
	Status            string                 `json:"status"`
	DeliveryStatus    string                 `json:"delivery_status"`
	DeliveredAt       time.Time              `json:"delivered_at"`
	ProcessedAt       time.Time              `json:"processed_at"`
	EscrowStatus      EscrowStatus           `json:"escrow_status"`
	EligibilityStatus OrderEligibilityStatus `json:"eligibility_status"`
	HoldStartAt       time.Time              `json:"hold_start_at"`
	ReleaseExpectedAt time.Time              `json:"release_expected_at"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

// Delivered reports whether the order is both completed and delivered, the
// precondition for any ledger release.
func (o *Order) Delivered() bool {
	return o.Status == OrderStatusCompleted && o.DeliveryStatus == DeliveryStatusDelivered
}

// SellerTier grades sellers by trust; the tier drives the escrow hold window.
type SellerTier string

const (
	TierA SellerTier = "TIER_A" // trusted
	TierB SellerTier = "TIER_B" // standard
	TierC SellerTier = "TIER_C" // new
)

type RiskStatus string

const (
	RiskActive    RiskStatus = "ACTIVE"
	RiskSuspended RiskStatus = "SUSPENDED"
)

// SellerProfile is read-only to the engine.
type SellerProfile struct {
	SellerID           string     `json:"seller_id"`
	RiskStatus         RiskStatus `json:"risk_status"`
	Tier               SellerTier `json:"seller_level"`
	ProcessorAccountID string     `json:"processor_account_id"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Dispute is read-only to the engine. Any non-terminal dispute is a hard
// payout blocker for its seller.
type Dispute struct {
	DisputeID string    `json:"dispute_id"`
	SellerID  string    `json:"seller_id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	DisputeOpen          = "OPEN"
	DisputeUnderReview   = "UNDER_REVIEW"
	DisputeNeedsResponse = "NEEDS_RESPONSE"
	DisputeResolved      = "RESOLVED"
	DisputeClosed        = "CLOSED"
)

// Terminal reports whether the dispute no longer blocks payouts.
func (d *Dispute) Terminal() bool {
	return d.Status == DisputeResolved || d.Status == DisputeClosed
}
