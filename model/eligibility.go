package model

import "time"

// EligibilityState is the outcome of the seller-level payout gate. The gate
// short-circuits on the first blocking condition, so a result carries exactly
// one state plus the reason codes that produced it.
type EligibilityState string

const (
	Eligible                  EligibilityState = "ELIGIBLE"
	IneligibleDisabled        EligibilityState = "INELIGIBLE_DISABLED"
	IneligibleNoProfile       EligibilityState = "INELIGIBLE_NO_PROFILE"
	IneligibleSuspended       EligibilityState = "INELIGIBLE_SUSPENDED"
	IneligibleDisputeLock     EligibilityState = "INELIGIBLE_DISPUTE_LOCK"
	IneligibleNoCapabilities  EligibilityState = "INELIGIBLE_NO_CAPABILITIES"
	IneligibleCooldown        EligibilityState = "INELIGIBLE_COOLDOWN"
	IneligibleNegativeBalance EligibilityState = "INELIGIBLE_NEGATIVE_BALANCE"
	IneligibleNoFunds         EligibilityState = "INELIGIBLE_NO_FUNDS"
	IneligibleBalanceLow      EligibilityState = "INELIGIBLE_BALANCE_LOW"
)

// Blocking reason codes surfaced alongside an ineligible state.
const (
	ReasonPayoutsDisabled = "payouts_globally_disabled"
	ReasonProfileNotFound = "seller_profile_not_found"
	ReasonSellerSuspended = "seller_suspended"
	ReasonOpenDispute     = "open_dispute"
	ReasonRecentFailure   = "recent_payout_failure"
	ReasonNegativeBalance = "negative_balance"
	ReasonNoFunds         = "no_available_funds"
	ReasonBelowMinimum    = "balance_below_minimum"
)

// EligibilityFinancials snapshots the money figures the gate decided on.
// All amounts are minor units.
type EligibilityFinancials struct {
	Currency              string `json:"currency"`
	GrossAvailableBalance int64  `json:"gross_available_balance"`
	NetEligibleAmount     int64  `json:"net_eligible_amount"`
	MinThreshold          int64  `json:"min_threshold"`
}

// SellerEligibility is the fixed output record of the seller payout gate.
type SellerEligibility struct {
	SellerID             string                `json:"seller_id"`
	State                EligibilityState      `json:"eligibility_state"`
	PayoutAllowed        bool                  `json:"payout_allowed"`
	BlockingReasons      []string              `json:"blocking_reasons"`
	NextPossiblePayoutAt time.Time             `json:"next_possible_payout_at"`
	Financials           EligibilityFinancials `json:"financials"`
	EvaluatedAt          time.Time             `json:"evaluated_at"`
}
