package model

import "time"

// ScheduleStatus is the payout-window state machine. A schedule is created
// exactly once per (seller, currency, window date) and is never re-created.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "SCHEDULED"
	ScheduleSkipped   ScheduleStatus = "SKIPPED"
	ScheduleConsumed  ScheduleStatus = "CONSUMED"
	ScheduleCancelled ScheduleStatus = "CANCELLED"
)

// PayoutSchedule reserves a claim on a set of eligible orders for one payout
// window. It never moves money itself; the executor consumes it.
type PayoutSchedule struct {
	ID                  int64              `json:"-"`
	ScheduleID          string             `json:"schedule_id"`
	SellerID            string             `json:"seller_id"`
	Currency            string             `json:"currency"`
	WindowDate          time.Time          `json:"window_date"`
	Status              ScheduleStatus     `json:"status"`
	EligibilitySnapshot *SellerEligibility `json:"eligibility_snapshot,omitempty"`
	IncludedOrderIDs    []string           `json:"included_order_ids"`
	TotalCount          int                `json:"total_count"`
	TotalAmount         int64              `json:"total_amount"`
	CreatedAt           time.Time          `json:"created_at"`
}

// PayoutStatus is per execution attempt. RESERVED and PROCESSING are
// non-terminal; SUCCEEDED, FAILED and CANCELLED are terminal.
type PayoutStatus string

const (
	PayoutReserved   PayoutStatus = "RESERVED"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutSucceeded  PayoutStatus = "SUCCEEDED"
	PayoutFailed     PayoutStatus = "FAILED"
	PayoutCancelled  PayoutStatus = "CANCELLED"
)

// Payout is one execution attempt against the external processor. Amounts
// are minor units; NetAmount = Amount - Fee.
type Payout struct {
	ID            int64        `json:"-"`
	PayoutID      string       `json:"payout_id"`
	OrderID       string       `json:"order_id"`
	ScheduleID    string       `json:"schedule_id,omitempty"`
	SellerID      string       `json:"seller_id"`
	Currency      string       `json:"currency"`
	Amount        int64        `json:"amount"`
	Fee           int64        `json:"fee"`
	NetAmount     int64        `json:"net_amount"`
	Status        PayoutStatus `json:"status"`
	TransferID    string       `json:"transfer_id,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	ReservedAt    time.Time    `json:"reserved_at"`
	CompletedAt   time.Time    `json:"completed_at,omitempty"`
}

// Terminal reports whether this attempt can no longer change state.
func (p *Payout) Terminal() bool {
	switch p.Status {
	case PayoutSucceeded, PayoutFailed, PayoutCancelled:
		return true
	}
	return false
}
