package model

import "time"

// EntryType identifies the business event a ledger entry documents.
type EntryType string

const (
	EntryEscrowLock          EntryType = "escrow_lock"
	EntryEscrowReleaseDebit  EntryType = "escrow_release_debit"
	EntryEscrowReleaseCredit EntryType = "escrow_release_credit"
	EntryPayoutReservation   EntryType = "payout_reservation"
	EntryPayoutReversal      EntryType = "payout_reversal"
	EntryPayoutCompletion    EntryType = "payout_completion"
	EntryRefundDebit         EntryType = "refund_debit"
	EntryRefundCredit        EntryType = "refund_credit"
)

// EntryStatus determines whether an entry counts toward the spendable balance.
type EntryStatus string

const (
	EntryStatusLocked    EntryStatus = "locked"
	EntryStatusAvailable EntryStatus = "available"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// LedgerEntry is an immutable double-entry accounting record. Entries are
// only ever appended; corrections are new offsetting entries so the audit
// trail stays complete. Amount is signed, in minor currency units.
type LedgerEntry struct {
	ID             int64                  `json:"-"`
	EntryID        string                 `json:"entry_id"`
	UserUid        string                 `json:"user_uid"`
	Role           Role                   `json:"role"`
	Type           EntryType              `json:"type"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	Status         EntryStatus            `json:"status"`
	RelatedOrderID string                 `json:"related_order_id"`
	ExternalID     string                 `json:"external_id"`
	CreatedAt      time.Time              `json:"created_at"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}
