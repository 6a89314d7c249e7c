package model

import (
	"encoding/json"
	"time"
)

// OperationKind classifies processor-side money operations.
type OperationKind string

const (
	OperationCharge   OperationKind = "charge"
	OperationTransfer OperationKind = "transfer"
	OperationRefund   OperationKind = "refund"
)

// OperationStatus is the local view of a processor operation's state.
type OperationStatus string

const (
	OperationPending   OperationStatus = "PENDING"
	OperationSucceeded OperationStatus = "SUCCEEDED"
	OperationFailed    OperationStatus = "FAILED"
	OperationCancelled OperationStatus = "CANCELLED"
)

// PaymentOperation mirrors one processor-side operation (charge, transfer or
// refund), keyed by the processor's own id for idempotent lookup. Written by
// the executor, read and corrected by reconciliation.
type PaymentOperation struct {
	ID                 int64           `json:"-"`
	OperationID        string          `json:"operation_id"`
	ProcessorRef       string          `json:"processor_ref"`
	Kind               OperationKind   `json:"kind"`
	Amount             int64           `json:"amount"`
	Currency           string          `json:"currency"`
	Status             OperationStatus `json:"status"`
	DestinationAccount string          `json:"destination_account,omitempty"`
	OrderID            string          `json:"order_id,omitempty"`
	PayoutID           string          `json:"payout_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Terminal reports whether the operation can no longer change state.
func (op *PaymentOperation) Terminal() bool {
	switch op.Status {
	case OperationSucceeded, OperationFailed, OperationCancelled:
		return true
	}
	return false
}

// WebhookEvent is one verified inbound processor event, persisted exactly
// once keyed by the processor's event id. Duplicate delivery is a no-op.
type WebhookEvent struct {
	ID            int64           `json:"-"`
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Processed     bool            `json:"processed"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
