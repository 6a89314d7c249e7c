package processor

import (
	"context"
	"fmt"
)

// Adapter is the engine's only view of the external payment processor. The
// engine decides what to move and when; the processor moves it.
type Adapter interface {
	// CreateTransfer moves amount (minor units) to the destination account
	// and returns the processor's transfer reference.
	CreateTransfer(ctx context.Context, destination string, amount int64, currency string, metadata map[string]string) (string, error)
	// Refund reverses a prior operation, fully or partially.
	Refund(ctx context.Context, operationID string, amount int64) (string, error)
	// RetrieveAccountStatus reports an account's payout capabilities.
	RetrieveAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	// RetrieveOperation fetches the processor's live view of an operation.
	// This is the source of truth for ambiguous-outcome resolution.
	RetrieveOperation(ctx context.Context, id string) (*OperationState, error)
}

// AccountStatus is the processor's view of a connected account.
type AccountStatus struct {
	AccountID           string   `json:"account_id"`
	PayoutsEnabled      bool     `json:"payouts_enabled"`
	MissingCapabilities []string `json:"missing_capabilities"`
}

// OperationState is the processor's live view of one operation.
type OperationState struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// ErrorType classifies processor failures for retry decisions.
type ErrorType string

const (
	// ErrConnection covers network failures and timeouts; retryable with
	// backoff, but a timeout during a transfer is an unknown outcome.
	ErrConnection ErrorType = "connection"
	// ErrAuth covers authentication and configuration failures; fatal,
	// requires operator action.
	ErrAuth ErrorType = "authentication"
	// ErrRejected covers business-rule rejections; non-retryable.
	ErrRejected ErrorType = "rejected"
)

// Error is a classified processor failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processor %s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("processor %s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnection reports whether err is a connection-class processor error.
func IsConnection(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Type == ErrConnection
}

// IsRejected reports whether err is a business-rule rejection.
func IsRejected(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Type == ErrRejected
}
