/*
Copyright 2024 ClearHold Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"time"

	"github.com/clearhold/clearhold/model"
)

// IDataSource defines the interface for data source operations, grouping
// related functionalities.
type IDataSource interface {
	ledger
	order
	schedule
	payout
	operation
	event
}

// ledger defines methods for the append-only entry store.
type ledger interface {
	AppendEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error)
	AppendEntries(ctx context.Context, entries []*model.LedgerEntry) error
	GetAvailableBalance(ctx context.Context, userUid, currency string) (int64, error)
	GetEntriesByOrder(ctx context.Context, orderID string) ([]*model.LedgerEntry, error)
	EntryExistsByExternalID(ctx context.Context, externalID string) (bool, error)
}

// order defines the order, seller-profile and dispute reads plus the
// engine-owned order field writes.
type order interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrderHoldDates(ctx context.Context, orderID string, holdStartAt, releaseExpectedAt time.Time, status model.OrderEligibilityStatus) error
	UpdateOrderEligibilityStatus(ctx context.Context, orderID string, status model.OrderEligibilityStatus) error
	UpdateOrderEscrowStatus(ctx context.Context, orderID string, status model.EscrowStatus) error
	GetMaturedOrders(ctx context.Context, asOf time.Time, limit int) ([]*model.Order, error)
	GetEligibleOrders(ctx context.Context, sellerID, currency string) ([]*model.Order, error)
	GetSellerProfile(ctx context.Context, sellerID string) (*model.SellerProfile, error)
	GetSellerProfileByAccount(ctx context.Context, processorAccountID string) (*model.SellerProfile, error)
	GetActiveSellerIDs(ctx context.Context) ([]string, error)
	GetOpenDisputes(ctx context.Context, sellerID string) ([]*model.Dispute, error)
}

// schedule defines methods for payout windows.
type schedule interface {
	RecordSchedule(ctx context.Context, s *model.PayoutSchedule) error
	GetSchedule(ctx context.Context, sellerID, currency string, windowDate time.Time) (*model.PayoutSchedule, error)
	GetScheduleByID(ctx context.Context, scheduleID string) (*model.PayoutSchedule, error)
	UpdateScheduleStatus(ctx context.Context, scheduleID string, status model.ScheduleStatus) error
	GetClaimedOrderIDs(ctx context.Context, sellerID, currency string) (map[string]struct{}, error)
	GetScheduleForOrder(ctx context.Context, orderID string) (*model.PayoutSchedule, error)
}

// payout defines methods for execution attempts.
type payout interface {
	RecordPayout(ctx context.Context, p *model.Payout) error
	GetPayout(ctx context.Context, payoutID string) (*model.Payout, error)
	GetActivePayoutForOrder(ctx context.Context, orderID string) (*model.Payout, error)
	UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, transferID, failureReason string) error
	GetLastFailedPayout(ctx context.Context, sellerID, currency string, since time.Time) (*model.Payout, error)
	GetInFlightPayoutsBySeller(ctx context.Context, sellerID string) ([]*model.Payout, error)
	GetPayoutsSince(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error)
}

// operation defines methods for mirrored processor operations.
type operation interface {
	RecordOperation(ctx context.Context, op *model.PaymentOperation) error
	GetOperationByProcessorRef(ctx context.Context, ref string) (*model.PaymentOperation, error)
	UpdateOperationStatus(ctx context.Context, operationID string, status model.OperationStatus) error
	OverwriteOperation(ctx context.Context, op *model.PaymentOperation) error
	GetOperationsSince(ctx context.Context, kind model.OperationKind, since time.Time, limit int) ([]*model.PaymentOperation, error)
}

// event defines methods for inbound webhook events.
type event interface {
	RecordWebhookEvent(ctx context.Context, e *model.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	TouchEventAttempt(ctx context.Context, eventID string, at time.Time) error
	GetRetryableEvents(ctx context.Context, maxAttempts int, notTriedSince time.Time, limit int) ([]*model.WebhookEvent, error)
}
