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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/clearhold/clearhold/model"
	"github.com/clearhold/clearhold/processor"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Ledger methods

func (m *MockDataSource) AppendEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) AppendEntries(ctx context.Context, entries []*model.LedgerEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockDataSource) GetAvailableBalance(ctx context.Context, userUid, currency string) (int64, error) {
	args := m.Called(ctx, userUid, currency)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetEntriesByOrder(ctx context.Context, orderID string) ([]*model.LedgerEntry, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) EntryExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

// Order methods

func (m *MockDataSource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) UpdateOrderHoldDates(ctx context.Context, orderID string, holdStartAt, releaseExpectedAt time.Time, status model.OrderEligibilityStatus) error {
	args := m.Called(ctx, orderID, holdStartAt, releaseExpectedAt, status)
	return args.Error(0)
}

func (m *MockDataSource) UpdateOrderEligibilityStatus(ctx context.Context, orderID string, status model.OrderEligibilityStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *MockDataSource) UpdateOrderEscrowStatus(ctx context.Context, orderID string, status model.EscrowStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *MockDataSource) GetMaturedOrders(ctx context.Context, asOf time.Time, limit int) ([]*model.Order, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockDataSource) GetEligibleOrders(ctx context.Context, sellerID, currency string) ([]*model.Order, error) {
	args := m.Called(ctx, sellerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockDataSource) GetSellerProfile(ctx context.Context, sellerID string) (*model.SellerProfile, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SellerProfile), args.Error(1)
}

func (m *MockDataSource) GetSellerProfileByAccount(ctx context.Context, processorAccountID string) (*model.SellerProfile, error) {
	args := m.Called(ctx, processorAccountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SellerProfile), args.Error(1)
}

func (m *MockDataSource) GetActiveSellerIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDataSource) GetOpenDisputes(ctx context.Context, sellerID string) ([]*model.Dispute, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Dispute), args.Error(1)
}

// Schedule methods

func (m *MockDataSource) RecordSchedule(ctx context.Context, s *model.PayoutSchedule) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDataSource) GetSchedule(ctx context.Context, sellerID, currency string, windowDate time.Time) (*model.PayoutSchedule, error) {
	args := m.Called(ctx, sellerID, currency, windowDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutSchedule), args.Error(1)
}

func (m *MockDataSource) GetScheduleByID(ctx context.Context, scheduleID string) (*model.PayoutSchedule, error) {
	args := m.Called(ctx, scheduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutSchedule), args.Error(1)
}

func (m *MockDataSource) UpdateScheduleStatus(ctx context.Context, scheduleID string, status model.ScheduleStatus) error {
	args := m.Called(ctx, scheduleID, status)
	return args.Error(0)
}

func (m *MockDataSource) GetClaimedOrderIDs(ctx context.Context, sellerID, currency string) (map[string]struct{}, error) {
	args := m.Called(ctx, sellerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockDataSource) GetScheduleForOrder(ctx context.Context, orderID string) (*model.PayoutSchedule, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PayoutSchedule), args.Error(1)
}

// Payout methods

func (m *MockDataSource) RecordPayout(ctx context.Context, p *model.Payout) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	args := m.Called(ctx, payoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetActivePayoutForOrder(ctx context.Context, orderID string) (*model.Payout, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, transferID, failureReason string) error {
	args := m.Called(ctx, payoutID, status, transferID, failureReason)
	return args.Error(0)
}

func (m *MockDataSource) GetLastFailedPayout(ctx context.Context, sellerID, currency string, since time.Time) (*model.Payout, error) {
	args := m.Called(ctx, sellerID, currency, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetInFlightPayoutsBySeller(ctx context.Context, sellerID string) ([]*model.Payout, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Payout), args.Error(1)
}

func (m *MockDataSource) GetPayoutsSince(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Payout), args.Error(1)
}

// Operation methods

func (m *MockDataSource) RecordOperation(ctx context.Context, op *model.PaymentOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockDataSource) GetOperationByProcessorRef(ctx context.Context, ref string) (*model.PaymentOperation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentOperation), args.Error(1)
}

func (m *MockDataSource) UpdateOperationStatus(ctx context.Context, operationID string, status model.OperationStatus) error {
	args := m.Called(ctx, operationID, status)
	return args.Error(0)
}

func (m *MockDataSource) OverwriteOperation(ctx context.Context, op *model.PaymentOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockDataSource) GetOperationsSince(ctx context.Context, kind model.OperationKind, since time.Time, limit int) ([]*model.PaymentOperation, error) {
	args := m.Called(ctx, kind, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PaymentOperation), args.Error(1)
}

// Event methods

func (m *MockDataSource) RecordWebhookEvent(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *MockDataSource) MarkEventProcessed(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockDataSource) TouchEventAttempt(ctx context.Context, eventID string, at time.Time) error {
	args := m.Called(ctx, eventID, at)
	return args.Error(0)
}

func (m *MockDataSource) GetRetryableEvents(ctx context.Context, maxAttempts int, notTriedSince time.Time, limit int) ([]*model.WebhookEvent, error) {
	args := m.Called(ctx, maxAttempts, notTriedSince, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEvent), args.Error(1)
}

// MockProcessor is a mock implementation of the processor.Adapter interface
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateTransfer(ctx context.Context, destination string, amount int64, currency string, metadata map[string]string) (string, error) {
	args := m.Called(ctx, destination, amount, currency, metadata)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) Refund(ctx context.Context, operationID string, amount int64) (string, error) {
	args := m.Called(ctx, operationID, amount)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) RetrieveAccountStatus(ctx context.Context, accountID string) (*processor.AccountStatus, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.AccountStatus), args.Error(1)
}

func (m *MockProcessor) RetrieveOperation(ctx context.Context, id string) (*processor.OperationState, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.OperationState), args.Error(1)
}
