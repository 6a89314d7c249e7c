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
package clearhold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/clearhold/clearhold/database/mocks"
	"github.com/clearhold/clearhold/model"
	"github.com/clearhold/clearhold/processor"
)

func reconFixture(t *testing.T) (*Clearhold, *mocks.MockDataSource, *mocks.MockProcessor) {
	t.Helper()
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	mockProc := new(mocks.MockProcessor)
	now := time.Date(2024, 6, 20, 10, 0, 0, 0, time.UTC)
	engine := &Clearhold{datasource: mockDS, processor: mockProc, now: func() time.Time { return now }}
	return engine, mockDS, mockProc
}

func noAccountDrift(mockDS *mocks.MockDataSource) {
	mockDS.On("GetActiveSellerIDs", mock.Anything).Return([]string{}, nil)
}

func TestTranslateProcessorStatus(t *testing.T) {
	tests := []struct {
		in   string
		want model.OperationStatus
	}{
		{"succeeded", model.OperationSucceeded},
		{"paid", model.OperationSucceeded},
		{"pending", model.OperationPending},
		{"in_transit", model.OperationPending},
		{"failed", model.OperationFailed},
		{"reversed", model.OperationFailed},
		{"canceled", model.OperationCancelled},
		{"PAID", model.OperationSucceeded},
		{"something_new", model.OperationPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, translateProcessorStatus(tt.in), tt.in)
	}
}

func TestReconciliationHealsAmountDrift(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, model.OperationCharge, mock.Anything, 100).Return([]*model.PaymentOperation{
		{OperationID: "op_1", ProcessorRef: "pi_1", Kind: model.OperationCharge,
			Amount: 5000, Currency: "USD", Status: model.OperationSucceeded},
	}, nil)
	mockDS.On("GetOperationsSince", mock.Anything, model.OperationTransfer, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	noAccountDrift(mockDS)

	mockProc.On("RetrieveOperation", mock.Anything, "pi_1").Return(&processor.OperationState{
		ID: "pi_1", Status: "succeeded", Amount: 6000, Currency: "USD",
	}, nil)
	mockDS.On("OverwriteOperation", mock.Anything, mock.MatchedBy(func(op *model.PaymentOperation) bool {
		return op.OperationID == "op_1" && op.Amount == 6000 && op.Status == model.OperationSucceeded
	})).Return(nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{})
	assert.NoError(t, err)
	assert.Len(t, summary.Discrepancies, 1)
	d := summary.Discrepancies[0]
	assert.Equal(t, "amount", d.Field)
	assert.Equal(t, "5000", d.LocalValue)
	assert.Equal(t, "6000", d.ProcessorValue)
	assert.True(t, d.Healed)
	assert.Equal(t, 1, summary.Categories[model.CategoryPaymentOperations].Discrepant)
	mockDS.AssertExpectations(t)
}

func TestReconciliationDryRunDoesNotHeal(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, model.OperationCharge, mock.Anything, 100).Return([]*model.PaymentOperation{
		{OperationID: "op_1", ProcessorRef: "pi_1", Kind: model.OperationCharge,
			Amount: 5000, Currency: "USD", Status: model.OperationSucceeded},
	}, nil)
	mockDS.On("GetOperationsSince", mock.Anything, model.OperationTransfer, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	noAccountDrift(mockDS)

	mockProc.On("RetrieveOperation", mock.Anything, "pi_1").Return(&processor.OperationState{
		ID: "pi_1", Status: "succeeded", Amount: 6000, Currency: "USD",
	}, nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{DryRun: true})
	assert.NoError(t, err)
	assert.Len(t, summary.Discrepancies, 1)
	assert.False(t, summary.Discrepancies[0].Healed)
	mockDS.AssertNotCalled(t, "OverwriteOperation", mock.Anything, mock.Anything)
}

func TestReconciliationResolvesStuckPayout(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, model.OperationCharge, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	// A transfer mirrored PENDING locally whose outcome the executor never saw.
	mockDS.On("GetOperationsSince", mock.Anything, model.OperationTransfer, mock.Anything, 100).Return([]*model.PaymentOperation{
		{OperationID: "op_1", ProcessorRef: "tr_1", Kind: model.OperationTransfer,
			Amount: 10000, Currency: "USD", Status: model.OperationPending, PayoutID: "pay_1"},
	}, nil)
	noAccountDrift(mockDS)

	mockProc.On("RetrieveOperation", mock.Anything, "tr_1").Return(&processor.OperationState{
		ID: "tr_1", Status: "paid", Amount: 10000, Currency: "USD",
	}, nil)
	mockDS.On("OverwriteOperation", mock.Anything, mock.Anything).Return(nil)

	mockDS.On("GetPayout", mock.Anything, "pay_1").Return(&model.Payout{
		PayoutID: "pay_1", OrderID: "ord_1", SellerID: "seller_1",
		Currency: "USD", Amount: 10000, NetAmount: 10000,
		Status: model.PayoutProcessing,
	}, nil)
	mockDS.On("EntryExistsByExternalID", mock.Anything, "complete_pay_1").Return(false, nil)
	mockDS.On("AppendEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.Type == model.EntryPayoutCompletion && e.MetaData["transfer_id"] == "tr_1"
	})).Return(&model.LedgerEntry{}, nil)
	mockDS.On("UpdatePayoutStatus", mock.Anything, "pay_1", model.PayoutSucceeded, "tr_1", "").Return(nil)
	mockDS.On("UpdateOrderEligibilityStatus", mock.Anything, "ord_1", model.OrderPaid).Return(nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{})
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Categories[model.CategoryTransferOperations].Discrepant)
	mockDS.AssertExpectations(t)
}

func TestReconciliationAccountCapabilityLost(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, mock.Anything, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	mockDS.On("GetActiveSellerIDs", mock.Anything).Return([]string{"seller_1"}, nil)
	mockDS.On("GetSellerProfile", mock.Anything, "seller_1").Return(&model.SellerProfile{
		SellerID: "seller_1", ProcessorAccountID: "acct_1",
	}, nil)
	mockProc.On("RetrieveAccountStatus", mock.Anything, "acct_1").Return(&processor.AccountStatus{
		AccountID: "acct_1", PayoutsEnabled: false,
	}, nil)
	mockDS.On("GetInFlightPayoutsBySeller", mock.Anything, "seller_1").Return([]*model.Payout{}, nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{})
	assert.NoError(t, err)
	assert.Len(t, summary.Discrepancies, 1)
	d := summary.Discrepancies[0]
	assert.Equal(t, model.CategoryProcessorAccounts, d.Category)
	assert.Equal(t, "payouts_enabled", d.Field)
	// Capability loss is never auto-healed, only acted on.
	assert.False(t, d.Healed)
	mockDS.AssertExpectations(t)
}

func TestReconciliationBalanceDriftIsFlagOnly(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, mock.Anything, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	noAccountDrift(mockDS)

	// Local ledger says 10000 left the platform; the processor says 9000.
	mockDS.On("GetPayoutsSince", mock.Anything, mock.Anything, 100).Return([]*model.Payout{
		{PayoutID: "pay_1", TransferID: "tr_1", NetAmount: 10000, Status: model.PayoutSucceeded},
	}, nil)
	mockProc.On("RetrieveOperation", mock.Anything, "tr_1").Return(&processor.OperationState{
		ID: "tr_1", Status: "paid", Amount: 9000, Currency: "USD",
	}, nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{IncludeBalances: true})
	assert.NoError(t, err)
	assert.Len(t, summary.Discrepancies, 1)
	d := summary.Discrepancies[0]
	assert.Equal(t, model.CategoryPlatformBalance, d.Category)
	assert.Equal(t, "10000", d.LocalValue)
	assert.Equal(t, "9000", d.ProcessorValue)
	assert.False(t, d.Healed)
	mockDS.AssertNotCalled(t, "OverwriteOperation", mock.Anything, mock.Anything)
}

func TestReconciliationBalanceDriftWithinTolerance(t *testing.T) {
	engine, mockDS, mockProc := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, mock.Anything, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	noAccountDrift(mockDS)

	// Drift of 50 minor units sits inside the default tolerance of 100.
	mockDS.On("GetPayoutsSince", mock.Anything, mock.Anything, 100).Return([]*model.Payout{
		{PayoutID: "pay_1", TransferID: "tr_1", NetAmount: 10000, Status: model.PayoutSucceeded},
	}, nil)
	mockProc.On("RetrieveOperation", mock.Anything, "tr_1").Return(&processor.OperationState{
		ID: "tr_1", Status: "paid", Amount: 9950, Currency: "USD",
	}, nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{IncludeBalances: true})
	assert.NoError(t, err)
	assert.Empty(t, summary.Discrepancies)
}

func TestReconciliationRedispatchesStalledEvents(t *testing.T) {
	engine, mockDS, _ := reconFixture(t)

	mockDS.On("GetOperationsSince", mock.Anything, mock.Anything, mock.Anything, 100).Return([]*model.PaymentOperation{}, nil)
	noAccountDrift(mockDS)

	stalled := &model.WebhookEvent{
		EventID: "evt_1", Type: "customer.created", Attempts: 2,
	}
	mockDS.On("GetRetryableEvents", mock.Anything, 5, mock.Anything, 100).Return([]*model.WebhookEvent{stalled}, nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_1").Return(nil)

	summary, err := engine.RunReconciliation(context.Background(), model.ReconciliationRequest{IncludeWebhooks: true})
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Categories[model.CategoryWebhookEvents].Checked)
	mockDS.AssertExpectations(t)
}

func TestReconciliationSuccessRate(t *testing.T) {
	s := &model.ReconciliationSummary{Categories: map[string]model.CategoryResult{
		"a": {Checked: 8},
		"b": {Checked: 2, Discrepant: 1},
	}}
	s.ComputeSuccessRate()
	assert.Equal(t, 10, s.TotalChecked())
	assert.InDelta(t, 0.9, s.SuccessRate, 0.0001)

	empty := &model.ReconciliationSummary{Categories: map[string]model.CategoryResult{}}
	empty.ComputeSuccessRate()
	assert.Equal(t, float64(1), empty.SuccessRate)
}
