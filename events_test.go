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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/clearhold/clearhold/database/mocks"
	"github.com/clearhold/clearhold/model"
)

func eventFixture(t *testing.T) (*Clearhold, *mocks.MockDataSource) {
	t.Helper()
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	now := time.Date(2024, 6, 20, 10, 0, 0, 0, time.UTC)
	engine := &Clearhold{datasource: mockDS, now: func() time.Time { return now }}
	return engine, mockDS
}

func TestProcessWebhookEventDuplicateProcessedIsNoOp(t *testing.T) {
	engine, mockDS := eventFixture(t)

	event := &model.WebhookEvent{EventID: "evt_1", Type: EventTransferPaid, Payload: json.RawMessage(`{}`)}
	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(false, nil)
	mockDS.On("GetWebhookEvent", mock.Anything, "evt_1").Return(&model.WebhookEvent{
		EventID: "evt_1", Type: EventTransferPaid, Processed: true,
	}, nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "GetOperationByProcessorRef", mock.Anything, mock.Anything)
	mockDS.AssertNotCalled(t, "MarkEventProcessed", mock.Anything, mock.Anything)
}

func TestProcessWebhookEventUnknownTypeAcknowledged(t *testing.T) {
	engine, mockDS := eventFixture(t)

	event := &model.WebhookEvent{EventID: "evt_2", Type: "customer.created", Payload: json.RawMessage(`{}`)}
	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_2").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestProcessWebhookEventRejectsUnidentified(t *testing.T) {
	engine, _ := eventFixture(t)
	err := engine.ProcessWebhookEvent(context.Background(), &model.WebhookEvent{Type: EventTransferPaid})
	assert.Error(t, err)
	err = engine.ProcessWebhookEvent(context.Background(), &model.WebhookEvent{EventID: "evt_x"})
	assert.Error(t, err)
}

func TestPaymentIntentSucceededCreatesMissingOperation(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"id": "pi_1", "amount": 10000, "currency": "USD",
	})
	event := &model.WebhookEvent{EventID: "evt_3", Type: EventPaymentIntentSucceeded, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetOperationByProcessorRef", mock.Anything, "pi_1").Return(nil, nil)
	mockDS.On("RecordOperation", mock.Anything, mock.MatchedBy(func(op *model.PaymentOperation) bool {
		return op.ProcessorRef == "pi_1" && op.Kind == model.OperationCharge &&
			op.Amount == 10000 && op.Status == model.OperationPending
	})).Return(nil)
	mockDS.On("UpdateOperationStatus", mock.Anything, mock.Anything, model.OperationSucceeded).Return(nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_3").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestPaymentIntentEventSkipsTerminalOperation(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{"id": "pi_1"})
	event := &model.WebhookEvent{EventID: "evt_4", Type: EventPaymentIntentFailed, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetOperationByProcessorRef", mock.Anything, "pi_1").Return(&model.PaymentOperation{
		OperationID: "op_1", ProcessorRef: "pi_1", Status: model.OperationSucceeded,
	}, nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_4").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	// Replays cannot regress a settled operation.
	mockDS.AssertNotCalled(t, "UpdateOperationStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransferPaidFinalizesStuckPayout(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{"id": "tr_1"})
	event := &model.WebhookEvent{EventID: "evt_5", Type: EventTransferPaid, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetOperationByProcessorRef", mock.Anything, "tr_1").Return(&model.PaymentOperation{
		OperationID: "op_1", ProcessorRef: "tr_1", Kind: model.OperationTransfer,
		Status: model.OperationPending, PayoutID: "pay_1",
	}, nil)
	mockDS.On("UpdateOperationStatus", mock.Anything, "op_1", model.OperationSucceeded).Return(nil)
	mockDS.On("GetPayout", mock.Anything, "pay_1").Return(&model.Payout{
		PayoutID: "pay_1", OrderID: "ord_1", SellerID: "seller_1",
		Currency: "USD", Amount: 10000, NetAmount: 10000,
		Status: model.PayoutProcessing,
	}, nil)

	// The finalization path runs exactly as if the executor had completed.
	mockDS.On("EntryExistsByExternalID", mock.Anything, "complete_pay_1").Return(false, nil)
	mockDS.On("AppendEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.Type == model.EntryPayoutCompletion && e.ExternalID == "complete_pay_1"
	})).Return(&model.LedgerEntry{}, nil)
	mockDS.On("UpdatePayoutStatus", mock.Anything, "pay_1", model.PayoutSucceeded, "tr_1", "").Return(nil)
	mockDS.On("UpdateOrderEligibilityStatus", mock.Anything, "ord_1", model.OrderPaid).Return(nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_5").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestTransferFailedCompensatesPayout(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"id": "tr_1", "failure_reason": "account_closed",
	})
	event := &model.WebhookEvent{EventID: "evt_6", Type: EventTransferFailed, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetOperationByProcessorRef", mock.Anything, "tr_1").Return(&model.PaymentOperation{
		OperationID: "op_1", ProcessorRef: "tr_1", Kind: model.OperationTransfer,
		Status: model.OperationPending, PayoutID: "pay_1",
	}, nil)
	mockDS.On("UpdateOperationStatus", mock.Anything, "op_1", model.OperationFailed).Return(nil)
	mockDS.On("GetPayout", mock.Anything, "pay_1").Return(&model.Payout{
		PayoutID: "pay_1", OrderID: "ord_1", SellerID: "seller_1",
		Currency: "USD", Amount: 10000, Status: model.PayoutProcessing,
	}, nil)
	mockDS.On("EntryExistsByExternalID", mock.Anything, "reversal_pay_1").Return(false, nil)
	mockDS.On("AppendEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.Type == model.EntryPayoutReversal && e.Amount == 10000 &&
			e.MetaData["reason"] == "account_closed"
	})).Return(&model.LedgerEntry{}, nil)
	mockDS.On("UpdatePayoutStatus", mock.Anything, "pay_1", model.PayoutFailed, "tr_1", "account_closed").Return(nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_6").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestTransferEventUnknownOperationAcknowledged(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{"id": "tr_unknown"})
	event := &model.WebhookEvent{EventID: "evt_7", Type: EventTransferPaid, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetOperationByProcessorRef", mock.Anything, "tr_unknown").Return(nil, nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_7").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestAccountUpdatedCancelsInFlightPayouts(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"id": "acct_1", "payouts_enabled": false, "missing_capabilities": []string{"transfers"},
	})
	event := &model.WebhookEvent{EventID: "evt_8", Type: EventAccountUpdated, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("GetSellerProfileByAccount", mock.Anything, "acct_1").Return(&model.SellerProfile{
		SellerID: "seller_1", ProcessorAccountID: "acct_1",
	}, nil)
	mockDS.On("GetInFlightPayoutsBySeller", mock.Anything, "seller_1").Return([]*model.Payout{
		{PayoutID: "pay_1", OrderID: "ord_1", SellerID: "seller_1", Currency: "USD", Amount: 5000, Status: model.PayoutReserved},
	}, nil)
	mockDS.On("EntryExistsByExternalID", mock.Anything, "reversal_pay_1").Return(false, nil)
	mockDS.On("AppendEntry", mock.Anything, mock.Anything).Return(&model.LedgerEntry{}, nil)
	mockDS.On("UpdatePayoutStatus", mock.Anything, "pay_1", model.PayoutCancelled, "", mock.Anything).Return(nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_8").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestAccountUpdatedStillEnabledIsNoOp(t *testing.T) {
	engine, mockDS := eventFixture(t)

	payload, _ := json.Marshal(map[string]interface{}{"id": "acct_1", "payouts_enabled": true})
	event := &model.WebhookEvent{EventID: "evt_9", Type: EventAccountUpdated, Payload: payload}

	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("MarkEventProcessed", mock.Anything, "evt_9").Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "GetSellerProfileByAccount", mock.Anything, mock.Anything)
}

func TestDispatchFailureTouchesAttemptCounter(t *testing.T) {
	engine, mockDS := eventFixture(t)

	event := &model.WebhookEvent{
		EventID: "evt_10", Type: EventTransferPaid,
		Payload: json.RawMessage(`{not json`),
	}
	mockDS.On("RecordWebhookEvent", mock.Anything, event).Return(true, nil)
	mockDS.On("TouchEventAttempt", mock.Anything, "evt_10", mock.Anything).Return(nil)

	err := engine.ProcessWebhookEvent(context.Background(), event)
	assert.Error(t, err)
	mockDS.AssertExpectations(t)
	mockDS.AssertNotCalled(t, "MarkEventProcessed", mock.Anything, mock.Anything)
}
