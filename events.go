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
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/clearhold/clearhold/internal/notification"
	"github.com/clearhold/clearhold/model"
)

// Processor event types the engine acts on. Anything outside this set is
// acknowledged and marked processed without effect.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.failed"
	EventPaymentIntentCanceled  = "payment_intent.canceled"
	EventTransferPaid           = "transfer.paid"
	EventTransferFailed         = "transfer.failed"
	EventTransferReversed       = "transfer.reversed"
	EventAccountUpdated         = "account.updated"
)

// operationPayload is the slice of a payment-intent or transfer event body
// the engine reads. The id is the processor's own operation reference.
type operationPayload struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Destination   string `json:"destination"`
	FailureReason string `json:"failure_reason"`
}

// accountPayload is the slice of an account event body the engine reads.
type accountPayload struct {
	ID                  string   `json:"id"`
	PayoutsEnabled      bool     `json:"payouts_enabled"`
	MissingCapabilities []string `json:"missing_capabilities"`
}

// QueueWebhookEvent hands a verified event to the worker queue. The task id
// is the processor event id, so redelivery collapses before the store.
func (l *Clearhold) QueueWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	if event.EventID == "" || event.Type == "" {
		return errors.New("webhook event requires an event id and a type")
	}
	return l.queue.EnqueueWebhookEvent(ctx, event)
}

// ProcessWebhookEvent takes one verified, parsed processor event through
// persist-once and dispatch. Duplicate delivery of an already processed
// event is a no-op; a duplicate of an unprocessed event gets another
// dispatch attempt.
func (l *Clearhold) ProcessWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	if event.EventID == "" || event.Type == "" {
		return errors.New("webhook event requires an event id and a type")
	}

	inserted, err := l.datasource.RecordWebhookEvent(ctx, event)
	if err != nil {
		return err
	}
	if !inserted {
		stored, err := l.datasource.GetWebhookEvent(ctx, event.EventID)
		if err != nil {
			return err
		}
		if stored.Processed {
			logrus.WithField("event_id", event.EventID).Debug("duplicate webhook event, already processed")
			return nil
		}
		event = stored
	}

	return l.dispatchEvent(ctx, event)
}

// dispatchEvent routes one stored event to its processor and records the
// attempt outcome.
func (l *Clearhold) dispatchEvent(ctx context.Context, event *model.WebhookEvent) error {
	var err error
	switch event.Type {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed, EventPaymentIntentCanceled:
		err = l.processPaymentIntentEvent(ctx, event)
	case EventTransferPaid, EventTransferFailed, EventTransferReversed:
		err = l.processTransferEvent(ctx, event)
	case EventAccountUpdated:
		err = l.processAccountEvent(ctx, event)
	default:
		logrus.WithFields(logrus.Fields{
			"event_id": event.EventID,
			"type":     event.Type,
		}).Info("unhandled webhook event type, acknowledging")
	}

	if err != nil {
		if touchErr := l.datasource.TouchEventAttempt(ctx, event.EventID, l.now()); touchErr != nil {
			logrus.Errorf("failed to record attempt for event %s: %v", event.EventID, touchErr)
		}
		return errors.Wrapf(err, "processing webhook event %s (%s)", event.EventID, event.Type)
	}
	return l.datasource.MarkEventProcessed(ctx, event.EventID)
}

// processPaymentIntentEvent transitions the mirrored charge operation. An
// operation already terminal is skipped so replays cannot regress state.
func (l *Clearhold) processPaymentIntentEvent(ctx context.Context, event *model.WebhookEvent) error {
	var payload operationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errors.Wrap(err, "decoding payment intent payload")
	}

	op, err := l.datasource.GetOperationByProcessorRef(ctx, payload.ID)
	if err != nil {
		return err
	}
	if op == nil {
		op = &model.PaymentOperation{
			OperationID:  model.GenerateUUIDWithSuffix("op"),
			ProcessorRef: payload.ID,
			Kind:         model.OperationCharge,
			Amount:       payload.Amount,
			Currency:     payload.Currency,
			Status:       model.OperationPending,
			CreatedAt:    l.now(),
		}
		if err := l.datasource.RecordOperation(ctx, op); err != nil {
			return err
		}
	}
	if op.Terminal() {
		return nil
	}

	status := model.OperationSucceeded
	switch event.Type {
	case EventPaymentIntentFailed:
		status = model.OperationFailed
	case EventPaymentIntentCanceled:
		status = model.OperationCancelled
	}
	return l.datasource.UpdateOperationStatus(ctx, op.OperationID, status)
}

// processTransferEvent settles the payout attached to a transfer. A paid
// transfer finalizes a PROCESSING payout left behind by an ambiguous
// outcome; a failed or reversed transfer compensates it.
func (l *Clearhold) processTransferEvent(ctx context.Context, event *model.WebhookEvent) error {
	var payload operationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errors.Wrap(err, "decoding transfer payload")
	}

	op, err := l.datasource.GetOperationByProcessorRef(ctx, payload.ID)
	if err != nil {
		return err
	}
	if op == nil {
		logrus.WithField("transfer_id", payload.ID).Warn("transfer event for unknown operation")
		return nil
	}
	if op.Terminal() {
		return nil
	}

	if event.Type == EventTransferPaid {
		if err := l.datasource.UpdateOperationStatus(ctx, op.OperationID, model.OperationSucceeded); err != nil {
			return err
		}
		if op.PayoutID == "" {
			return nil
		}
		payout, err := l.datasource.GetPayout(ctx, op.PayoutID)
		if err != nil {
			return err
		}
		if payout.Terminal() {
			return nil
		}
		return l.finalizePayout(ctx, payout, payload.ID)
	}

	// transfer.failed / transfer.reversed
	if err := l.datasource.UpdateOperationStatus(ctx, op.OperationID, model.OperationFailed); err != nil {
		return err
	}
	if op.PayoutID == "" {
		return nil
	}
	payout, err := l.datasource.GetPayout(ctx, op.PayoutID)
	if err != nil {
		return err
	}
	if payout.Terminal() {
		return nil
	}

	reason := payload.FailureReason
	if reason == "" {
		reason = fmt.Sprintf("transfer %s %s", payload.ID, event.Type)
	}
	l.compensateReservation(ctx, payout, reason)
	if err := l.datasource.UpdatePayoutStatus(ctx, payout.PayoutID, model.PayoutFailed, payload.ID, reason); err != nil {
		return err
	}
	notification.NotifyError(fmt.Errorf("payout %s for seller %s failed downstream: %s", payout.PayoutID, payout.SellerID, reason))
	return nil
}

// processAccountEvent reacts to capability changes on a seller's processor
// account. Losing the payout capability proactively cancels anything still
// in flight toward that account.
func (l *Clearhold) processAccountEvent(ctx context.Context, event *model.WebhookEvent) error {
	var payload accountPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return errors.Wrap(err, "decoding account payload")
	}
	if payload.PayoutsEnabled {
		return nil
	}

	profile, err := l.datasource.GetSellerProfileByAccount(ctx, payload.ID)
	if err != nil {
		logrus.WithField("account_id", payload.ID).Warnf("account event for unknown seller: %v", err)
		return nil
	}

	reason := "processor account lost payout capability"
	if len(payload.MissingCapabilities) > 0 {
		reason = fmt.Sprintf("%s: %v", reason, payload.MissingCapabilities)
	}
	cancelled, err := l.CancelInFlightPayouts(ctx, profile.SellerID, reason)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		notification.NotifyError(fmt.Errorf("cancelled %d in-flight payouts for seller %s: %s", cancelled, profile.SellerID, reason))
	}
	return nil
}
