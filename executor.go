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
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	redlock "github.com/clearhold/clearhold/internal/lock"
	"github.com/clearhold/clearhold/internal/notification"
	"github.com/clearhold/clearhold/model"
	"github.com/clearhold/clearhold/processor"
)

const payoutLockTTL = 30 * time.Second

// TriggerOrderPayout runs the full three-phase payout for one released
// order: reserve the funds on the ledger, transfer them through the
// processor, finalize the records. The reservation debit comes first so a
// crash between phases can only ever leave money held back, never paid
// twice; anything the executor cannot resolve itself is left PROCESSING for
// reconciliation.
func (l *Clearhold) TriggerOrderPayout(ctx context.Context, orderID string) (*model.Payout, error) {
	ctx, span := otel.Tracer("payout.executor").Start(ctx, "TriggerOrderPayout")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	payout, profile, err := l.reservePayout(ctx, orderID, conf)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payout.id", payout.PayoutID))

	transferID, err := l.executeTransfer(ctx, payout, profile, conf)
	if err != nil {
		return payout, err
	}

	if err := l.finalizePayout(ctx, payout, transferID); err != nil {
		return payout, err
	}
	return payout, nil
}

// reservePayout is phase one. Every check here fails cheaply: no money has
// moved yet, so a rejection costs nothing and a retry is free. The order
// must be released and unclaimed, and the seller must clear the full payout
// gate. The active-payout re-check, the solvency check and the reservation
// debit run under a per (seller, currency) lock so two concurrent attempts
// cannot both observe a clear order or sufficient balance.
func (l *Clearhold) reservePayout(ctx context.Context, orderID string, conf *config.Configuration) (*model.Payout, *model.SellerProfile, error) {
	order, err := l.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.EscrowStatus != model.EscrowReleased || order.EligibilityStatus != model.OrderEligibleForPayout {
		if order.EligibilityStatus == model.OrderPaid {
			return nil, nil, apierror.NewAPIError(apierror.ErrPaymentAlreadyExists, fmt.Sprintf("order %s is already paid out", orderID), nil)
		}
		return nil, nil, apierror.NewAPIError(apierror.ErrFundsNotReleased, fmt.Sprintf("order %s funds are not released for payout", orderID), nil)
	}

	active, err := l.datasource.GetActivePayoutForOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		if active.Status == model.PayoutSucceeded {
			return nil, nil, apierror.NewAPIError(apierror.ErrPaymentAlreadyExists, fmt.Sprintf("payout %s already succeeded for order %s", active.PayoutID, orderID), nil)
		}
		return nil, nil, apierror.NewAPIError(apierror.ErrPayoutProcessing, fmt.Sprintf("payout %s is in flight for order %s", active.PayoutID, orderID), nil)
	}

	elig, err := l.CheckSellerPayoutEligibility(ctx, order.SellerID, order.Currency)
	if err != nil {
		return nil, nil, err
	}
	if !elig.PayoutAllowed {
		return nil, nil, ineligibilityError(elig)
	}

	profile, err := l.datasource.GetSellerProfile(ctx, order.SellerID)
	if err != nil {
		return nil, nil, err
	}
	if profile.ProcessorAccountID == "" {
		return nil, nil, apierror.NewAPIError(apierror.ErrSellerAccountInvalid, fmt.Sprintf("seller %s has no processor account", order.SellerID), nil)
	}

	amount := order.TotalAmount
	fee := feeFor(amount, conf.Payouts.FeeRate)
	payout := &model.Payout{
		PayoutID:   model.GenerateUUIDWithSuffix("pay"),
		OrderID:    order.OrderID,
		SellerID:   order.SellerID,
		Currency:   order.Currency,
		Amount:     amount,
		Fee:        fee,
		NetAmount:  amount - fee,
		Status:     model.PayoutReserved,
		ReservedAt: l.now(),
	}
	if sched, err := l.datasource.GetScheduleForOrder(ctx, orderID); err == nil && sched != nil {
		payout.ScheduleID = sched.ScheduleID
	}

	locker := redlock.NewLocker(l.redis, redlock.PayoutKey(order.SellerID, order.Currency), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, payoutLockTTL); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrPayoutProcessing, fmt.Sprintf("another payout is holding the lock for seller %s", order.SellerID), err)
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Errorf("failed to release payout lock for seller %s: %v", order.SellerID, err)
		}
	}()

	// Re-check under the lock: a concurrent attempt may have recorded a
	// payout between the cheap pre-check and lock acquisition.
	active, err = l.datasource.GetActivePayoutForOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		if active.Status == model.PayoutSucceeded {
			return nil, nil, apierror.NewAPIError(apierror.ErrPaymentAlreadyExists, fmt.Sprintf("payout %s already succeeded for order %s", active.PayoutID, orderID), nil)
		}
		return nil, nil, apierror.NewAPIError(apierror.ErrPayoutProcessing, fmt.Sprintf("payout %s is in flight for order %s", active.PayoutID, orderID), nil)
	}

	balance, err := l.datasource.GetAvailableBalance(ctx, order.SellerID, order.Currency)
	if err != nil {
		return nil, nil, err
	}
	if balance < amount {
		return nil, nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, fmt.Sprintf("seller %s has %d available, payout needs %d", order.SellerID, balance, amount), nil)
	}

	reservation := &model.LedgerEntry{
		UserUid:        order.SellerID,
		Role:           model.RoleSeller,
		Type:           model.EntryPayoutReservation,
		Amount:         -amount,
		Currency:       order.Currency,
		Status:         model.EntryStatusAvailable,
		RelatedOrderID: order.OrderID,
		ExternalID:     fmt.Sprintf("reserve_%s", payout.PayoutID),
	}
	if _, err := l.datasource.AppendEntry(ctx, reservation); err != nil {
		return nil, nil, err
	}
	if err := l.datasource.RecordPayout(ctx, payout); err != nil {
		// The debit is posted but the attempt row is not. Reverse the debit
		// so the seller's funds are not stranded.
		l.compensateReservation(ctx, payout, "payout record write failed")
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"payout_id": payout.PayoutID,
		"order_id":  order.OrderID,
		"seller_id": order.SellerID,
		"amount":    amount,
		"currency":  order.Currency,
	}).Info("payout reserved")
	return payout, profile, nil
}

// ineligibilityError maps a blocked gate result onto the executor's error
// surface. Balance-shaped blocks are insufficient funds; everything else is
// a seller account problem.
func ineligibilityError(elig *model.SellerEligibility) error {
	msg := fmt.Sprintf("seller %s is not eligible for payout: %s (%s)",
		elig.SellerID, elig.State, strings.Join(elig.BlockingReasons, ", "))
	switch elig.State {
	case model.IneligibleNegativeBalance, model.IneligibleNoFunds, model.IneligibleBalanceLow:
		return apierror.NewAPIError(apierror.ErrInsufficientFunds, msg, nil)
	default:
		return apierror.NewAPIError(apierror.ErrSellerAccountInvalid, msg, nil)
	}
}

// executeTransfer is phase two, the only phase with external side effects.
// A classified failure compensates and terminates the attempt; a connection
// failure is an unknown outcome and the attempt is left PROCESSING for
// reconciliation to resolve against the processor's state.
func (l *Clearhold) executeTransfer(ctx context.Context, payout *model.Payout, profile *model.SellerProfile, conf *config.Configuration) (string, error) {
	if err := l.datasource.UpdatePayoutStatus(ctx, payout.PayoutID, model.PayoutProcessing, "", ""); err != nil {
		return "", err
	}
	payout.Status = model.PayoutProcessing

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(conf.Processor.TimeoutSeconds)*time.Second)
	defer cancel()

	transferID, err := l.processor.CreateTransfer(callCtx, profile.ProcessorAccountID, payout.NetAmount, payout.Currency, map[string]string{
		"payout_id": payout.PayoutID,
		"order_id":  payout.OrderID,
		"seller_id": payout.SellerID,
	})
	if err != nil {
		if processor.IsConnection(err) {
			logrus.WithFields(logrus.Fields{
				"payout_id": payout.PayoutID,
				"seller_id": payout.SellerID,
			}).Warnf("transfer outcome unknown, leaving payout processing: %v", err)
			return "", apierror.NewAPIError(apierror.ErrPayoutProcessing, fmt.Sprintf("transfer outcome for payout %s is unknown, reconciliation will resolve it", payout.PayoutID), err)
		}

		l.compensateReservation(ctx, payout, err.Error())
		if updateErr := l.datasource.UpdatePayoutStatus(ctx, payout.PayoutID, model.PayoutFailed, "", err.Error()); updateErr != nil {
			logrus.Errorf("failed to mark payout %s failed: %v", payout.PayoutID, updateErr)
		}
		payout.Status = model.PayoutFailed
		payout.FailureReason = err.Error()
		notification.NotifyError(fmt.Errorf("payout %s for seller %s failed at transfer: %w", payout.PayoutID, payout.SellerID, err))
		return "", apierror.NewAPIError(apierror.ErrSellerAccountInvalid, fmt.Sprintf("processor rejected payout %s", payout.PayoutID), err)
	}

	op := &model.PaymentOperation{
		OperationID:        model.GenerateUUIDWithSuffix("op"),
		ProcessorRef:       transferID,
		Kind:               model.OperationTransfer,
		Amount:             payout.NetAmount,
		Currency:           payout.Currency,
		Status:             model.OperationPending,
		DestinationAccount: profile.ProcessorAccountID,
		OrderID:            payout.OrderID,
		PayoutID:           payout.PayoutID,
		CreatedAt:          l.now(),
	}
	if err := l.datasource.RecordOperation(ctx, op); err != nil {
		logrus.Errorf("failed to mirror transfer %s: %v", transferID, err)
	}
	return transferID, nil
}

// finalizePayout is phase three: the money already moved, so every local
// write here is retried with backoff rather than abandoned. A phase-three
// failure after retries leaves the payout PROCESSING with a live transfer
// reference; reconciliation completes it.
func (l *Clearhold) finalizePayout(ctx context.Context, payout *model.Payout, transferID string) error {
	completion := &model.LedgerEntry{
		UserUid:        payout.SellerID,
		Role:           model.RoleSeller,
		Type:           model.EntryPayoutCompletion,
		Amount:         -payout.NetAmount,
		Currency:       payout.Currency,
		Status:         model.EntryStatusLocked,
		RelatedOrderID: payout.OrderID,
		ExternalID:     fmt.Sprintf("complete_%s", payout.PayoutID),
		MetaData:       map[string]interface{}{"transfer_id": transferID},
	}

	finalize := func() error {
		exists, err := l.datasource.EntryExistsByExternalID(ctx, completion.ExternalID)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := l.datasource.AppendEntry(ctx, completion); err != nil {
				return err
			}
		}
		if err := l.datasource.UpdatePayoutStatus(ctx, payout.PayoutID, model.PayoutSucceeded, transferID, ""); err != nil {
			return err
		}
		return l.datasource.UpdateOrderEligibilityStatus(ctx, payout.OrderID, model.OrderPaid)
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(finalize, backoff.WithContext(bo, ctx)); err != nil {
		notification.NotifyError(fmt.Errorf("payout %s transferred as %s but finalization failed: %w", payout.PayoutID, transferID, err))
		return err
	}

	payout.Status = model.PayoutSucceeded
	payout.TransferID = transferID
	payout.CompletedAt = l.now()

	if payout.ScheduleID != "" {
		if err := l.consumeScheduleIfSettled(ctx, payout.ScheduleID); err != nil {
			logrus.Errorf("failed to consume schedule %s: %v", payout.ScheduleID, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"payout_id":   payout.PayoutID,
		"order_id":    payout.OrderID,
		"seller_id":   payout.SellerID,
		"transfer_id": transferID,
		"net_amount":  payout.NetAmount,
	}).Info("payout finalized")
	return nil
}

// consumeScheduleIfSettled flips a SCHEDULED window to CONSUMED once every
// order it claimed has been paid out.
func (l *Clearhold) consumeScheduleIfSettled(ctx context.Context, scheduleID string) error {
	sched, err := l.datasource.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.Status != model.ScheduleScheduled {
		return nil
	}
	for _, orderID := range sched.IncludedOrderIDs {
		order, err := l.datasource.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.EligibilityStatus != model.OrderPaid {
			return nil
		}
	}
	return l.datasource.UpdateScheduleStatus(ctx, scheduleID, model.ScheduleConsumed)
}

// compensateReservation posts the credit that reverses a reservation debit.
// Posting is keyed by the payout id so a duplicated compensation attempt is
// a no-op.
func (l *Clearhold) compensateReservation(ctx context.Context, payout *model.Payout, reason string) {
	externalID := fmt.Sprintf("reversal_%s", payout.PayoutID)
	exists, err := l.datasource.EntryExistsByExternalID(ctx, externalID)
	if err != nil {
		logrus.Errorf("compensation lookup failed for payout %s: %v", payout.PayoutID, err)
		return
	}
	if exists {
		return
	}
	reversal := &model.LedgerEntry{
		UserUid:        payout.SellerID,
		Role:           model.RoleSeller,
		Type:           model.EntryPayoutReversal,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Status:         model.EntryStatusAvailable,
		RelatedOrderID: payout.OrderID,
		ExternalID:     externalID,
		MetaData:       map[string]interface{}{"reason": reason},
	}
	if _, err := l.datasource.AppendEntry(ctx, reversal); err != nil {
		logrus.Errorf("failed to post compensation for payout %s: %v", payout.PayoutID, err)
		notification.NotifyError(fmt.Errorf("compensation for payout %s could not be posted: %w", payout.PayoutID, err))
		return
	}
	logrus.WithFields(logrus.Fields{
		"payout_id": payout.PayoutID,
		"seller_id": payout.SellerID,
		"amount":    payout.Amount,
		"reason":    reason,
	}).Info("payout reservation reversed")
}

// CancelInFlightPayouts cancels in-flight payouts for a seller, reversing
// each reservation. Used when the seller's processor account loses its
// payout capability mid-flight. Only RESERVED payouts are cancelled
// outright: a PROCESSING payout may already have a live transfer, so it is
// cancelled only when the processor confirms the transfer is dead, and left
// for reconciliation otherwise.
func (l *Clearhold) CancelInFlightPayouts(ctx context.Context, sellerID, reason string) (int, error) {
	payouts, err := l.datasource.GetInFlightPayoutsBySeller(ctx, sellerID)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, p := range payouts {
		if p.Status == model.PayoutProcessing && !l.transferConfirmedDead(ctx, p) {
			logrus.WithFields(logrus.Fields{
				"payout_id": p.PayoutID,
				"seller_id": sellerID,
			}).Warn("payout has an unresolved transfer, leaving it for reconciliation")
			continue
		}
		l.compensateReservation(ctx, p, reason)
		if err := l.datasource.UpdatePayoutStatus(ctx, p.PayoutID, model.PayoutCancelled, "", reason); err != nil {
			logrus.Errorf("failed to cancel payout %s: %v", p.PayoutID, err)
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		logrus.WithFields(logrus.Fields{
			"seller_id": sellerID,
			"cancelled": cancelled,
			"reason":    reason,
		}).Warn("in-flight payouts cancelled")
	}
	return cancelled, nil
}

// transferConfirmedDead reports whether the processor confirms the payout's
// transfer will never pay. Any doubt, including an unknown transfer
// reference or an unreachable processor, answers false.
func (l *Clearhold) transferConfirmedDead(ctx context.Context, p *model.Payout) bool {
	if p.TransferID == "" {
		return false
	}
	live, err := l.processor.RetrieveOperation(ctx, p.TransferID)
	if err != nil {
		// A rejected lookup means the processor has no such transfer.
		return processor.IsRejected(err)
	}
	status := translateProcessorStatus(live.Status)
	return status == model.OperationFailed || status == model.OperationCancelled
}
