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
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/internal/notification"
	"github.com/clearhold/clearhold/model"
	"github.com/clearhold/clearhold/processor"
)

// processorStatusTable translates the processor's operation statuses into
// the local state machine. Unknown statuses translate to PENDING so drift
// detection errs toward another look rather than a false heal.
var processorStatusTable = map[string]model.OperationStatus{
	"succeeded":  model.OperationSucceeded,
	"paid":       model.OperationSucceeded,
	"pending":    model.OperationPending,
	"in_transit": model.OperationPending,
	"failed":     model.OperationFailed,
	"reversed":   model.OperationFailed,
	"canceled":   model.OperationCancelled,
}

func translateProcessorStatus(s string) model.OperationStatus {
	if mapped, ok := processorStatusTable[strings.ToLower(s)]; ok {
		return mapped
	}
	return model.OperationPending
}

// QueueReconciliation hands a reconciliation sweep to the workers instead
// of running it on the caller's goroutine.
func (l *Clearhold) QueueReconciliation(ctx context.Context, req model.ReconciliationRequest) error {
	if l.queue == nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "task queue is not configured", nil)
	}
	return l.queue.EnqueueReconciliation(ctx, req)
}

// RunReconciliation sweeps local financial records against the processor's
// live state over a trailing window. Known-safe field drift on mirrored
// operations is healed from the processor's value unless the run is dry;
// aggregate balance drift beyond tolerance is only flagged, because it
// signals a bug or fraud that a blind overwrite would bury.
func (l *Clearhold) RunReconciliation(ctx context.Context, req model.ReconciliationRequest) (*model.ReconciliationSummary, error) {
	ctx, span := otel.Tracer("reconciliation").Start(ctx, "RunReconciliation")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if req.TimeRangeHours <= 0 {
		req.TimeRangeHours = conf.Reconciliation.DefaultTimeRangeHours
	}
	if req.BatchSize <= 0 {
		req.BatchSize = conf.Reconciliation.DefaultBatchSize
	}

	summary := &model.ReconciliationSummary{
		RunID:      model.GenerateUUIDWithSuffix("recon"),
		StartedAt:  l.now(),
		DryRun:     req.DryRun,
		Categories: map[string]model.CategoryResult{},
	}
	span.SetAttributes(attribute.String("run.id", summary.RunID), attribute.Bool("dry_run", req.DryRun))
	since := summary.StartedAt.Add(-time.Duration(req.TimeRangeHours) * time.Hour)

	l.reconcileOperations(ctx, summary, model.CategoryPaymentOperations, model.OperationCharge, since, req)
	l.reconcileOperations(ctx, summary, model.CategoryTransferOperations, model.OperationTransfer, since, req)
	l.reconcileAccounts(ctx, summary, req)
	if req.IncludeBalances {
		l.reconcilePlatformBalance(ctx, summary, conf, since, req)
	}
	if req.IncludeWebhooks {
		l.reconcileWebhookEvents(ctx, summary, conf, req)
	}

	summary.CompletedAt = l.now()
	summary.ComputeSuccessRate()

	logrus.WithFields(logrus.Fields{
		"run_id":        summary.RunID,
		"dry_run":       summary.DryRun,
		"checked":       summary.TotalChecked(),
		"discrepancies": len(summary.Discrepancies),
		"success_rate":  summary.SuccessRate,
	}).Info("reconciliation run complete")

	if len(summary.Discrepancies) > 0 && !summary.DryRun {
		notification.NotifyError(fmt.Errorf("reconciliation %s found %d discrepancies", summary.RunID, len(summary.Discrepancies)))
	}
	return summary, nil
}

// reconcileOperations compares mirrored operations of one kind field by
// field against the processor's live state, healing amount, currency,
// status and destination drift from the processor's value. Transfer
// operations left non-terminal by an ambiguous phase-two outcome are
// resolved here.
func (l *Clearhold) reconcileOperations(ctx context.Context, summary *model.ReconciliationSummary, category string, kind model.OperationKind, since time.Time, req model.ReconciliationRequest) {
	result := model.CategoryResult{}
	defer func() { summary.Categories[category] = result }()

	ops, err := l.datasource.GetOperationsSince(ctx, kind, since, req.BatchSize)
	if err != nil {
		logrus.Errorf("reconciliation could not load %s: %v", category, err)
		result.Errored++
		return
	}

	for _, op := range ops {
		result.Checked++
		live, err := l.processor.RetrieveOperation(ctx, op.ProcessorRef)
		if err != nil {
			logrus.WithField("processor_ref", op.ProcessorRef).Warnf("operation lookup failed: %v", err)
			result.Errored++
			continue
		}

		drift := []model.Discrepancy{}
		record := func(field, localValue, processorValue string) {
			drift = append(drift, model.Discrepancy{
				Category:       category,
				LocalID:        op.OperationID,
				ProcessorRef:   op.ProcessorRef,
				Field:          field,
				LocalValue:     localValue,
				ProcessorValue: processorValue,
				Healed:         !req.DryRun,
			})
		}

		liveStatus := translateProcessorStatus(live.Status)
		if op.Amount != live.Amount {
			record("amount", strconv.FormatInt(op.Amount, 10), strconv.FormatInt(live.Amount, 10))
		}
		if op.Currency != live.Currency {
			record("currency", op.Currency, live.Currency)
		}
		if op.Status != liveStatus {
			record("status", string(op.Status), string(liveStatus))
		}
		if op.DestinationAccount != "" && live.Destination != "" && op.DestinationAccount != live.Destination {
			record("destination_account", op.DestinationAccount, live.Destination)
		}

		if len(drift) == 0 {
			continue
		}
		result.Discrepant++
		summary.Discrepancies = append(summary.Discrepancies, drift...)

		if req.DryRun {
			continue
		}
		healed := *op
		healed.Amount = live.Amount
		healed.Currency = live.Currency
		healed.Status = liveStatus
		if live.Destination != "" {
			healed.DestinationAccount = live.Destination
		}
		if err := l.datasource.OverwriteOperation(ctx, &healed); err != nil {
			logrus.Errorf("failed to heal operation %s: %v", op.OperationID, err)
			result.Errored++
			continue
		}
		if kind == model.OperationTransfer && healed.PayoutID != "" {
			l.resolveStuckPayout(ctx, &healed)
		}
	}
}

// resolveStuckPayout settles a payout whose transfer outcome the executor
// could not determine, using the processor's now-known terminal state.
func (l *Clearhold) resolveStuckPayout(ctx context.Context, op *model.PaymentOperation) {
	payout, err := l.datasource.GetPayout(ctx, op.PayoutID)
	if err != nil {
		logrus.Errorf("failed to load payout %s for resolution: %v", op.PayoutID, err)
		return
	}
	if payout.Terminal() {
		return
	}

	switch op.Status {
	case model.OperationSucceeded:
		if err := l.finalizePayout(ctx, payout, op.ProcessorRef); err != nil {
			logrus.Errorf("failed to finalize resolved payout %s: %v", payout.PayoutID, err)
		}
	case model.OperationFailed, model.OperationCancelled:
		reason := fmt.Sprintf("transfer %s resolved %s by reconciliation", op.ProcessorRef, op.Status)
		l.compensateReservation(ctx, payout, reason)
		if err := l.datasource.UpdatePayoutStatus(ctx, payout.PayoutID, model.PayoutFailed, op.ProcessorRef, reason); err != nil {
			logrus.Errorf("failed to fail resolved payout %s: %v", payout.PayoutID, err)
		}
	}
}

// reconcileAccounts verifies every active seller's processor account still
// carries the payout capability. A lost capability is a discrepancy; in a
// non-dry run it triggers the same in-flight cancellation the account
// webhook would.
func (l *Clearhold) reconcileAccounts(ctx context.Context, summary *model.ReconciliationSummary, req model.ReconciliationRequest) {
	result := model.CategoryResult{}
	defer func() { summary.Categories[model.CategoryProcessorAccounts] = result }()

	sellers, err := l.datasource.GetActiveSellerIDs(ctx)
	if err != nil {
		logrus.Errorf("reconciliation could not load active sellers: %v", err)
		result.Errored++
		return
	}
	if req.BatchSize > 0 && len(sellers) > req.BatchSize {
		sellers = sellers[:req.BatchSize]
	}

	for _, sellerID := range sellers {
		profile, err := l.datasource.GetSellerProfile(ctx, sellerID)
		if err != nil || profile.ProcessorAccountID == "" {
			continue
		}
		result.Checked++

		status, err := l.processor.RetrieveAccountStatus(ctx, profile.ProcessorAccountID)
		if err != nil {
			logrus.WithField("seller_id", sellerID).Warnf("account status lookup failed: %v", err)
			result.Errored++
			continue
		}
		if status.PayoutsEnabled {
			continue
		}

		result.Discrepant++
		summary.Discrepancies = append(summary.Discrepancies, model.Discrepancy{
			Category:       model.CategoryProcessorAccounts,
			LocalID:        sellerID,
			ProcessorRef:   profile.ProcessorAccountID,
			Field:          "payouts_enabled",
			LocalValue:     "true",
			ProcessorValue: "false",
			Healed:         false,
		})
		if req.DryRun {
			continue
		}
		if _, err := l.CancelInFlightPayouts(ctx, sellerID, "payout capability lost, found by reconciliation"); err != nil {
			logrus.Errorf("failed to cancel in-flight payouts for seller %s: %v", sellerID, err)
			result.Errored++
		}
	}
}

// reconcilePlatformBalance checks aggregate drift between what the ledger
// says left the platform and what the processor says it moved. Drift beyond
// tolerance is flagged and never auto-corrected.
func (l *Clearhold) reconcilePlatformBalance(ctx context.Context, summary *model.ReconciliationSummary, conf *config.Configuration, since time.Time, req model.ReconciliationRequest) {
	result := model.CategoryResult{}
	defer func() { summary.Categories[model.CategoryPlatformBalance] = result }()

	payouts, err := l.datasource.GetPayoutsSince(ctx, since, req.BatchSize)
	if err != nil {
		logrus.Errorf("reconciliation could not load payouts: %v", err)
		result.Errored++
		return
	}

	var localTotal, processorTotal int64
	for _, p := range payouts {
		if p.Status != model.PayoutSucceeded || p.TransferID == "" {
			continue
		}
		result.Checked++
		localTotal += p.NetAmount

		live, err := l.processor.RetrieveOperation(ctx, p.TransferID)
		if err != nil {
			result.Errored++
			continue
		}
		processorTotal += live.Amount
	}

	drift := localTotal - processorTotal
	if drift < 0 {
		drift = -drift
	}
	if drift <= conf.Reconciliation.BalanceTolerance {
		return
	}

	result.Discrepant++
	summary.Discrepancies = append(summary.Discrepancies, model.Discrepancy{
		Category:       model.CategoryPlatformBalance,
		LocalID:        "platform",
		Field:          "outbound_total",
		LocalValue:     strconv.FormatInt(localTotal, 10),
		ProcessorValue: strconv.FormatInt(processorTotal, 10),
		Healed:         false,
	})
	notification.NotifyError(fmt.Errorf("platform balance drift of %d minor units exceeds tolerance %d", drift, conf.Reconciliation.BalanceTolerance))
}

// reconcileWebhookEvents re-dispatches stalled events whose retry policy
// still allows another attempt.
func (l *Clearhold) reconcileWebhookEvents(ctx context.Context, summary *model.ReconciliationSummary, conf *config.Configuration, req model.ReconciliationRequest) {
	result := model.CategoryResult{}
	defer func() { summary.Categories[model.CategoryWebhookEvents] = result }()

	cutoff := l.now().Add(-time.Duration(conf.Reconciliation.WebhookRetryMinutes) * time.Minute)
	events, err := l.datasource.GetRetryableEvents(ctx, conf.Reconciliation.WebhookMaxAttempts, cutoff, req.BatchSize)
	if err != nil {
		logrus.Errorf("reconciliation could not load retryable events: %v", err)
		result.Errored++
		return
	}

	for _, event := range events {
		result.Checked++
		if req.DryRun {
			result.Discrepant++
			summary.Discrepancies = append(summary.Discrepancies, model.Discrepancy{
				Category:       model.CategoryWebhookEvents,
				LocalID:        event.EventID,
				Field:          "processed",
				LocalValue:     "false",
				ProcessorValue: "delivered",
				Healed:         false,
			})
			continue
		}
		if err := l.dispatchEvent(ctx, event); err != nil {
			logrus.WithField("event_id", event.EventID).Warnf("event redispatch failed: %v", err)
			result.Errored++
		}
	}
}

// ProcessorHealthy reports whether the processor adapter answers at all,
// used by the health endpoint.
func (l *Clearhold) ProcessorHealthy(ctx context.Context) bool {
	_, err := l.processor.RetrieveAccountStatus(ctx, "acct_health_probe")
	return err == nil || !processor.IsConnection(err)
}
