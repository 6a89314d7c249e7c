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
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// ScheduleOutcome is what one scheduling pass did for a seller window.
type ScheduleOutcome string

const (
	// OutcomeExisting means a schedule already existed for the window key
	// and nothing was re-evaluated.
	OutcomeExisting ScheduleOutcome = "EXISTING"
	// OutcomeSkipped means the window was recorded with no payable orders,
	// either because the seller gate blocked or no unclaimed orders remained.
	OutcomeSkipped ScheduleOutcome = "SKIPPED"
	// OutcomeScheduled means a new window claimed a non-empty order set.
	OutcomeScheduled ScheduleOutcome = "SCHEDULED"
)

// SchedulerRunSummary tallies one full daily run.
type SchedulerRunSummary struct {
	WindowDate time.Time `json:"window_date"`
	Sellers    int       `json:"sellers"`
	Existing   int       `json:"existing"`
	Skipped    int       `json:"skipped"`
	Scheduled  int       `json:"scheduled"`
	Errored    int       `json:"errored"`
}

// windowDay truncates a point in time to its UTC calendar day, the
// granularity of the scheduling idempotency key.
func windowDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// ProcessSellerForWindow runs one scheduling pass for a (seller, currency,
// window date) key. The pass never moves money and never creates execution
// records; it only claims a set of eligible orders for the window. The key
// is written at most once: a pre-existing schedule short-circuits before any
// re-evaluation, and a concurrent insert losing the unique-constraint race
// is folded into the same EXISTING outcome.
func (l *Clearhold) ProcessSellerForWindow(ctx context.Context, sellerID, currency string, windowDate time.Time) (ScheduleOutcome, *model.PayoutSchedule, error) {
	ctx, span := otel.Tracer("payout.scheduler").Start(ctx, "ProcessSellerForWindow")
	defer span.End()
	span.SetAttributes(attribute.String("seller.id", sellerID), attribute.String("currency", currency))

	windowDate = windowDay(windowDate)

	existing, err := l.datasource.GetSchedule(ctx, sellerID, currency, windowDate)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return OutcomeExisting, existing, nil
	}

	eligibility, err := l.CheckSellerPayoutEligibility(ctx, sellerID, currency)
	if err != nil {
		return "", nil, err
	}

	sched := &model.PayoutSchedule{
		ScheduleID:          model.GenerateUUIDWithSuffix("sch"),
		SellerID:            sellerID,
		Currency:            currency,
		WindowDate:          windowDate,
		EligibilitySnapshot: eligibility,
		IncludedOrderIDs:    []string{},
		CreatedAt:           l.now(),
	}

	if !eligibility.PayoutAllowed {
		sched.Status = model.ScheduleSkipped
		return l.persistSchedule(ctx, sched, OutcomeSkipped)
	}

	orders, err := l.datasource.GetEligibleOrders(ctx, sellerID, currency)
	if err != nil {
		return "", nil, err
	}
	claimed, err := l.datasource.GetClaimedOrderIDs(ctx, sellerID, currency)
	if err != nil {
		return "", nil, err
	}

	for _, order := range orders {
		if _, taken := claimed[order.OrderID]; taken {
			continue
		}
		sched.IncludedOrderIDs = append(sched.IncludedOrderIDs, order.OrderID)
		sched.TotalCount++
		sched.TotalAmount += order.TotalAmount
	}

	if sched.TotalCount == 0 {
		sched.Status = model.ScheduleSkipped
		return l.persistSchedule(ctx, sched, OutcomeSkipped)
	}

	sched.Status = model.ScheduleScheduled
	outcome, sched, err := l.persistSchedule(ctx, sched, OutcomeScheduled)
	if err == nil && outcome == OutcomeScheduled {
		logrus.WithFields(logrus.Fields{
			"schedule_id":  sched.ScheduleID,
			"seller_id":    sellerID,
			"currency":     currency,
			"window_date":  windowDate.Format("2006-01-02"),
			"order_count":  sched.TotalCount,
			"total_amount": sched.TotalAmount,
		}).Info("payout window scheduled")
		l.enqueueScheduledPayouts(ctx, sched)
	}
	return outcome, sched, err
}

// enqueueScheduledPayouts hands a freshly claimed window's orders to the
// payout workers. An enqueue failure never fails the pass: the task id is
// derived from the order, so a later trigger re-enqueues without duplicates.
func (l *Clearhold) enqueueScheduledPayouts(ctx context.Context, sched *model.PayoutSchedule) {
	if l.queue == nil {
		return
	}
	for _, orderID := range sched.IncludedOrderIDs {
		if err := l.queue.EnqueuePayout(ctx, orderID); err != nil {
			logrus.Errorf("failed to enqueue payout for order %s: %v", orderID, err)
		}
	}
}

// persistSchedule writes the schedule row, folding a lost insert race into
// the EXISTING outcome with the winner's row.
func (l *Clearhold) persistSchedule(ctx context.Context, sched *model.PayoutSchedule, outcome ScheduleOutcome) (ScheduleOutcome, *model.PayoutSchedule, error) {
	err := l.datasource.RecordSchedule(ctx, sched)
	if err == nil {
		return outcome, sched, nil
	}
	if errors.Is(err, apierror.APIError{Code: apierror.ErrConflict}) {
		winner, getErr := l.datasource.GetSchedule(ctx, sched.SellerID, sched.Currency, sched.WindowDate)
		if getErr != nil {
			return "", nil, getErr
		}
		return OutcomeExisting, winner, nil
	}
	return "", nil, err
}

// QueueSchedulerRun enqueues today's scheduler run for the workers and
// returns the window day it queued. The task id carries the day, so
// repeated triggers within one day collapse into a single run.
func (l *Clearhold) QueueSchedulerRun(ctx context.Context) (string, error) {
	if l.queue == nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "task queue is not configured", nil)
	}
	window := windowDay(l.now()).Format("2006-01-02")
	return window, l.queue.EnqueueSchedulerRun(ctx, window)
}

// RunDailyScheduler iterates every active seller across every supported
// currency for today's window. Re-running within the same day is a no-op
// per key, so a crashed or double-fired run is safe to repeat.
func (l *Clearhold) RunDailyScheduler(ctx context.Context) (*SchedulerRunSummary, error) {
	ctx, span := otel.Tracer("payout.scheduler").Start(ctx, "RunDailyScheduler")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	sellers, err := l.datasource.GetActiveSellerIDs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &SchedulerRunSummary{
		WindowDate: windowDay(l.now()),
		Sellers:    len(sellers),
	}

	for _, sellerID := range sellers {
		for _, currency := range conf.Payouts.SupportedCurrencies {
			outcome, _, err := l.ProcessSellerForWindow(ctx, sellerID, currency, summary.WindowDate)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"seller_id": sellerID,
					"currency":  currency,
				}).Errorf("scheduling pass failed: %v", err)
				summary.Errored++
				continue
			}
			switch outcome {
			case OutcomeExisting:
				summary.Existing++
			case OutcomeSkipped:
				summary.Skipped++
			case OutcomeScheduled:
				summary.Scheduled++
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"window_date": summary.WindowDate.Format("2006-01-02"),
		"sellers":     summary.Sellers,
		"scheduled":   summary.Scheduled,
		"skipped":     summary.Skipped,
		"existing":    summary.Existing,
		"errored":     summary.Errored,
	}).Info("daily scheduler run complete")
	return summary, nil
}
