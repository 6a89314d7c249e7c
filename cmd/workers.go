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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/clearhold/clearhold"
	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	redis_db "github.com/clearhold/clearhold/internal/redis-db"
	"github.com/clearhold/clearhold/model"
)

// processPayout executes one queued payout. Conflict outcomes mean the work
// is already done or already in flight, so the task is dropped rather than
// retried; an unknown transfer outcome is also dropped because retrying it
// blind could double-pay, reconciliation resolves it instead.
func (b *engineInstance) processPayout(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("payout.worker").Start(ctx, "Process Payout From Queue")
	defer span.End()

	var payload clearhold.PayoutTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	payout, err := b.engine.TriggerOrderPayout(ctx, payload.OrderID)
	if err != nil {
		switch apierror.CodeOf(err) {
		case apierror.ErrPaymentAlreadyExists, apierror.ErrPayoutProcessing:
			logrus.Infof("Payout for order %s already handled: %v", payload.OrderID, err)
			return nil
		case apierror.ErrOrderNotFound, apierror.ErrOrderNotDelivered, apierror.ErrFundsNotReleased,
			apierror.ErrSellerAccountInvalid, apierror.ErrInsufficientFunds:
			logrus.Warnf("Payout for order %s rejected: %v", payload.OrderID, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logrus.Infof("Payout for order %s pushed back for retry due to error: %v", payload.OrderID, err)
		return err
	}

	log.Println(" [*] Payout Processed", payout.PayoutID)
	return nil
}

// processSchedulerRun handles one queued daily scheduler run.
func (b *engineInstance) processSchedulerRun(ctx context.Context, t *asynq.Task) error {
	summary, err := b.engine.RunDailyScheduler(ctx)
	if err != nil {
		return err
	}
	log.Printf(" [*] Scheduler Run Complete: %d scheduled, %d skipped, %d existing", summary.Scheduled, summary.Skipped, summary.Existing)
	return nil
}

// processReconciliation handles one queued reconciliation sweep.
func (b *engineInstance) processReconciliation(ctx context.Context, t *asynq.Task) error {
	var req model.ReconciliationRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	summary, err := b.engine.RunReconciliation(ctx, req)
	if err != nil {
		return err
	}
	log.Printf(" [*] Reconciliation Run %s: %d checked, %d discrepancies", summary.RunID, summary.TotalChecked(), len(summary.Discrepancies))
	return nil
}

// processWebhookEvent handles one queued inbound processor event.
func (b *engineInstance) processWebhookEvent(ctx context.Context, t *asynq.Task) error {
	var payload clearhold.WebhookTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := b.engine.ProcessWebhookEvent(ctx, &payload.Event); err != nil {
		logrus.Infof("Webhook event %s pushed back for retry due to error: %v", payload.Event.EventID, err)
		return err
	}

	log.Println(" [*] Webhook Event Processed", payload.Event.EventID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.PayoutQueue] = 3
	queues[cfg.Queue.SchedulerQueue] = 1
	queues[cfg.Queue.ReconciliationQueue] = 1
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *engineInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.PayoutQueue, b.processPayout)
	mux.HandleFunc(cfg.Queue.SchedulerQueue, b.processSchedulerRun)
	mux.HandleFunc(cfg.Queue.ReconciliationQueue, b.processReconciliation)
	mux.HandleFunc(cfg.Queue.WebhookQueue, b.processWebhookEvent)
}

// workerCommands defines the "workers" command to start worker processes
// listening on the payout, scheduler, reconciliation and webhook queues.
func workerCommands(b *engineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start clearhold workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}
