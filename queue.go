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
	"log"

	"github.com/hibiken/asynq"

	"github.com/clearhold/clearhold/config"
	redis_db "github.com/clearhold/clearhold/internal/redis-db"
	"github.com/clearhold/clearhold/model"
)

// Queue hands units of work to the asynq workers: per-order payout
// executions, scheduler runs, reconciliation sweeps and webhook events.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// PayoutTaskPayload is the body of a queued payout execution.
type PayoutTaskPayload struct {
	OrderID string `json:"order_id"`
}

// WebhookTaskPayload is the body of a queued inbound event.
type WebhookTaskPayload struct {
	Event model.WebhookEvent `json:"event"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(fmt.Sprintf("redis://%s", conf.Redis.Dns))
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueuePayout queues one order for payout execution. The task id is
// derived from the order so a double enqueue of the same order collapses
// into one task.
func (q *Queue) EnqueuePayout(ctx context.Context, orderID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(PayoutTaskPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("payout_%s", orderID)),
		asynq.Queue(cfg.Queue.PayoutQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.PayoutQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payout for order: %s", orderID)
	return nil
}

// EnqueueSchedulerRun queues a daily scheduler run. The task id carries the
// window day, so firing the cron twice in one day enqueues once.
func (q *Queue) EnqueueSchedulerRun(ctx context.Context, windowDate string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("scheduler_%s", windowDate)),
		asynq.Queue(cfg.Queue.SchedulerQueue),
	}
	task := asynq.NewTask(cfg.Queue.SchedulerQueue, []byte(windowDate), taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued scheduler run for window: %s", windowDate)
	return nil
}

// EnqueueReconciliation queues one reconciliation sweep.
func (q *Queue) EnqueueReconciliation(ctx context.Context, req model.ReconciliationRequest) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.ReconciliationQueue, payload, asynq.Queue(cfg.Queue.ReconciliationQueue))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued reconciliation run")
	return nil
}

// EnqueueWebhookEvent queues a verified inbound event for processing off
// the request path. The task id is the processor event id, deduplicating
// redelivered webhooks before they even reach the store.
func (q *Queue) EnqueueWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(WebhookTaskPayload{Event: *event})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("event_%s", event.EventID)),
		asynq.Queue(cfg.Queue.WebhookQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook event: %s", event.EventID)
	return nil
}
