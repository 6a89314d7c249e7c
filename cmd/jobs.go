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
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearhold/clearhold/model"
)

// jobCommands groups the one-shot jobs meant for cron: order promotion, the
// daily scheduler and the reconciliation sweep. Each runs to completion and
// exits, so the same binary serves both the long-running workers and the
// crontab.
func jobCommands(b *engineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "run one-shot engine jobs",
	}

	var batchSize int
	promote := &cobra.Command{
		Use:   "promote",
		Short: "release matured escrow and promote orders",
		Run: func(cmd *cobra.Command, args []string) {
			promoted, err := b.engine.PromoteMaturedOrders(context.Background(), batchSize)
			if err != nil {
				log.Fatal(err)
			}
			log.Printf(" [*] Promoted %d matured orders", promoted)
		},
	}
	promote.Flags().IntVar(&batchSize, "batch-size", 100, "orders per sweep")

	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "run the daily payout scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			summary, err := b.engine.RunDailyScheduler(context.Background())
			if err != nil {
				log.Fatal(err)
			}
			out, _ := json.Marshal(summary)
			log.Printf(" [*] %s", out)
		},
	}

	var dryRun, includeBalances, includeWebhooks bool
	var timeRangeHours, reconBatch int
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "run one reconciliation sweep",
		Run: func(cmd *cobra.Command, args []string) {
			summary, err := b.engine.RunReconciliation(context.Background(), model.ReconciliationRequest{
				TimeRangeHours:  timeRangeHours,
				BatchSize:       reconBatch,
				IncludeBalances: includeBalances,
				IncludeWebhooks: includeWebhooks,
				DryRun:          dryRun,
			})
			if err != nil {
				log.Fatal(err)
			}
			out, _ := json.MarshalIndent(summary, "", "  ")
			if _, err := os.Stdout.Write(append(out, '\n')); err != nil {
				log.Fatal(err)
			}
		},
	}
	reconcile.Flags().BoolVar(&dryRun, "dry-run", false, "detect drift without healing")
	reconcile.Flags().BoolVar(&includeBalances, "balances", true, "include the platform balance check")
	reconcile.Flags().BoolVar(&includeWebhooks, "webhooks", true, "redispatch stalled webhook events")
	reconcile.Flags().IntVar(&timeRangeHours, "hours", 0, "trailing window in hours, 0 uses the configured default")
	reconcile.Flags().IntVar(&reconBatch, "batch-size", 0, "records per category, 0 uses the configured default")

	cmd.AddCommand(promote, schedule, reconcile)
	return cmd
}
