package model

import "time"

// Reconciliation categories swept by the drift job.
const (
	CategoryPaymentOperations  = "payment_operations"
	CategoryTransferOperations = "transfer_operations"
	CategoryProcessorAccounts  = "processor_accounts"
	CategoryPlatformBalance    = "platform_balance"
	CategoryWebhookEvents      = "webhook_events"
)

// ReconciliationRequest parameterizes one sweep.
type ReconciliationRequest struct {
	TimeRangeHours  int  `json:"time_range_hours"`
	BatchSize       int  `json:"batch_size"`
	IncludeBalances bool `json:"include_balances"`
	IncludeWebhooks bool `json:"include_webhooks"`
	DryRun          bool `json:"dry_run"`
}

// Discrepancy records one field-level divergence between a local record and
// the processor's live state. Healed is true when the local value was
// overwritten from the processor in a non-dry-run sweep.
type Discrepancy struct {
	Category       string `json:"category"`
	LocalID        string `json:"local_id"`
	ProcessorRef   string `json:"processor_ref"`
	Field          string `json:"field"`
	LocalValue     string `json:"local_value"`
	ProcessorValue string `json:"processor_value"`
	Healed         bool   `json:"healed"`
}

// CategoryResult aggregates one category's sweep outcome.
type CategoryResult struct {
	Checked    int `json:"checked"`
	Discrepant int `json:"discrepant"`
	Errored    int `json:"errored"`
}

// ReconciliationSummary is the job's output record.
type ReconciliationSummary struct {
	RunID         string                    `json:"run_id"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   time.Time                 `json:"completed_at"`
	DryRun        bool                      `json:"dry_run"`
	Categories    map[string]CategoryResult `json:"categories"`
	Discrepancies []Discrepancy             `json:"discrepancies"`
	SuccessRate   float64                   `json:"success_rate"`
}

// TotalChecked sums checked records across categories.
func (s *ReconciliationSummary) TotalChecked() int {
	total := 0
	for _, c := range s.Categories {
		total += c.Checked
	}
	return total
}

// ComputeSuccessRate sets SuccessRate from the per-category tallies.
func (s *ReconciliationSummary) ComputeSuccessRate() {
	checked, bad := 0, 0
	for _, c := range s.Categories {
		checked += c.Checked
		bad += c.Discrepant + c.Errored
	}
	if checked == 0 {
		s.SuccessRate = 1
		return
	}
	s.SuccessRate = float64(checked-bad) / float64(checked)
}
