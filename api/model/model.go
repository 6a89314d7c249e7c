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
package model

import (
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/clearhold/clearhold/model"
)

// EligibilityRequest probes the seller payout gate.
type EligibilityRequest struct {
	SellerUid string `json:"seller_uid"`
	Currency  string `json:"currency"`
}

func (r *EligibilityRequest) ValidateEligibilityRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.SellerUid, validation.Required),
		validation.Field(&r.Currency, validation.Required, validation.Length(3, 3)),
	)
}

// ReconciliationRunRequest parameterizes one reconciliation sweep. Zero
// values fall back to configured defaults.
type ReconciliationRunRequest struct {
	TimeRangeHours  int  `json:"time_range_hours"`
	BatchSize       int  `json:"batch_size"`
	IncludeBalances bool `json:"include_balances"`
	IncludeWebhooks bool `json:"include_webhooks"`
	DryRun          bool `json:"dry_run"`
}

func (r *ReconciliationRunRequest) ValidateReconciliationRunRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TimeRangeHours, validation.Min(0), validation.Max(24*30)),
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(10000)),
	)
}

func (r *ReconciliationRunRequest) ToReconciliationRequest() model.ReconciliationRequest {
	return model.ReconciliationRequest{
		TimeRangeHours:  r.TimeRangeHours,
		BatchSize:       r.BatchSize,
		IncludeBalances: r.IncludeBalances,
		IncludeWebhooks: r.IncludeWebhooks,
		DryRun:          r.DryRun,
	}
}

// WebhookEventRequest is a verified, parsed processor event. Signature
// verification happens upstream; this API only sees events that passed it.
type WebhookEventRequest struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (r *WebhookEventRequest) ValidateWebhookEventRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EventID, validation.Required),
		validation.Field(&r.Type, validation.Required),
	)
}

func (r *WebhookEventRequest) ToWebhookEvent() *model.WebhookEvent {
	return &model.WebhookEvent{
		EventID: r.EventID,
		Type:    r.Type,
		Payload: r.Payload,
	}
}
