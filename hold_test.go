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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/database/mocks"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

func mockPayoutConfig() *config.Configuration {
	cnf := &config.Configuration{
		Payouts: config.PayoutsConfig{Enabled: true},
	}
	config.MockConfig(cnf)
	return cnf
}

func TestCalculateHoldReleaseDate(t *testing.T) {
	conf := mockPayoutConfig()
	delivered := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		tier        model.SellerTier
		amount      int64
		processedAt time.Time
		wantRelease time.Time
	}{
		{
			name:        "tier C holds fourteen days",
			tier:        model.TierC,
			amount:      2000,
			wantRelease: delivered.Add(14 * 24 * time.Hour),
		},
		{
			name:        "tier B holds three days",
			tier:        model.TierB,
			amount:      2000,
			wantRelease: delivered.Add(3 * 24 * time.Hour),
		},
		{
			name:        "tier A holds one day",
			tier:        model.TierA,
			amount:      2000,
			wantRelease: delivered.Add(24 * time.Hour),
		},
		{
			name:        "high value floor overrides tier A window",
			tier:        model.TierA,
			amount:      50000,
			wantRelease: delivered.Add(7 * 24 * time.Hour),
		},
		{
			name:        "tier C window dominates high value floor",
			tier:        model.TierC,
			amount:      75000,
			wantRelease: delivered.Add(14 * 24 * time.Hour),
		},
		{
			name:        "settlement after delivery moves the anchor",
			tier:        model.TierA,
			amount:      2000,
			processedAt: delivered.Add(6 * time.Hour),
			wantRelease: delivered.Add(6 * time.Hour).Add(24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &model.Order{
				TotalAmount: tt.amount,
				DeliveredAt: delivered,
				ProcessedAt: tt.processedAt,
			}
			anchor, release := CalculateHoldReleaseDate(order, tt.tier, conf)

			wantAnchor := delivered
			if tt.processedAt.After(delivered) {
				wantAnchor = tt.processedAt
			}
			assert.Equal(t, wantAnchor, anchor)
			assert.Equal(t, tt.wantRelease, release)
		})
	}
}

func TestSetInitialHoldDates(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS, now: time.Now}

	delivered := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	order := &model.Order{
		OrderID:        "ord_1",
		SellerID:       "seller_1",
		TotalAmount:    2000,
		Currency:       "USD",
		Status:         model.OrderStatusCompleted,
		DeliveryStatus: model.DeliveryStatusDelivered,
		DeliveredAt:    delivered,
	}

	mockDS.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)
	mockDS.On("GetSellerProfile", mock.Anything, "seller_1").Return(&model.SellerProfile{
		SellerID: "seller_1",
		Tier:     model.TierB,
	}, nil)
	mockDS.On("UpdateOrderHoldDates", mock.Anything, "ord_1", delivered, delivered.Add(3*24*time.Hour), model.OrderPendingMaturity).Return(nil)

	updated, err := engine.SetInitialHoldDates(context.Background(), "ord_1")
	assert.NoError(t, err)
	assert.Equal(t, delivered, updated.HoldStartAt)
	assert.Equal(t, delivered.Add(3*24*time.Hour), updated.ReleaseExpectedAt)
	assert.Equal(t, model.OrderPendingMaturity, updated.EligibilityStatus)

	mockDS.AssertExpectations(t)
}

func TestSetInitialHoldDatesRejectsUndelivered(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS, now: time.Now}

	mockDS.On("GetOrder", mock.Anything, "ord_2").Return(&model.Order{
		OrderID:        "ord_2",
		Status:         model.OrderStatusCompleted,
		DeliveryStatus: "in_transit",
	}, nil)

	_, err := engine.SetInitialHoldDates(context.Background(), "ord_2")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrOrderNotDelivered, apierror.CodeOf(err))
}

func TestSetInitialHoldDatesIsIdempotent(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS, now: time.Now}

	delivered := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mockDS.On("GetOrder", mock.Anything, "ord_3").Return(&model.Order{
		OrderID:        "ord_3",
		Status:         model.OrderStatusCompleted,
		DeliveryStatus: model.DeliveryStatusDelivered,
		DeliveredAt:    delivered,
		HoldStartAt:    delivered,
	}, nil)

	_, err := engine.SetInitialHoldDates(context.Background(), "ord_3")
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "UpdateOrderHoldDates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromoteMaturedOrders(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	now := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	engine := &Clearhold{datasource: mockDS, now: func() time.Time { return now }}

	matured := &model.Order{
		OrderID:           "ord_m1",
		SellerID:          "seller_1",
		BuyerID:           "buyer_1",
		TotalAmount:       2000,
		Currency:          "USD",
		Status:            model.OrderStatusCompleted,
		DeliveryStatus:    model.DeliveryStatusDelivered,
		EscrowStatus:      model.EscrowHeld,
		ReleaseExpectedAt: now.Add(-time.Hour),
	}
	suspendedSellerOrder := &model.Order{
		OrderID:           "ord_m2",
		SellerID:          "seller_2",
		Status:            model.OrderStatusCompleted,
		DeliveryStatus:    model.DeliveryStatusDelivered,
		ReleaseExpectedAt: now.Add(-time.Hour),
	}

	mockDS.On("GetMaturedOrders", mock.Anything, now, 100).Return([]*model.Order{matured, suspendedSellerOrder}, nil)
	mockDS.On("GetSellerProfile", mock.Anything, "seller_1").Return(&model.SellerProfile{SellerID: "seller_1", RiskStatus: model.RiskActive}, nil)
	mockDS.On("GetSellerProfile", mock.Anything, "seller_2").Return(&model.SellerProfile{SellerID: "seller_2", RiskStatus: model.RiskSuspended}, nil)

	mockDS.On("EntryExistsByExternalID", mock.Anything, "release_ord_m1").Return(false, nil)
	mockDS.On("AppendEntries", mock.Anything, mock.MatchedBy(func(entries []*model.LedgerEntry) bool {
		if len(entries) != 2 {
			return false
		}
		// The pair nets to zero and credits the seller's available bucket.
		return entries[0].Amount+entries[1].Amount == 0 &&
			entries[1].UserUid == "seller_1" &&
			entries[1].Status == model.EntryStatusAvailable
	})).Return(nil)
	mockDS.On("UpdateOrderEscrowStatus", mock.Anything, "ord_m1", model.EscrowReleased).Return(nil)
	mockDS.On("UpdateOrderEligibilityStatus", mock.Anything, "ord_m1", model.OrderEligibleForPayout).Return(nil)

	promoted, err := engine.PromoteMaturedOrders(context.Background(), 100)
	assert.NoError(t, err)
	assert.Equal(t, 1, promoted)

	mockDS.AssertNotCalled(t, "UpdateOrderEligibilityStatus", mock.Anything, "ord_m2", mock.Anything)
	mockDS.AssertExpectations(t)
}
