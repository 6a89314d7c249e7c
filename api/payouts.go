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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/clearhold/clearhold/api/model"
	"github.com/clearhold/clearhold/internal/apierror"
)

// TriggerPayout runs the full three-phase payout for one order. Internal
// error codes map onto HTTP statuses: not found is 404, cheap eligibility
// and solvency rejections are 400, in-flight or already-paid conflicts are
// 409.
func (a Api) TriggerPayout(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass id in the route /payouts/:order_id/trigger"})
		return
	}

	payout, err := a.engine.TriggerOrderPayout(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error(), "code": apierror.CodeOf(err)})
		return
	}

	c.JSON(http.StatusCreated, payout)
}

// CheckSellerEligibility returns the seller payout gate's record verbatim.
// An ineligible seller is a routine outcome, not an error, so the response
// is 200 either way.
func (a Api) CheckSellerEligibility(c *gin.Context) {
	var req model2.EligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateEligibilityRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	eligibility, err := a.engine.CheckSellerPayoutEligibility(c.Request.Context(), req.SellerUid, req.Currency)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, eligibility)
}

// RunScheduler queues today's scheduling run for the workers. The task id
// carries the window day, so re-triggering within the same day collapses
// into one run.
func (a Api) RunScheduler(c *gin.Context) {
	window, err := a.engine.QueueSchedulerRun(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"window_date": window, "status": "queued"})
}

// GetAvailableBalance returns a seller's spendable ledger balance.
func (a Api) GetAvailableBalance(c *gin.Context) {
	sellerID, _ := c.Params.Get("seller_id")
	currency, _ := c.Params.Get("currency")
	if sellerID == "" || currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seller_id and currency are required in the route /balances/:seller_id/:currency"})
		return
	}

	balance, err := a.engine.GetAvailableBalance(c.Request.Context(), sellerID, currency)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"seller_id": sellerID, "currency": currency, "available_balance": balance})
}
