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

	"github.com/clearhold/clearhold/internal/apierror"
)

// SetOrderHold computes and stores the hold anchor and release date for a
// delivered order. Calling it again for the same order is a no-op.
func (a Api) SetOrderHold(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass id in the route /orders/:order_id/hold"})
		return
	}

	order, err := a.engine.SetInitialHoldDates(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error(), "code": apierror.CodeOf(err)})
		return
	}

	c.JSON(http.StatusOK, order)
}

// LockOrderEscrow posts the escrow lock for a settled order's buyer funds.
func (a Api) LockOrderEscrow(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass id in the route /orders/:order_id/lock"})
		return
	}

	order, err := a.engine.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if err := a.engine.LockEscrow(c.Request.Context(), order); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order_id": orderID, "escrow_status": "held"})
}

// RefundOrderEscrow reverses a held order's escrow back to the buyer.
func (a Api) RefundOrderEscrow(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass id in the route /orders/:order_id/refund"})
		return
	}

	if err := a.engine.RefundOrderEscrow(c.Request.Context(), orderID); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error(), "code": apierror.CodeOf(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "escrow_status": "refunded"})
}

// GetOrderEntries returns the complete ledger trail for one order.
func (a Api) GetOrderEntries(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass id in the route /orders/:order_id/entries"})
		return
	}

	entries, err := a.engine.GetOrderEntries(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entries)
}
