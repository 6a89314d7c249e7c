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

	"github.com/clearhold/clearhold"
	"github.com/clearhold/clearhold/api/middleware"
	"github.com/clearhold/clearhold/config"
)

type Api struct {
	engine *clearhold.Clearhold
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/orders/:order_id/hold", a.SetOrderHold)
	router.POST("/orders/:order_id/lock", a.LockOrderEscrow)
	router.POST("/orders/:order_id/refund", a.RefundOrderEscrow)
	router.GET("/orders/:order_id/entries", a.GetOrderEntries)

	router.GET("/balances/:seller_id/:currency", a.GetAvailableBalance)

	router.POST("/payouts/:order_id/trigger", a.TriggerPayout)
	router.POST("/payouts/eligibility", a.CheckSellerEligibility)

	router.POST("/scheduler/run", a.RunScheduler)
	router.POST("/reconciliation/run", a.RunReconciliation)

	router.POST("/webhooks", a.ReceiveWebhook)

	return a.router
}

func NewAPI(engine *clearhold.Clearhold) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		processorUp := engine.ProcessorHealthy(c.Request.Context())
		if !processorUp {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"processor": processorUp})
	})

	return &Api{engine: engine, router: r}
}
