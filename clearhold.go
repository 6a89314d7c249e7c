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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/database"
	redis_db "github.com/clearhold/clearhold/internal/redis-db"
	"github.com/clearhold/clearhold/processor"
)

// Clearhold is the escrow ledger and payout orchestration engine. One
// instance carries every service: the ledger, the hold and eligibility
// engine, the scheduler, the executor and the reconciliation job.
type Clearhold struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	processor  processor.Adapter

	// now is injectable so the hold, cooldown and window math is
	// deterministic under test.
	now func() time.Time
}

// NewClearhold initializes the engine with the provided datasource and
// processor adapter. Redis and the task queue come from configuration.
func NewClearhold(db database.IDataSource, proc processor.Adapter) (*Clearhold, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	engine := &Clearhold{
		datasource: db,
		processor:  proc,
		queue:      newQueue,
		redis:      redisClient.Client(),
		now:        time.Now,
	}
	return engine, nil
}
