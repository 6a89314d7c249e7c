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
package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestPayoutKey(t *testing.T) {
	assert.Equal(t, "payout:seller_1:USD", PayoutKey("seller_1", "USD"))
}

func TestLockExcludesSecondHolder(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := PayoutKey("seller_1", "USD")

	first := NewLocker(client, key, "holder-1")
	second := NewLocker(client, key, "holder-2")

	assert.NoError(t, first.Lock(ctx, time.Minute))
	assert.Error(t, second.Lock(ctx, time.Minute))

	// Only the holder can unlock; after that the key is free again.
	assert.Error(t, second.Unlock(ctx))
	assert.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestLockReacquirableAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := PayoutKey("seller_1", "USD")

	first := NewLocker(client, key, "holder-1")
	assert.NoError(t, first.Lock(ctx, time.Second))

	mr.FastForward(2 * time.Second)

	second := NewLocker(client, key, "holder-2")
	assert.NoError(t, second.Lock(ctx, time.Minute))
	// The expired holder can no longer unlock what it lost.
	assert.Error(t, first.Unlock(ctx))
}

func TestExtendLock(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := PayoutKey("seller_1", "USD")

	locker := NewLocker(client, key, "holder-1")
	assert.NoError(t, locker.Lock(ctx, time.Second))
	assert.NoError(t, locker.ExtendLock(ctx, time.Minute))

	mr.FastForward(2 * time.Second)
	// Still held thanks to the extension.
	assert.Error(t, NewLocker(client, key, "holder-2").Lock(ctx, time.Minute))
}

func TestWaitLockTimesOut(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := PayoutKey("seller_1", "USD")

	assert.NoError(t, NewLocker(client, key, "holder-1").Lock(ctx, time.Minute))

	err = NewLocker(client, key, "holder-2").WaitLock(ctx, time.Minute, 150*time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "within the wait timeout")
}

func TestLockSurfacesRedisErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	key := PayoutKey("seller_1", "USD")

	mock.ExpectSetNX(key, "holder-1", time.Minute).SetErr(assert.AnError)

	locker := NewLocker(client, key, "holder-1")
	assert.Error(t, locker.Lock(context.Background(), time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}
