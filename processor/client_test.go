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
package processor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func testClient() *Client {
	return &Client{
		baseURL:    "https://processor.test",
		apiKey:     "sk_test",
		timeout:    2 * time.Second,
		maxRetries: 2,
	}
}

func TestCreateTransfer(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://processor.test/v1/transfers",
		httpmock.NewStringResponder(200, `{"id": "tr_123"}`))

	id, err := testClient().CreateTransfer(context.Background(), "acct_1", 10000, "USD", map[string]string{"payout_id": "pay_1"})
	assert.NoError(t, err)
	assert.Equal(t, "tr_123", id)
}

func TestCreateTransferRejection(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://processor.test/v1/transfers",
		httpmock.NewStringResponder(200, `{"error": "destination cannot receive transfers"}`))

	_, err := testClient().CreateTransfer(context.Background(), "acct_1", 10000, "USD", nil)
	assert.True(t, IsRejected(err))
}

func TestCreateTransferNeverRetries(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://processor.test/v1/transfers",
		httpmock.NewErrorResponder(assert.AnError))

	_, err := testClient().CreateTransfer(context.Background(), "acct_1", 10000, "USD", nil)
	assert.True(t, IsConnection(err))
	// A write with an unknown outcome must not be re-fired.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRetrieveAccountStatusRetriesConnectionFailures(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("GET", "https://processor.test/v1/accounts/acct_1",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return nil, assert.AnError
			}
			return httpmock.NewStringResponse(200, `{"account_id": "acct_1", "payouts_enabled": true}`), nil
		})

	status, err := testClient().RetrieveAccountStatus(context.Background(), "acct_1")
	assert.NoError(t, err)
	assert.True(t, status.PayoutsEnabled)
	assert.Equal(t, 2, calls)
}

func TestRetrieveAccountStatusDoesNotRetryRejections(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://processor.test/v1/accounts/acct_missing",
		httpmock.NewStringResponder(404, `{}`))

	_, err := testClient().RetrieveAccountStatus(context.Background(), "acct_missing")
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRetrieveOperation(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://processor.test/v1/operations/tr_1",
		httpmock.NewStringResponder(200, `{"id": "tr_1", "kind": "transfer", "status": "paid", "amount": 10000, "currency": "USD"}`))

	state, err := testClient().RetrieveOperation(context.Background(), "tr_1")
	assert.NoError(t, err)
	assert.Equal(t, "paid", state.Status)
	assert.Equal(t, int64(10000), state.Amount)
}

func TestClassifyStatus(t *testing.T) {
	c := testClient()
	assert.NoError(t, c.classifyStatus(200))
	assert.NoError(t, c.classifyStatus(204))

	err := c.classifyStatus(401)
	pe, ok := err.(*Error)
	assert.True(t, ok)
	assert.Equal(t, ErrAuth, pe.Type)

	assert.True(t, IsRejected(c.classifyStatus(422)))
	assert.True(t, IsConnection(c.classifyStatus(503)))
}
