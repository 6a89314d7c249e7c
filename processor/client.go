package processor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/request"
)

// Client implements Adapter over the processor's JSON API. Reads retry with
// exponential backoff; writes never retry here, because a timed-out write
// has an unknown outcome that only reconciliation may resolve.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries uint64
}

func NewClient(conf *config.Configuration) *Client {
	return &Client{
		baseURL:    conf.Processor.BaseURL,
		apiKey:     conf.Processor.APIKey,
		timeout:    time.Duration(conf.Processor.TimeoutSeconds) * time.Second,
		maxRetries: uint64(conf.Processor.MaxRetries),
	}
}

type transferRequest struct {
	Destination string            `json:"destination"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type transferResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (c *Client) CreateTransfer(ctx context.Context, destination string, amount int64, currency string, metadata map[string]string) (string, error) {
	payload := transferRequest{
		Destination: destination,
		Amount:      amount,
		Currency:    currency,
		Metadata:    metadata,
	}

	var resp transferResponse
	if err := c.post(ctx, "/v1/transfers", payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &Error{Type: ErrRejected, Message: resp.Error}
	}
	return resp.ID, nil
}

type refundRequest struct {
	OperationID string `json:"operation_id"`
	Amount      int64  `json:"amount"`
}

func (c *Client) Refund(ctx context.Context, operationID string, amount int64) (string, error) {
	payload := refundRequest{OperationID: operationID, Amount: amount}

	var resp transferResponse
	if err := c.post(ctx, "/v1/refunds", payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &Error{Type: ErrRejected, Message: resp.Error}
	}
	return resp.ID, nil
}

func (c *Client) RetrieveAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	var status AccountStatus
	err := c.getWithRetry(ctx, fmt.Sprintf("/v1/accounts/%s", accountID), &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) RetrieveOperation(ctx context.Context, id string) (*OperationState, error) {
	var state OperationState
	err := c.getWithRetry(ctx, fmt.Sprintf("/v1/operations/%s", id), &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) post(ctx context.Context, path string, payload, response interface{}) error {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := request.Call(req, response)
	if err != nil {
		return &Error{Type: ErrConnection, Message: "request failed", Err: err}
	}
	return c.classifyStatus(resp.StatusCode)
}

func (c *Client) getWithRetry(ctx context.Context, path string, response interface{}) error {
	operation := func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := request.Call(req, response)
		if err != nil {
			logrus.WithField("path", path).Warnf("processor request failed, will retry: %v", err)
			return &Error{Type: ErrConnection, Message: "request failed", Err: err}
		}
		if err := c.classifyStatus(resp.StatusCode); err != nil {
			pe, ok := err.(*Error)
			if ok && pe.Type == ErrConnection {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (c *Client) classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Type: ErrAuth, Message: fmt.Sprintf("processor returned %d", status)}
	case status >= 400 && status < 500:
		return &Error{Type: ErrRejected, Message: fmt.Sprintf("processor returned %d", status)}
	default:
		return &Error{Type: ErrConnection, Message: fmt.Sprintf("processor returned %d", status)}
	}
}
