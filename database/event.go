package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// RecordWebhookEvent persists a verified inbound event exactly once, keyed
// by the processor's event id. Returns false when the event was already
// stored, so callers can treat duplicate delivery as a no-op.
func (d Datasource) RecordWebhookEvent(ctx context.Context, e *model.WebhookEvent) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	result, err := d.Conn.ExecContext(ctx,
		`INSERT INTO clearhold.webhook_events(event_id,type,payload,processed,attempts,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.Type, []byte(e.Payload), e.Processed, e.Attempts, e.CreatedAt,
	)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook event", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check webhook event insert", err)
	}
	return affected > 0, nil
}

func (d Datasource) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, type, payload, processed, attempts, COALESCE(last_attempt_at, 'epoch'::timestamp), created_at
		FROM clearhold.webhook_events
		WHERE event_id = $1
	`, eventID)

	e, err := scanWebhookEvent(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook event '%s' not found", eventID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook event", err)
	}
	return e, nil
}

func scanWebhookEvent(scan func(dest ...interface{}) error) (*model.WebhookEvent, error) {
	e := &model.WebhookEvent{}
	var payload []byte
	err := scan(&e.EventID, &e.Type, &payload, &e.Processed, &e.Attempts, &e.LastAttemptAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	normalizeEpoch(&e.LastAttemptAt)
	return e, nil
}

func (d Datasource) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.webhook_events SET processed = TRUE WHERE event_id = $1
	`, eventID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook event processed", err)
	}
	return nil
}

func (d Datasource) TouchEventAttempt(ctx context.Context, eventID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.webhook_events SET attempts = attempts + 1, last_attempt_at = $2 WHERE event_id = $1
	`, eventID, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to touch webhook event attempt", err)
	}
	return nil
}

// GetRetryableEvents returns unprocessed events the retry policy still
// allows another attempt for, oldest first.
func (d Datasource) GetRetryableEvents(ctx context.Context, maxAttempts int, notTriedSince time.Time, limit int) ([]*model.WebhookEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT event_id, type, payload, processed, attempts, COALESCE(last_attempt_at, 'epoch'::timestamp), created_at
		FROM clearhold.webhook_events
		WHERE processed = FALSE
		  AND attempts < $1
		  AND (last_attempt_at IS NULL OR last_attempt_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, maxAttempts, notTriedSince, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve retryable webhook events", err)
	}
	defer rows.Close()

	events := []*model.WebhookEvent{}
	for rows.Next() {
		e, err := scanWebhookEvent(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook event", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
