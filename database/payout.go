package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

const payoutColumns = `payout_id, order_id, COALESCE(schedule_id, ''), seller_id, currency, amount, fee, net_amount, status,
		COALESCE(transfer_id, ''), COALESCE(failure_reason, ''), reserved_at, COALESCE(completed_at, 'epoch'::timestamp)`

func scanPayout(scan func(dest ...interface{}) error) (*model.Payout, error) {
	p := &model.Payout{}
	err := scan(&p.PayoutID, &p.OrderID, &p.ScheduleID, &p.SellerID, &p.Currency, &p.Amount, &p.Fee, &p.NetAmount,
		&p.Status, &p.TransferID, &p.FailureReason, &p.ReservedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	normalizeEpoch(&p.CompletedAt)
	return p, nil
}

func (d Datasource) RecordPayout(ctx context.Context, p *model.Payout) error {
	if p.PayoutID == "" {
		p.PayoutID = model.GenerateUUIDWithSuffix("pay")
	}
	if p.ReservedAt.IsZero() {
		p.ReservedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO clearhold.payouts(payout_id,order_id,schedule_id,seller_id,currency,amount,fee,net_amount,status,transfer_id,failure_reason,reserved_at) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),$12)`,
		p.PayoutID, p.OrderID, p.ScheduleID, p.SellerID, p.Currency, p.Amount, p.Fee, p.NetAmount, p.Status, p.TransferID, p.FailureReason, p.ReservedAt,
	)
	if err != nil {
		// The partial unique index on (order_id) rejects a second active
		// payout row for the same order.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("An active payout already exists for order '%s'", p.OrderID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout", err)
	}
	return nil
}

func (d Datasource) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM clearhold.payouts
		WHERE payout_id = $1
	`, payoutID)

	p, err := scanPayout(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout '%s' not found", payoutID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout", err)
	}
	return p, nil
}

// GetActivePayoutForOrder returns a non-terminal-failed payout for the
// order, the duplicate-reservation guard for the executor's phase one.
func (d Datasource) GetActivePayoutForOrder(ctx context.Context, orderID string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM clearhold.payouts
		WHERE order_id = $1 AND status NOT IN ($2, $3)
		ORDER BY reserved_at DESC
		LIMIT 1
	`, orderID, model.PayoutFailed, model.PayoutCancelled)

	p, err := scanPayout(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active payout", err)
	}
	return p, nil
}

func (d Datasource) UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, transferID, failureReason string) error {
	var completedAt interface{}
	switch status {
	case model.PayoutSucceeded, model.PayoutFailed, model.PayoutCancelled:
		completedAt = time.Now()
	default:
		completedAt = nil
	}

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.payouts
		SET status = $2,
		    transfer_id = COALESCE(NULLIF($3, ''), transfer_id),
		    failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
		    completed_at = COALESCE($5, completed_at)
		WHERE payout_id = $1
	`, payoutID, status, transferID, failureReason, completedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout status", err)
	}
	return nil
}

// GetLastFailedPayout returns the most recent failed payout for the seller
// and currency since the given time, or nil. Drives the 24h cooldown gate.
func (d Datasource) GetLastFailedPayout(ctx context.Context, sellerID, currency string, since time.Time) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM clearhold.payouts
		WHERE seller_id = $1 AND currency = $2 AND status = $3 AND completed_at >= $4
		ORDER BY completed_at DESC
		LIMIT 1
	`, sellerID, currency, model.PayoutFailed, since)

	p, err := scanPayout(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve failed payout", err)
	}
	return p, nil
}

func (d Datasource) GetInFlightPayoutsBySeller(ctx context.Context, sellerID string) ([]*model.Payout, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM clearhold.payouts
		WHERE seller_id = $1 AND status IN ($2, $3)
		ORDER BY reserved_at ASC
	`, sellerID, model.PayoutReserved, model.PayoutProcessing)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve in-flight payouts", err)
	}
	defer rows.Close()

	return collectPayouts(rows)
}

func (d Datasource) GetPayoutsSince(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM clearhold.payouts
		WHERE reserved_at >= $1
		ORDER BY reserved_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payouts", err)
	}
	defer rows.Close()

	return collectPayouts(rows)
}

func collectPayouts(rows *sql.Rows) ([]*model.Payout, error) {
	payouts := []*model.Payout{}
	for rows.Next() {
		p, err := scanPayout(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout", err)
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}
