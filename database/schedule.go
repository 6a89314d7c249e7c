package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// RecordSchedule inserts a payout window row. The unique constraint on
// (seller_id, currency, window_date) turns a concurrent duplicate insert
// into ErrConflict, which the scheduler treats as "someone else won".
func (d Datasource) RecordSchedule(ctx context.Context, s *model.PayoutSchedule) error {
	if s.ScheduleID == "" {
		s.ScheduleID = model.GenerateUUIDWithSuffix("sch")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	snapshotJSON, err := json.Marshal(s.EligibilitySnapshot)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal eligibility snapshot", err)
	}
	orderIDsJSON, err := json.Marshal(s.IncludedOrderIDs)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal order ids", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO clearhold.payout_schedules(schedule_id,seller_id,currency,window_date,status,eligibility_snapshot,included_order_ids,total_count,total_amount,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ScheduleID, s.SellerID, s.Currency, s.WindowDate, s.Status, snapshotJSON, orderIDsJSON, s.TotalCount, s.TotalAmount, s.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apierror.NewAPIError(apierror.ErrConflict, "Schedule already exists for this window", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout schedule", err)
	}
	return nil
}

const scheduleColumns = `schedule_id, seller_id, currency, window_date, status, eligibility_snapshot, included_order_ids, total_count, total_amount, created_at`

func scanSchedule(scan func(dest ...interface{}) error) (*model.PayoutSchedule, error) {
	s := &model.PayoutSchedule{}
	var snapshotJSON, orderIDsJSON []byte
	err := scan(&s.ScheduleID, &s.SellerID, &s.Currency, &s.WindowDate, &s.Status, &snapshotJSON, &orderIDsJSON, &s.TotalCount, &s.TotalAmount, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(snapshotJSON) > 0 && string(snapshotJSON) != "null" {
		s.EligibilitySnapshot = &model.SellerEligibility{}
		if err := json.Unmarshal(snapshotJSON, s.EligibilitySnapshot); err != nil {
			return nil, err
		}
	}
	if len(orderIDsJSON) > 0 {
		if err := json.Unmarshal(orderIDsJSON, &s.IncludedOrderIDs); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (d Datasource) GetSchedule(ctx context.Context, sellerID, currency string, windowDate time.Time) (*model.PayoutSchedule, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM clearhold.payout_schedules
		WHERE seller_id = $1 AND currency = $2 AND window_date = $3
	`, sellerID, currency, windowDate)

	s, err := scanSchedule(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout schedule", err)
	}
	return s, nil
}

func (d Datasource) GetScheduleByID(ctx context.Context, scheduleID string) (*model.PayoutSchedule, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM clearhold.payout_schedules
		WHERE schedule_id = $1
	`, scheduleID)

	s, err := scanSchedule(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Schedule '%s' not found", scheduleID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout schedule", err)
	}
	return s, nil
}

func (d Datasource) UpdateScheduleStatus(ctx context.Context, scheduleID string, status model.ScheduleStatus) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.payout_schedules SET status = $2 WHERE schedule_id = $1
	`, scheduleID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update schedule status", err)
	}
	return nil
}

// GetClaimedOrderIDs returns the ids of every order already referenced by a
// SCHEDULED or CONSUMED schedule for the seller and currency. These orders
// must not be picked up by a new window until their schedule terminates.
func (d Datasource) GetClaimedOrderIDs(ctx context.Context, sellerID, currency string) (map[string]struct{}, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT included_order_ids
		FROM clearhold.payout_schedules
		WHERE seller_id = $1 AND currency = $2 AND status IN ($3, $4)
	`, sellerID, currency, model.ScheduleScheduled, model.ScheduleConsumed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve claimed orders", err)
	}
	defer rows.Close()

	claimed := map[string]struct{}{}
	for rows.Next() {
		var orderIDsJSON []byte
		if err := rows.Scan(&orderIDsJSON); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan claimed orders", err)
		}
		var ids []string
		if len(orderIDsJSON) > 0 {
			if err := json.Unmarshal(orderIDsJSON, &ids); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal claimed orders", err)
			}
		}
		for _, id := range ids {
			claimed[id] = struct{}{}
		}
	}
	return claimed, rows.Err()
}

// GetScheduleForOrder finds the active schedule claiming an order, if any.
func (d Datasource) GetScheduleForOrder(ctx context.Context, orderID string) (*model.PayoutSchedule, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM clearhold.payout_schedules
		WHERE status IN ($2, $3) AND included_order_ids @> to_jsonb(ARRAY[$1]::text[])
		LIMIT 1
	`, orderID, model.ScheduleScheduled, model.ScheduleConsumed)

	s, err := scanSchedule(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve schedule for order", err)
	}
	return s, nil
}
