package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

const orderColumns = `order_id, seller_id, buyer_id, total_amount, currency, COALESCE(status, ''), COALESCE(delivery_status, ''),
		COALESCE(delivered_at, 'epoch'::timestamp), COALESCE(processed_at, 'epoch'::timestamp), escrow_status, eligibility_status,
		COALESCE(hold_start_at, 'epoch'::timestamp), COALESCE(release_expected_at, 'epoch'::timestamp), meta_data`

func scanOrder(scan func(dest ...interface{}) error) (*model.Order, error) {
	order := &model.Order{}
	var metaDataJSON []byte
	err := scan(&order.OrderID, &order.SellerID, &order.BuyerID, &order.TotalAmount, &order.Currency, &order.Status,
		&order.DeliveryStatus, &order.DeliveredAt, &order.ProcessedAt, &order.EscrowStatus, &order.EligibilityStatus,
		&order.HoldStartAt, &order.ReleaseExpectedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}
	normalizeEpoch(&order.DeliveredAt)
	normalizeEpoch(&order.ProcessedAt)
	normalizeEpoch(&order.HoldStartAt)
	normalizeEpoch(&order.ReleaseExpectedAt)
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &order.MetaData); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// normalizeEpoch maps the COALESCE epoch sentinel back to the zero time.
func normalizeEpoch(t *time.Time) {
	if t.Unix() == 0 {
		*t = time.Time{}
	}
}

func (d Datasource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM clearhold.orders
		WHERE order_id = $1
	`, orderID)

	order, err := scanOrder(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	return order, nil
}

func (d Datasource) UpdateOrderHoldDates(ctx context.Context, orderID string, holdStartAt, releaseExpectedAt time.Time, status model.OrderEligibilityStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.orders
		SET hold_start_at = $2, release_expected_at = $3, eligibility_status = $4
		WHERE order_id = $1
	`, orderID, holdStartAt, releaseExpectedAt, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order hold dates", err)
	}
	return checkOrderAffected(result, orderID)
}

func (d Datasource) UpdateOrderEligibilityStatus(ctx context.Context, orderID string, status model.OrderEligibilityStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.orders SET eligibility_status = $2 WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order eligibility status", err)
	}
	return checkOrderAffected(result, orderID)
}

func (d Datasource) UpdateOrderEscrowStatus(ctx context.Context, orderID string, status model.EscrowStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.orders SET escrow_status = $2 WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order escrow status", err)
	}
	return checkOrderAffected(result, orderID)
}

func checkOrderAffected(result sql.Result, orderID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrOrderNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
	}
	return nil
}

// GetMaturedOrders returns held orders whose release date has passed,
// oldest release date first. The cursor is the release date itself, so a
// re-run picks up where the previous batch left off.
func (d Datasource) GetMaturedOrders(ctx context.Context, asOf time.Time, limit int) ([]*model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM clearhold.orders
		WHERE eligibility_status = $1
		  AND release_expected_at IS NOT NULL
		  AND release_expected_at <= $2
		ORDER BY release_expected_at ASC
		LIMIT $3
	`, model.OrderPendingMaturity, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve matured orders", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (d Datasource) GetEligibleOrders(ctx context.Context, sellerID, currency string) ([]*model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM clearhold.orders
		WHERE seller_id = $1 AND currency = $2 AND eligibility_status = $3
		ORDER BY release_expected_at ASC
	`, sellerID, currency, model.OrderEligibleForPayout)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve eligible orders", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*model.Order, error) {
	orders := []*model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (d Datasource) GetSellerProfile(ctx context.Context, sellerID string) (*model.SellerProfile, error) {
	cacheKey := fmt.Sprintf("seller_profile:%s", sellerID)
	if d.Cache != nil {
		cached := &model.SellerProfile{}
		if err := d.Cache.Get(ctx, cacheKey, cached); err == nil && cached.SellerID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT seller_id, risk_status, seller_level, COALESCE(processor_account_id, ''), created_at
		FROM clearhold.seller_profiles
		WHERE seller_id = $1
	`, sellerID)

	profile := &model.SellerProfile{}
	err := row.Scan(&profile.SellerID, &profile.RiskStatus, &profile.Tier, &profile.ProcessorAccountID, &profile.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Seller profile '%s' not found", sellerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve seller profile", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, profile, 5*time.Minute); err != nil {
			// The read succeeded; a cold cache is not worth failing over.
			log.Printf("Failed to cache seller profile %s: %v", sellerID, err)
		}
	}
	return profile, nil
}

func (d Datasource) GetSellerProfileByAccount(ctx context.Context, processorAccountID string) (*model.SellerProfile, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT seller_id, risk_status, seller_level, COALESCE(processor_account_id, ''), created_at
		FROM clearhold.seller_profiles
		WHERE processor_account_id = $1
	`, processorAccountID)

	profile := &model.SellerProfile{}
	err := row.Scan(&profile.SellerID, &profile.RiskStatus, &profile.Tier, &profile.ProcessorAccountID, &profile.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No seller profile for processor account '%s'", processorAccountID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve seller profile", err)
	}
	return profile, nil
}

func (d Datasource) GetActiveSellerIDs(ctx context.Context) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT seller_id FROM clearhold.seller_profiles WHERE risk_status = $1 ORDER BY seller_id
	`, model.RiskActive)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve active sellers", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan seller id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d Datasource) GetOpenDisputes(ctx context.Context, sellerID string) ([]*model.Dispute, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT dispute_id, seller_id, COALESCE(order_id, ''), status, created_at
		FROM clearhold.disputes
		WHERE seller_id = $1 AND status NOT IN ($2, $3)
	`, sellerID, model.DisputeResolved, model.DisputeClosed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve disputes", err)
	}
	defer rows.Close()

	disputes := []*model.Dispute{}
	for rows.Next() {
		dispute := &model.Dispute{}
		if err := rows.Scan(&dispute.DisputeID, &dispute.SellerID, &dispute.OrderID, &dispute.Status, &dispute.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dispute", err)
		}
		disputes = append(disputes, dispute)
	}
	return disputes, rows.Err()
}
