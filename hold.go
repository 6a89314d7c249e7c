package clearhold

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// CalculateHoldReleaseDate computes when an order's escrow matures. The
// anchor is the later of delivery and settlement; the window is the seller
// tier's hold, floored at the high-value window for orders at or above the
// high-value threshold.
func CalculateHoldReleaseDate(order *model.Order, tier model.SellerTier, conf *config.Configuration) (anchor, release time.Time) {
	anchor = order.DeliveredAt
	if order.ProcessedAt.After(anchor) {
		anchor = order.ProcessedAt
	}

	var holdHours int
	switch tier {
	case model.TierA:
		holdHours = conf.Payouts.TierAHoldHours
	case model.TierB:
		holdHours = conf.Payouts.TierBHoldHours
	default:
		holdHours = conf.Payouts.TierCHoldHours
	}

	release = anchor.Add(time.Duration(holdHours) * time.Hour)

	if order.TotalAmount >= conf.Payouts.HighValueThreshold {
		floor := anchor.Add(time.Duration(conf.Payouts.HighValueHoldHours) * time.Hour)
		if floor.After(release) {
			release = floor
		}
	}
	return anchor, release
}

// SetInitialHoldDates stores the hold anchor and expected release date and
// moves the order into PENDING_MATURITY. Runs once, when the order
// transitions to delivered; a second call is a no-op.
func (l *Clearhold) SetInitialHoldDates(ctx context.Context, orderID string) (*model.Order, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	order, err := l.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Delivered() {
		return nil, apierror.NewAPIError(apierror.ErrOrderNotDelivered, "order is not completed and delivered", nil)
	}
	if !order.HoldStartAt.IsZero() {
		return order, nil
	}

	profile, err := l.datasource.GetSellerProfile(ctx, order.SellerID)
	if err != nil {
		return nil, err
	}

	anchor, release := CalculateHoldReleaseDate(order, profile.Tier, conf)
	if err := l.datasource.UpdateOrderHoldDates(ctx, order.OrderID, anchor, release, model.OrderPendingMaturity); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":            order.OrderID,
		"seller_tier":         profile.Tier,
		"hold_start_at":       anchor,
		"release_expected_at": release,
	}).Info("initial hold dates set")

	order.HoldStartAt = anchor
	order.ReleaseExpectedAt = release
	order.EligibilityStatus = model.OrderPendingMaturity
	return order, nil
}

// PromoteMaturedOrders sweeps PENDING_MATURITY orders whose release date has
// passed, runs the order release gate on each, and releases escrow for the
// ones that pass. Orders failing the gate stay where they are and are picked
// up by a later sweep.
func (l *Clearhold) PromoteMaturedOrders(ctx context.Context, batchSize int) (promoted int, err error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	orders, err := l.datasource.GetMaturedOrders(ctx, l.now(), batchSize)
	if err != nil {
		return 0, err
	}

	for _, order := range orders {
		profile, err := l.datasource.GetSellerProfile(ctx, order.SellerID)
		if err != nil {
			logrus.WithField("order_id", order.OrderID).Errorf("seller profile lookup failed: %v", err)
			continue
		}

		status := l.CheckOrderEligibility(order, profile)
		if status != model.OrderEligibleForPayout {
			continue
		}

		if err := l.releaseEscrow(ctx, order); err != nil {
			logrus.WithField("order_id", order.OrderID).Errorf("escrow release failed: %v", err)
			continue
		}
		if err := l.datasource.UpdateOrderEligibilityStatus(ctx, order.OrderID, model.OrderEligibleForPayout); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}
