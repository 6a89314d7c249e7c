package clearhold

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// validateEntry enforces the ledger's only local rejections: a zero amount
// or an unsupported currency.
func validateEntry(entry *model.LedgerEntry, conf *config.Configuration) error {
	if entry.Amount == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidEntry, "ledger entry amount cannot be zero", nil)
	}
	if !conf.CurrencySupported(entry.Currency) {
		return apierror.NewAPIError(apierror.ErrInvalidEntry, fmt.Sprintf("currency %s is not supported", entry.Currency), nil)
	}
	return nil
}

// AppendEntry validates and posts a single ledger entry. Posted entries are
// never mutated or deleted; corrections are offsetting entries.
func (l *Clearhold) AppendEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if err := validateEntry(entry, conf); err != nil {
		return nil, err
	}
	return l.datasource.AppendEntry(ctx, entry)
}

// GetAvailableBalance sums available-status entries for a user and currency.
func (l *Clearhold) GetAvailableBalance(ctx context.Context, userUid, currency string) (int64, error) {
	return l.datasource.GetAvailableBalance(ctx, userUid, currency)
}

// LockEscrow posts the escrow_lock pair for a settled order: the buyer's
// payment enters the ledger locked against the order. This is a genuine
// external inflow, the one place total ledger mass grows.
func (l *Clearhold) LockEscrow(ctx context.Context, order *model.Order) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	entries := []*model.LedgerEntry{
		{
			UserUid:        order.BuyerID,
			Role:           model.RoleBuyer,
			Type:           model.EntryEscrowLock,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			Status:         model.EntryStatusLocked,
			RelatedOrderID: order.OrderID,
			ExternalID:     fmt.Sprintf("lock_%s", order.OrderID),
		},
	}
	for _, e := range entries {
		if err := validateEntry(e, conf); err != nil {
			return err
		}
	}

	exists, err := l.datasource.EntryExistsByExternalID(ctx, entries[0].ExternalID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := l.datasource.AppendEntries(ctx, entries); err != nil {
		return err
	}
	return l.datasource.UpdateOrderEscrowStatus(ctx, order.OrderID, model.EscrowHeld)
}

// releaseEscrow moves a matured order's funds from the buyer-side locked
// bucket to the seller's available bucket. The debit/credit pair shares the
// order id and nets to zero ledger mass.
func (l *Clearhold) releaseEscrow(ctx context.Context, order *model.Order) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	externalID := fmt.Sprintf("release_%s", order.OrderID)
	exists, err := l.datasource.EntryExistsByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if exists {
		logrus.WithField("order_id", order.OrderID).Info("escrow already released, skipping")
		return nil
	}

	entries := []*model.LedgerEntry{
		{
			UserUid:        order.BuyerID,
			Role:           model.RoleBuyer,
			Type:           model.EntryEscrowReleaseDebit,
			Amount:         -order.TotalAmount,
			Currency:       order.Currency,
			Status:         model.EntryStatusLocked,
			RelatedOrderID: order.OrderID,
			ExternalID:     externalID,
		},
		{
			UserUid:        order.SellerID,
			Role:           model.RoleSeller,
			Type:           model.EntryEscrowReleaseCredit,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			Status:         model.EntryStatusAvailable,
			RelatedOrderID: order.OrderID,
		},
	}
	for _, e := range entries {
		if err := validateEntry(e, conf); err != nil {
			return err
		}
	}

	if err := l.datasource.AppendEntries(ctx, entries); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":  order.OrderID,
		"seller_id": order.SellerID,
		"amount":    order.TotalAmount,
		"currency":  order.Currency,
	}).Info("escrow released to seller available balance")

	return l.datasource.UpdateOrderEscrowStatus(ctx, order.OrderID, model.EscrowReleased)
}

// RefundOrderEscrow reverses a held order's escrow back to the buyer with
// offsetting refund entries. Released funds are out of reach of this path.
func (l *Clearhold) RefundOrderEscrow(ctx context.Context, orderID string) error {
	order, err := l.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.EscrowStatus != model.EscrowHeld {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("order %s escrow is %s, only held escrow can be refunded", orderID, order.EscrowStatus), nil)
	}

	externalID := fmt.Sprintf("refund_%s", order.OrderID)
	exists, err := l.datasource.EntryExistsByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	entries := []*model.LedgerEntry{
		{
			UserUid:        order.BuyerID,
			Role:           model.RoleBuyer,
			Type:           model.EntryRefundDebit,
			Amount:         -order.TotalAmount,
			Currency:       order.Currency,
			Status:         model.EntryStatusLocked,
			RelatedOrderID: order.OrderID,
			ExternalID:     externalID,
		},
		{
			UserUid:        order.BuyerID,
			Role:           model.RoleBuyer,
			Type:           model.EntryRefundCredit,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			Status:         model.EntryStatusAvailable,
			RelatedOrderID: order.OrderID,
		},
	}

	if err := l.datasource.AppendEntries(ctx, entries); err != nil {
		return err
	}
	if err := l.datasource.UpdateOrderEscrowStatus(ctx, order.OrderID, model.EscrowRefunded); err != nil {
		return err
	}
	return l.datasource.UpdateOrderEligibilityStatus(ctx, order.OrderID, model.OrderRefunded)
}

// GetOrder returns one order by id.
func (l *Clearhold) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return l.datasource.GetOrder(ctx, orderID)
}

// GetOrderEntries returns the full ledger trail for one order.
func (l *Clearhold) GetOrderEntries(ctx context.Context, orderID string) ([]*model.LedgerEntry, error) {
	return l.datasource.GetEntriesByOrder(ctx, orderID)
}
