package clearhold

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// CheckOrderEligibility is the order release gate. Checks run in order and
// the first failure wins: a suspended seller blocks outright, an order that
// is not completed and delivered or not yet matured stays pending.
func (l *Clearhold) CheckOrderEligibility(order *model.Order, profile *model.SellerProfile) model.OrderEligibilityStatus {
	if profile.RiskStatus != model.RiskActive {
		return model.OrderIneligibleSuspended
	}
	if !order.Delivered() {
		return model.OrderPendingMaturity
	}
	if order.ReleaseExpectedAt.IsZero() || order.ReleaseExpectedAt.After(l.now()) {
		return model.OrderPendingMaturity
	}
	return model.OrderEligibleForPayout
}

// CheckSellerPayoutEligibility is the seller-level payout gate: an ordered
// sequence of hard stops, each short-circuiting with a deterministic state
// and reason codes. Pure given its inputs; callers decide what to do with
// the result.
func (l *Clearhold) CheckSellerPayoutEligibility(ctx context.Context, sellerUid, currency string) (*model.SellerEligibility, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	now := l.now()
	result := &model.SellerEligibility{
		SellerID:        sellerUid,
		BlockingReasons: []string{},
		EvaluatedAt:     now,
		Financials: model.EligibilityFinancials{
			Currency:     currency,
			MinThreshold: conf.MinThreshold(currency),
		},
	}

	blocked := func(state model.EligibilityState, reasons ...string) (*model.SellerEligibility, error) {
		result.State = state
		result.PayoutAllowed = false
		result.BlockingReasons = append(result.BlockingReasons, reasons...)
		return result, nil
	}

	// 1. Global kill switch.
	if !conf.Payouts.Enabled {
		return blocked(model.IneligibleDisabled, model.ReasonPayoutsDisabled)
	}

	// 2. Seller profile must exist. Only a confirmed missing profile blocks;
	// a failed lookup is an error, not an eligibility verdict.
	profile, err := l.datasource.GetSellerProfile(ctx, sellerUid)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrNotFound {
			return blocked(model.IneligibleNoProfile, model.ReasonProfileNotFound)
		}
		return nil, err
	}
	if profile == nil {
		return blocked(model.IneligibleNoProfile, model.ReasonProfileNotFound)
	}

	// 3. Risk status.
	if profile.RiskStatus != model.RiskActive {
		return blocked(model.IneligibleSuspended, model.ReasonSellerSuspended)
	}

	// 4. Dispute lock.
	disputes, err := l.datasource.GetOpenDisputes(ctx, sellerUid)
	if err != nil {
		return nil, err
	}
	if len(disputes) > 0 {
		return blocked(model.IneligibleDisputeLock, model.ReasonOpenDispute)
	}

	// 5. Processor payout capability. Connection errors are treated the
	// same as a disabled capability: we will not pay out blind.
	status, err := l.processor.RetrieveAccountStatus(ctx, profile.ProcessorAccountID)
	if err != nil {
		logrus.WithField("seller_id", sellerUid).Warnf("processor account status unavailable: %v", err)
		return blocked(model.IneligibleNoCapabilities, "processor_unreachable")
	}
	if !status.PayoutsEnabled {
		reasons := status.MissingCapabilities
		if len(reasons) == 0 {
			reasons = []string{"payouts_capability_disabled"}
		}
		return blocked(model.IneligibleNoCapabilities, reasons...)
	}

	// 6. Failure cooldown.
	cooldown := conf.CooldownDuration()
	lastFailed, err := l.datasource.GetLastFailedPayout(ctx, sellerUid, currency, now.Add(-cooldown))
	if err != nil {
		return nil, err
	}
	if lastFailed != nil {
		result.NextPossiblePayoutAt = lastFailed.CompletedAt.Add(cooldown)
		return blocked(model.IneligibleCooldown, model.ReasonRecentFailure)
	}

	// 7–9. Balance checks.
	balance, err := l.datasource.GetAvailableBalance(ctx, sellerUid, currency)
	if err != nil {
		return nil, err
	}
	result.Financials.GrossAvailableBalance = balance

	if balance < 0 {
		// Never payable; the net eligible amount is forced to zero.
		result.Financials.NetEligibleAmount = 0
		return blocked(model.IneligibleNegativeBalance, model.ReasonNegativeBalance)
	}
	if balance == 0 {
		return blocked(model.IneligibleNoFunds, model.ReasonNoFunds)
	}
	if balance < result.Financials.MinThreshold {
		return blocked(model.IneligibleBalanceLow, model.ReasonBelowMinimum)
	}

	// 10. Eligible.
	result.State = model.Eligible
	result.PayoutAllowed = true
	result.NextPossiblePayoutAt = now
	result.Financials.NetEligibleAmount = netAfterFee(balance, conf.Payouts.FeeRate)
	return result, nil
}

// netAfterFee applies the platform fee rate to a gross minor-unit amount.
// The rate is pluggable and currently configured as zero.
func netAfterFee(gross int64, feeRate float64) int64 {
	if feeRate <= 0 {
		return gross
	}
	fee := decimal.NewFromInt(gross).Mul(decimal.NewFromFloat(feeRate)).Round(0)
	return gross - fee.IntPart()
}

// feeFor returns the platform fee on a gross minor-unit amount.
func feeFor(gross int64, feeRate float64) int64 {
	return gross - netAfterFee(gross, feeRate)
}
