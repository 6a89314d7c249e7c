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
package clearhold

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/clearhold/clearhold/database"
	"github.com/clearhold/clearhold/database/mocks"
	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

func newTestDataSource() (database.IDataSource, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, nil, err
	}
	return &database.Datasource{Conn: db}, mock, nil
}

func heldOrder() *model.Order {
	return &model.Order{
		OrderID:      "ord_1",
		SellerID:     "seller_1",
		BuyerID:      "buyer_1",
		TotalAmount:  10000,
		Currency:     "USD",
		EscrowStatus: model.EscrowHeld,
	}
}

func TestAppendEntryRejectsZeroAmount(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	_, err := engine.AppendEntry(context.Background(), &model.LedgerEntry{
		UserUid: "seller_1", Amount: 0, Currency: "USD",
	})
	assert.Equal(t, apierror.ErrInvalidEntry, apierror.CodeOf(err))
	mockDS.AssertNotCalled(t, "AppendEntry", mock.Anything, mock.Anything)
}

func TestAppendEntryRejectsUnsupportedCurrency(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	_, err := engine.AppendEntry(context.Background(), &model.LedgerEntry{
		UserUid: "seller_1", Amount: 100, Currency: "XXX",
	})
	assert.Equal(t, apierror.ErrInvalidEntry, apierror.CodeOf(err))
}

func TestLockEscrowPostsLockedBuyerEntry(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	mockDS.On("EntryExistsByExternalID", mock.Anything, "lock_ord_1").Return(false, nil)
	mockDS.On("AppendEntries", mock.Anything, mock.MatchedBy(func(entries []*model.LedgerEntry) bool {
		return len(entries) == 1 &&
			entries[0].Type == model.EntryEscrowLock &&
			entries[0].UserUid == "buyer_1" &&
			entries[0].Amount == 10000 &&
			entries[0].Status == model.EntryStatusLocked &&
			entries[0].ExternalID == "lock_ord_1"
	})).Return(nil)
	mockDS.On("UpdateOrderEscrowStatus", mock.Anything, "ord_1", model.EscrowHeld).Return(nil)

	err := engine.LockEscrow(context.Background(), heldOrder())
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestLockEscrowIsIdempotent(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	mockDS.On("EntryExistsByExternalID", mock.Anything, "lock_ord_1").Return(true, nil)

	err := engine.LockEscrow(context.Background(), heldOrder())
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "AppendEntries", mock.Anything, mock.Anything)
}

func TestReleaseEscrowPairNetsToZero(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	mockDS.On("EntryExistsByExternalID", mock.Anything, "release_ord_1").Return(false, nil)
	mockDS.On("AppendEntries", mock.Anything, mock.MatchedBy(func(entries []*model.LedgerEntry) bool {
		if len(entries) != 2 {
			return false
		}
		debit, credit := entries[0], entries[1]
		return debit.Amount+credit.Amount == 0 &&
			debit.UserUid == "buyer_1" && debit.Status == model.EntryStatusLocked &&
			credit.UserUid == "seller_1" && credit.Status == model.EntryStatusAvailable &&
			debit.ExternalID == "release_ord_1"
	})).Return(nil)
	mockDS.On("UpdateOrderEscrowStatus", mock.Anything, "ord_1", model.EscrowReleased).Return(nil)

	err := engine.releaseEscrow(context.Background(), heldOrder())
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestReleaseEscrowIsIdempotent(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	mockDS.On("EntryExistsByExternalID", mock.Anything, "release_ord_1").Return(true, nil)

	err := engine.releaseEscrow(context.Background(), heldOrder())
	assert.NoError(t, err)
	mockDS.AssertNotCalled(t, "AppendEntries", mock.Anything, mock.Anything)
	mockDS.AssertNotCalled(t, "UpdateOrderEscrowStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundOrderEscrow(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	mockDS.On("GetOrder", mock.Anything, "ord_1").Return(heldOrder(), nil)
	mockDS.On("EntryExistsByExternalID", mock.Anything, "refund_ord_1").Return(false, nil)
	mockDS.On("AppendEntries", mock.Anything, mock.MatchedBy(func(entries []*model.LedgerEntry) bool {
		if len(entries) != 2 {
			return false
		}
		// Both sides stay on the buyer: locked out, available back.
		return entries[0].Type == model.EntryRefundDebit && entries[0].Amount == -10000 &&
			entries[1].Type == model.EntryRefundCredit && entries[1].Amount == 10000 &&
			entries[0].UserUid == "buyer_1" && entries[1].UserUid == "buyer_1"
	})).Return(nil)
	mockDS.On("UpdateOrderEscrowStatus", mock.Anything, "ord_1", model.EscrowRefunded).Return(nil)
	mockDS.On("UpdateOrderEligibilityStatus", mock.Anything, "ord_1", model.OrderRefunded).Return(nil)

	err := engine.RefundOrderEscrow(context.Background(), "ord_1")
	assert.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestRefundOrderEscrowRejectsReleasedFunds(t *testing.T) {
	mockPayoutConfig()
	mockDS := new(mocks.MockDataSource)
	engine := &Clearhold{datasource: mockDS}

	order := heldOrder()
	order.EscrowStatus = model.EscrowReleased
	mockDS.On("GetOrder", mock.Anything, "ord_1").Return(order, nil)

	err := engine.RefundOrderEscrow(context.Background(), "ord_1")
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	mockDS.AssertNotCalled(t, "AppendEntries", mock.Anything, mock.Anything)
}

func TestDatasourceGetAvailableBalance(t *testing.T) {
	ds, mock, err := newTestDataSource()
	assert.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0)")).
		WithArgs("seller_1", "USD", string(model.EntryStatusAvailable)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(51000))

	balance, err := ds.GetAvailableBalance(context.Background(), "seller_1", "USD")
	assert.NoError(t, err)
	assert.Equal(t, int64(51000), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasourceAppendEntriesIsTransactional(t *testing.T) {
	ds, mock, err := newTestDataSource()
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clearhold.ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO clearhold.ledger_entries").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = ds.AppendEntries(context.Background(), []*model.LedgerEntry{
		{UserUid: "buyer_1", Role: model.RoleBuyer, Type: model.EntryEscrowReleaseDebit,
			Amount: -10000, Currency: "USD", Status: model.EntryStatusLocked, RelatedOrderID: "ord_1"},
		{UserUid: "seller_1", Role: model.RoleSeller, Type: model.EntryEscrowReleaseCredit,
			Amount: 10000, Currency: "USD", Status: model.EntryStatusAvailable, RelatedOrderID: "ord_1"},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasourceAppendEntriesRollsBackOnFailure(t *testing.T) {
	ds, mock, err := newTestDataSource()
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clearhold.ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO clearhold.ledger_entries").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = ds.AppendEntries(context.Background(), []*model.LedgerEntry{
		{UserUid: "buyer_1", Role: model.RoleBuyer, Type: model.EntryEscrowReleaseDebit,
			Amount: -10000, Currency: "USD", Status: model.EntryStatusLocked},
		{UserUid: "seller_1", Role: model.RoleSeller, Type: model.EntryEscrowReleaseCredit,
			Amount: 10000, Currency: "USD", Status: model.EntryStatusAvailable},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasourceRecordPayoutMapsDuplicateToConflict(t *testing.T) {
	ds, mock, err := newTestDataSource()
	assert.NoError(t, err)

	mock.ExpectExec("INSERT INTO clearhold.payouts").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_payouts_order_active"})

	err = ds.RecordPayout(context.Background(), &model.Payout{
		PayoutID: "pay_1", OrderID: "ord_1", SellerID: "seller_1",
		Currency: "USD", Amount: 10000, NetAmount: 10000, Status: model.PayoutReserved,
	})
	assert.Equal(t, apierror.ErrConflict, apierror.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// memoryCache is a map-backed stand-in for the redis cache.
type memoryCache struct {
	profiles map[string]model.SellerProfile
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if p, ok := value.(*model.SellerProfile); ok {
		m.profiles[key] = *p
	}
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string, data interface{}) error {
	if p, ok := m.profiles[key]; ok {
		*data.(*model.SellerProfile) = p
	}
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	delete(m.profiles, key)
	return nil
}

func TestDatasourceSellerProfileServedFromCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	ds := &database.Datasource{Conn: db, Cache: &memoryCache{profiles: map[string]model.SellerProfile{}}}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT seller_id, risk_status, seller_level")).
		WithArgs("seller_1").
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "risk_status", "seller_level", "processor_account_id", "created_at"}).
			AddRow("seller_1", string(model.RiskActive), string(model.TierB), "acct_1", time.Now()))

	first, err := ds.GetSellerProfile(context.Background(), "seller_1")
	assert.NoError(t, err)
	assert.Equal(t, "acct_1", first.ProcessorAccountID)

	// The second read is served from the cache; sqlmock would fail the
	// test on any query without a matching expectation.
	second, err := ds.GetSellerProfile(context.Background(), "seller_1")
	assert.NoError(t, err)
	assert.Equal(t, first.SellerID, second.SellerID)
	assert.Equal(t, first.ProcessorAccountID, second.ProcessorAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasourceEntryExistsByExternalID(t *testing.T) {
	ds, mock, err := newTestDataSource()
	assert.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("lock_ord_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := ds.EntryExistsByExternalID(context.Background(), "lock_ord_1")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
