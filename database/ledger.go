package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

// AppendEntry posts a single immutable ledger entry. The entry id and
// created-at are assigned here; callers supply everything else.
func (d Datasource) AppendEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("ent")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO clearhold.ledger_entries(entry_id,user_uid,role,type,amount,currency,status,related_order_id,external_id,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11)`,
		entry.EntryID, entry.UserUid, entry.Role, entry.Type, entry.Amount, entry.Currency, entry.Status, entry.RelatedOrderID, entry.ExternalID, entry.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append ledger entry", err)
	}

	return entry, nil
}

// AppendEntries posts a group of entries for one business event in a single
// transaction, so a partial pair can never land.
func (d Datasource) AppendEntries(ctx context.Context, entries []*model.LedgerEntry) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, entry := range entries {
		if entry.EntryID == "" {
			entry.EntryID = model.GenerateUUIDWithSuffix("ent")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		metaDataJSON, err := json.Marshal(entry.MetaData)
		if err != nil {
			return errors.Wrap(err, "marshal entry metadata")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO clearhold.ledger_entries(entry_id,user_uid,role,type,amount,currency,status,related_order_id,external_id,created_at,meta_data) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11)`,
			entry.EntryID, entry.UserUid, entry.Role, entry.Type, entry.Amount, entry.Currency, entry.Status, entry.RelatedOrderID, entry.ExternalID, entry.CreatedAt, metaDataJSON,
		)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to append ledger entries", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit ledger entries", err)
	}
	return nil
}

// GetAvailableBalance sums the available-status entries for one user and
// currency. Callers that intend to debit must hold the payout lock so the
// read and the subsequent write cannot interleave with another debit.
func (d Datasource) GetAvailableBalance(ctx context.Context, userUid, currency string) (int64, error) {
	var balance sql.NullInt64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM clearhold.ledger_entries
		WHERE user_uid = $1 AND currency = $2 AND status = $3
	`, userUid, currency, model.EntryStatusAvailable).Scan(&balance)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute available balance", err)
	}
	return balance.Int64, nil
}

func (d Datasource) GetEntriesByOrder(ctx context.Context, orderID string) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, user_uid, role, type, amount, currency, status, related_order_id, COALESCE(external_id, ''), created_at, meta_data
		FROM clearhold.ledger_entries
		WHERE related_order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []*model.LedgerEntry{}
	for rows.Next() {
		entry := &model.LedgerEntry{}
		var metaDataJSON []byte
		err = rows.Scan(&entry.EntryID, &entry.UserUid, &entry.Role, &entry.Type, &entry.Amount, &entry.Currency, &entry.Status, &entry.RelatedOrderID, &entry.ExternalID, &entry.CreatedAt, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
				return nil, errors.Wrap(err, "unmarshal entry metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (d Datasource) EntryExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clearhold.ledger_entries WHERE external_id = $1
		)
	`, externalID).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to check entry by external id '%s'", externalID), err)
	}
	return exists, nil
}
