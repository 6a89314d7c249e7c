package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clearhold/clearhold/internal/apierror"
	"github.com/clearhold/clearhold/model"
)

const operationColumns = `operation_id, processor_ref, kind, amount, currency, status,
		COALESCE(destination_account, ''), COALESCE(order_id, ''), COALESCE(payout_id, ''), created_at, updated_at`

func scanOperation(scan func(dest ...interface{}) error) (*model.PaymentOperation, error) {
	op := &model.PaymentOperation{}
	err := scan(&op.OperationID, &op.ProcessorRef, &op.Kind, &op.Amount, &op.Currency, &op.Status,
		&op.DestinationAccount, &op.OrderID, &op.PayoutID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (d Datasource) RecordOperation(ctx context.Context, op *model.PaymentOperation) error {
	if op.OperationID == "" {
		op.OperationID = model.GenerateUUIDWithSuffix("op")
	}
	now := time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now

	// ON CONFLICT keeps a replayed executor phase from duplicating the
	// mirror row for an operation the processor already reported.
	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO clearhold.payment_operations(operation_id,processor_ref,kind,amount,currency,status,destination_account,order_id,payout_id,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10,$11)
		 ON CONFLICT (processor_ref) DO NOTHING`,
		op.OperationID, op.ProcessorRef, op.Kind, op.Amount, op.Currency, op.Status, op.DestinationAccount, op.OrderID, op.PayoutID, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payment operation", err)
	}
	return nil
}

func (d Datasource) GetOperationByProcessorRef(ctx context.Context, ref string) (*model.PaymentOperation, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM clearhold.payment_operations
		WHERE processor_ref = $1
	`, ref)

	op, err := scanOperation(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Operation with processor ref '%s' not found", ref), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment operation", err)
	}
	return op, nil
}

func (d Datasource) UpdateOperationStatus(ctx context.Context, operationID string, status model.OperationStatus) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.payment_operations SET status = $2, updated_at = NOW() WHERE operation_id = $1
	`, operationID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update operation status", err)
	}
	return nil
}

// OverwriteOperation replaces the drift-prone fields of a local operation
// mirror with the processor's values. Used only by reconciliation healing.
func (d Datasource) OverwriteOperation(ctx context.Context, op *model.PaymentOperation) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE clearhold.payment_operations
		SET amount = $2, currency = $3, status = $4, destination_account = NULLIF($5, ''), updated_at = NOW()
		WHERE operation_id = $1
	`, op.OperationID, op.Amount, op.Currency, op.Status, op.DestinationAccount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to overwrite operation", err)
	}
	return nil
}

func (d Datasource) GetOperationsSince(ctx context.Context, kind model.OperationKind, since time.Time, limit int) ([]*model.PaymentOperation, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM clearhold.payment_operations
		WHERE kind = $1 AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, kind, since, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment operations", err)
	}
	defer rows.Close()

	ops := []*model.PaymentOperation{}
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment operation", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
