package ebarimt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed ReceiptRepository.
func NewRepoPG(pool *pgxpool.Pool) ReceiptRepository {
	return &repoPG{pool: pool}
}

const receiptCols = `id, invoice_id, status, total_amount, merchant_tin, pos_no, branch_no,
	district_code, requested_by, ddtd, printed_at, printed_at_text, error_message,
	issue_raw_request, issue_raw_response, cancel_raw_request, cancel_raw_response,
	sent_at, confirmed_at, created_at, updated_at`

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var r Receipt
	err := row.Scan(
		&r.ID, &r.InvoiceID, &r.Status, &r.TotalAmount, &r.MerchantTin, &r.PosNo, &r.BranchNo,
		&r.DistrictCode, &r.RequestedBy, &r.DDTD, &r.PrintedAt, &r.PrintedAtText, &r.ErrorMessage,
		&r.IssueRawRequest, &r.IssueRawResponse, &r.CancelRawRequest, &r.CancelRawResponse,
		&r.SentAt, &r.ConfirmedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Upsert inserts a PENDING receipt row for the invoice, or resets the
// existing row back to PENDING when a prior attempt is being retried.
// The invoice_id unique constraint is what makes issuance idempotent.
func (r *repoPG) Upsert(ctx context.Context, rec *Receipt) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO ebarimt_receipts
			(id, invoice_id, status, total_amount, merchant_tin, pos_no, branch_no, district_code, requested_by, sent_at)
		VALUES ($1, $2, 'PENDING', $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (invoice_id) DO UPDATE SET
			status = 'PENDING',
			total_amount = EXCLUDED.total_amount,
			merchant_tin = EXCLUDED.merchant_tin,
			pos_no = EXCLUDED.pos_no,
			branch_no = EXCLUDED.branch_no,
			district_code = EXCLUDED.district_code,
			requested_by = EXCLUDED.requested_by,
			error_message = NULL,
			sent_at = NOW(),
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.InvoiceID, rec.TotalAmount, rec.MerchantTin, rec.PosNo, rec.BranchNo, rec.DistrictCode, rec.RequestedBy,
	).Scan(&rec.ID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

func (r *repoPG) GetByInvoiceID(ctx context.Context, invoiceID int64) (*Receipt, error) {
	query := `SELECT ` + receiptCols + ` FROM ebarimt_receipts WHERE invoice_id = $1`
	rec, err := scanReceipt(r.pool.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("receipt for invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return rec, nil
}

func (r *repoPG) MarkSuccess(ctx context.Context, invoiceID int64, ddtd string, printedAt time.Time, printedAtText string, rawRequest, rawResponse []byte) (bool, error) {
	query := `
		UPDATE ebarimt_receipts SET
			status = 'SUCCESS',
			ddtd = $2,
			printed_at = $3,
			printed_at_text = $4,
			issue_raw_request = $5,
			issue_raw_response = $6,
			error_message = NULL,
			confirmed_at = NOW(),
			updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'PENDING'`
	tag, err := r.pool.Exec(ctx, query, invoiceID, ddtd, printedAt, printedAtText, rawRequest, rawResponse)
	if err != nil {
		return false, fmt.Errorf("mark receipt success: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) MarkFailed(ctx context.Context, invoiceID int64, errorMessage string, rawRequest, rawResponse []byte) (bool, error) {
	query := `
		UPDATE ebarimt_receipts SET
			status = 'FAILED',
			error_message = $2,
			issue_raw_request = $3,
			issue_raw_response = $4,
			updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'PENDING'`
	tag, err := r.pool.Exec(ctx, query, invoiceID, errorMessage, rawRequest, rawResponse)
	if err != nil {
		return false, fmt.Errorf("mark receipt failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) MarkCanceled(ctx context.Context, invoiceID int64, rawRequest, rawResponse []byte) error {
	query := `
		UPDATE ebarimt_receipts SET
			status = 'CANCELED',
			cancel_raw_request = $2,
			cancel_raw_response = $3,
			updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'SUCCESS'`
	tag, err := r.pool.Exec(ctx, query, invoiceID, rawRequest, rawResponse)
	if err != nil {
		return fmt.Errorf("mark receipt canceled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt for invoice %d is not in SUCCESS state", invoiceID)
	}
	return nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Receipt, int, error) {
	var (
		where string
		args  []interface{}
	)
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ebarimt_receipts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count receipts: %w", err)
	}

	query := `SELECT ` + receiptCols + ` FROM ebarimt_receipts` + where +
		fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rec)
	}
	return receipts, total, rows.Err()
}
