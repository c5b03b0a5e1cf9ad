package invoice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const invoiceCols = `id, patient_name, buyer_type, customer_tin,
	total_amount, discount_amount, final_amount, status, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientName, &inv.BuyerType, &inv.CustomerTin,
		&inv.TotalAmount, &inv.DiscountAmount, &inv.FinalAmount, &inv.Status,
		&inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO invoices (patient_name, buyer_type, customer_tin,
			total_amount, discount_amount, final_amount, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at, updated_at`,
		inv.PatientName, inv.BuyerType, inv.CustomerTin,
		inv.TotalAmount, inv.DiscountAmount, inv.FinalAmount, inv.Status).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invoices SET patient_name=$2, buyer_type=$3, customer_tin=$4,
			total_amount=$5, discount_amount=$6, final_amount=$7, status=$8,
			updated_at=NOW()
		WHERE id = $1`,
		inv.ID, inv.PatientName, inv.BuyerType, inv.CustomerTin,
		inv.TotalAmount, inv.DiscountAmount, inv.FinalAmount, inv.Status)
	return err
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invoiceCols, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoice_payments (id, invoice_id, method, amount, paid_at)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.InvoiceID, p.Method, p.Amount, p.PaidAt)
	return err
}

func (r *repoPG) GetPayments(ctx context.Context, invoiceID int64) ([]*Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, method, amount, paid_at
		FROM invoice_payments WHERE invoice_id = $1 ORDER BY paid_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Method, &p.Amount, &p.PaidAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *repoPG) PaidTotal(ctx context.Context, invoiceID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM invoice_payments WHERE invoice_id = $1`,
		invoiceID).Scan(&total)
	return total, err
}
