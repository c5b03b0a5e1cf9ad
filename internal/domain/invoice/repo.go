package invoice

import "context"

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id int64) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error)
	// Payments
	AddPayment(ctx context.Context, p *Payment) error
	GetPayments(ctx context.Context, invoiceID int64) ([]*Payment, error)
	PaidTotal(ctx context.Context, invoiceID int64) (int64, error)
}
