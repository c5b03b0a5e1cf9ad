package invoice

import (
	"time"

	"github.com/google/uuid"
)

// Buyer types accepted on an invoice. B2B invoices carry the customer's TIN
// and produce organization receipts downstream.
const (
	BuyerB2C = "B2C"
	BuyerB2B = "B2B"
)

// Invoice statuses.
const (
	StatusOpen     = "OPEN"
	StatusPaid     = "PAID"
	StatusVoided   = "VOIDED"
)

// Invoice maps to the invoices table. Amounts are integral MNT.
type Invoice struct {
	ID             int64     `db:"id" json:"id"`
	PatientName    string    `db:"patient_name" json:"patient_name"`
	BuyerType      string    `db:"buyer_type" json:"buyer_type"`
	CustomerTin    *string   `db:"customer_tin" json:"customer_tin,omitempty"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	DiscountAmount int64     `db:"discount_amount" json:"discount_amount"`
	FinalAmount    int64     `db:"final_amount" json:"final_amount"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Payment maps to the invoice_payments table.
type Payment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	InvoiceID int64     `db:"invoice_id" json:"invoice_id"`
	Method    string    `db:"method" json:"method"`
	Amount    int64     `db:"amount" json:"amount"`
	PaidAt    time.Time `db:"paid_at" json:"paid_at"`
}
