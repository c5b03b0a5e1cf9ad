package invoice

import (
	"context"
	"fmt"
	"time"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validBuyerTypes = map[string]bool{BuyerB2C: true, BuyerB2B: true}

func (s *Service) Create(ctx context.Context, inv *Invoice) error {
	if inv.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if inv.TotalAmount <= 0 {
		return fmt.Errorf("total_amount must be positive")
	}
	if inv.DiscountAmount < 0 || inv.DiscountAmount > inv.TotalAmount {
		return fmt.Errorf("discount_amount out of range")
	}
	if inv.BuyerType == "" {
		inv.BuyerType = BuyerB2C
	}
	if !validBuyerTypes[inv.BuyerType] {
		return fmt.Errorf("invalid buyer_type: %s", inv.BuyerType)
	}
	if inv.BuyerType == BuyerB2B && (inv.CustomerTin == nil || *inv.CustomerTin == "") {
		return fmt.Errorf("customer_tin is required for B2B invoices")
	}
	inv.FinalAmount = inv.TotalAmount - inv.DiscountAmount
	if inv.Status == "" {
		inv.Status = StatusOpen
	}
	return s.repo.Create(ctx, inv)
}

func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// RecordPayment adds a payment and flips the invoice to PAID once the
// recorded payments cover the final amount.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) error {
	inv, err := s.repo.GetByID(ctx, p.InvoiceID)
	if err != nil {
		return fmt.Errorf("invoice %d not found: %w", p.InvoiceID, err)
	}
	if inv.Status == StatusVoided {
		return fmt.Errorf("invoice %d is voided", p.InvoiceID)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("payment amount must be positive")
	}
	if p.Method == "" {
		p.Method = "CASH"
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now()
	}
	if err := s.repo.AddPayment(ctx, p); err != nil {
		return err
	}

	paid, err := s.repo.PaidTotal(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	if paid >= inv.FinalAmount && inv.Status != StatusPaid {
		inv.Status = StatusPaid
		return s.repo.Update(ctx, inv)
	}
	return nil
}

func (s *Service) GetPayments(ctx context.Context, invoiceID int64) ([]*Payment, error) {
	return s.repo.GetPayments(ctx, invoiceID)
}

// PaidTotal returns the sum of payments recorded against an invoice.
func (s *Service) PaidTotal(ctx context.Context, invoiceID int64) (int64, error) {
	return s.repo.PaidTotal(ctx, invoiceID)
}
