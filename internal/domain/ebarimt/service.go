package ebarimt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shurenclinic/clinic-api/internal/platform/posapi"
)

// POSClient is the slice of the POSAPI wire client the lifecycle service
// uses. *posapi.Client satisfies it.
type POSClient interface {
	IssueReceipt(ctx context.Context, req *posapi.ReceiptRequest) (map[string]interface{}, error)
	CancelReceipt(ctx context.Context, id, date string) (map[string]interface{}, error)
	Info(ctx context.Context) (map[string]interface{}, error)
	SendData(ctx context.Context) (map[string]interface{}, error)
	BankAccounts(ctx context.Context, tin string) (map[string]interface{}, error)
}

// PreconditionError marks a request rejected before any remote call was
// made: missing invoice, unpaid balance, bad TIN, incomplete merchant
// configuration, or a receipt in the wrong state for the operation.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

// IsPrecondition reports whether err is a precondition rejection.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IssueResult is what an issuance attempt produced. Remote failures are a
// result, not an error: the receipt row records the failure and the caller
// may retry. Receipt carries the full unscrubbed response on success so the
// client can print the lottery number and QR code exactly once.
type IssueResult struct {
	Success      bool                   `json:"success"`
	DDTD         string                 `json:"ddtd,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Receipt      map[string]interface{} `json:"receipt,omitempty"`
}

// Service drives the fiscal receipt lifecycle against POSAPI.
type Service struct {
	receipts ReceiptRepository
	invoices InvoiceReader
	client   POSClient
	merchant MerchantConfig
	skip     bool
	logger   zerolog.Logger
}

func NewService(receipts ReceiptRepository, invoices InvoiceReader, client POSClient, merchant MerchantConfig, skip bool, logger zerolog.Logger) *Service {
	return &Service{
		receipts: receipts,
		invoices: invoices,
		client:   client,
		merchant: merchant,
		skip:     skip,
		logger:   logger.With().Str("component", "ebarimt").Logger(),
	}
}

// Issue submits a fiscal receipt for a fully paid invoice on behalf of
// userID, the authenticated staff member requesting it. Preconditions are
// checked before any row is written; once they pass, a PENDING row is
// upserted and the remote call resolves it to SUCCESS or FAILED. Calling
// Issue again for the same invoice retries in place rather than creating a
// second receipt.
func (s *Service) Issue(ctx context.Context, invoiceID int64, userID string) (*IssueResult, error) {
	snap, err := s.invoices.Snapshot(ctx, invoiceID)
	if err != nil {
		return nil, &PreconditionError{Reason: fmt.Sprintf("invoice %d not found", invoiceID)}
	}
	if snap.PaidTotal < snap.FinalAmount {
		return nil, &PreconditionError{Reason: fmt.Sprintf("invoice %d is not fully paid: %d of %d", invoiceID, snap.PaidTotal, snap.FinalAmount)}
	}
	if snap.BuyerType == "B2B" {
		if snap.CustomerTin == nil || !IsValidTIN(*snap.CustomerTin) {
			return nil, &PreconditionError{Reason: fmt.Sprintf("invoice %d requires a valid customer TIN for a B2B receipt", invoiceID)}
		}
	}
	if !s.merchant.Complete() {
		return nil, &PreconditionError{Reason: "merchant configuration is incomplete"}
	}
	if existing, err := s.receipts.GetByInvoiceID(ctx, invoiceID); err == nil && existing.Status == StatusCanceled {
		return nil, &PreconditionError{Reason: fmt.Sprintf("receipt for invoice %d was canceled and cannot be re-issued", invoiceID)}
	}

	rec := &Receipt{
		InvoiceID:    invoiceID,
		TotalAmount:  snap.FinalAmount,
		MerchantTin:  s.merchant.MerchantTin,
		PosNo:        s.merchant.PosNo,
		BranchNo:     s.merchant.BranchNo,
		DistrictCode: s.merchant.DistrictCode,
	}
	if userID != "" {
		rec.RequestedBy = &userID
	}
	if err := s.receipts.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	now := time.Now()
	if s.skip {
		return s.issueStub(ctx, invoiceID, userID, now)
	}

	req := BuildReceiptRequest(snap, s.merchant, now)
	rawReq, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt request: %w", err)
	}

	resp, err := s.client.IssueReceipt(ctx, req)
	if err != nil {
		return s.issueFailed(ctx, invoiceID, userID, err.Error(), rawReq, ScrubResponse(responseOf(err)))
	}
	if ok, msg := interpretResponse(resp); !ok {
		return s.issueFailed(ctx, invoiceID, userID, msg, rawReq, ScrubResponse(resp))
	}

	ddtd, ok := receiptID(resp)
	if !ok {
		return s.issueFailed(ctx, invoiceID, userID, "POSAPI response is missing a receipt id", rawReq, ScrubResponse(resp))
	}
	if !IsValidDDTD(ddtd) {
		s.logger.Warn().Int64("invoice_id", invoiceID).Str("ddtd", ddtd).Msg("receipt id is not 33 digits; storing as returned")
	}

	printedAt, printedAtText := normalizePrintedDate(responseDate(resp), now)
	rawResp, err := json.Marshal(ScrubResponse(resp))
	if err != nil {
		return nil, fmt.Errorf("marshal receipt response: %w", err)
	}

	updated, err := s.receipts.MarkSuccess(ctx, invoiceID, ddtd, printedAt, printedAtText, rawReq, rawResp)
	if err != nil {
		return nil, err
	}
	if !updated {
		// A concurrent attempt resolved the row first. The remote side did
		// issue a receipt either way, so the caller still gets it.
		s.logger.Warn().Int64("invoice_id", invoiceID).Msg("receipt already resolved by a concurrent request")
	}

	s.logger.Info().Int64("invoice_id", invoiceID).Str("user_id", userID).Str("ddtd", ddtd).Msg("fiscal receipt issued")
	return &IssueResult{Success: true, DDTD: ddtd, Receipt: resp}, nil
}

// issueStub resolves the receipt locally without calling POSAPI. Used in
// development and staging where no tax gateway is reachable.
func (s *Service) issueStub(ctx context.Context, invoiceID int64, userID string, now time.Time) (*IssueResult, error) {
	ddtd := fmt.Sprintf("%033d", invoiceID)
	if _, err := s.receipts.MarkSuccess(ctx, invoiceID, ddtd, now, FormatPosapiDate(now), nil, nil); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("invoice_id", invoiceID).Str("user_id", userID).Msg("fiscal receipt stubbed (skip mode)")
	return &IssueResult{Success: true, DDTD: ddtd}, nil
}

func (s *Service) issueFailed(ctx context.Context, invoiceID int64, userID, msg string, rawReq []byte, scrubbed map[string]interface{}) (*IssueResult, error) {
	var rawResp []byte
	if scrubbed != nil {
		rawResp, _ = json.Marshal(scrubbed)
	}
	if _, err := s.receipts.MarkFailed(ctx, invoiceID, msg, rawReq, rawResp); err != nil {
		return nil, err
	}
	s.logger.Warn().Int64("invoice_id", invoiceID).Str("user_id", userID).Str("error", msg).Msg("fiscal receipt issuance failed")
	return &IssueResult{Success: false, ErrorMessage: msg}, nil
}

// Refund cancels a previously issued receipt on behalf of userID. Unlike
// Issue, a remote failure here is returned as an error: the stored receipt
// stays SUCCESS and nothing is recorded until the gateway confirms the
// cancellation.
func (s *Service) Refund(ctx context.Context, invoiceID int64, userID string) error {
	rec, err := s.receipts.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("no fiscal receipt for invoice %d", invoiceID)}
	}
	if rec.Status != StatusSuccess {
		return &PreconditionError{Reason: fmt.Sprintf("receipt for invoice %d is %s; only SUCCESS receipts can be canceled", invoiceID, rec.Status)}
	}
	if rec.DDTD == nil || !IsValidDDTD(*rec.DDTD) {
		return &PreconditionError{Reason: fmt.Sprintf("receipt for invoice %d has no valid receipt id", invoiceID)}
	}
	if rec.PrintedAtText == nil || *rec.PrintedAtText == "" {
		return &PreconditionError{Reason: fmt.Sprintf("receipt for invoice %d has no confirmation date", invoiceID)}
	}

	rawReq, _ := json.Marshal(map[string]string{"id": *rec.DDTD, "date": *rec.PrintedAtText})

	if s.skip {
		if err := s.receipts.MarkCanceled(ctx, invoiceID, rawReq, nil); err != nil {
			return err
		}
		s.logger.Info().Int64("invoice_id", invoiceID).Str("user_id", userID).Msg("fiscal receipt cancellation stubbed (skip mode)")
		return nil
	}

	resp, err := s.client.CancelReceipt(ctx, *rec.DDTD, *rec.PrintedAtText)
	if err != nil {
		return fmt.Errorf("cancel receipt for invoice %d: %w", invoiceID, err)
	}
	if ok, msg := interpretResponse(resp); !ok {
		return fmt.Errorf("cancel receipt for invoice %d: %s", invoiceID, msg)
	}

	var rawResp []byte
	if scrubbed := ScrubResponse(resp); scrubbed != nil {
		rawResp, _ = json.Marshal(scrubbed)
	}
	if err := s.receipts.MarkCanceled(ctx, invoiceID, rawReq, rawResp); err != nil {
		return err
	}
	s.logger.Info().Int64("invoice_id", invoiceID).Str("user_id", userID).Str("ddtd", *rec.DDTD).Msg("fiscal receipt canceled")
	return nil
}

// Get returns the stored receipt for an invoice.
func (s *Service) Get(ctx context.Context, invoiceID int64) (*Receipt, error) {
	return s.receipts.GetByInvoiceID(ctx, invoiceID)
}

// List returns stored receipts, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Receipt, int, error) {
	if status != "" {
		switch status {
		case StatusPending, StatusSuccess, StatusFailed, StatusCanceled:
		default:
			return nil, 0, &PreconditionError{Reason: fmt.Sprintf("unknown receipt status %q", status)}
		}
	}
	return s.receipts.ListByStatus(ctx, status, limit, offset)
}

// Info proxies the POSAPI info endpoint for operational diagnostics.
func (s *Service) Info(ctx context.Context) (map[string]interface{}, error) {
	return s.client.Info(ctx)
}

// SendData asks POSAPI to flush locally buffered receipts to the tax
// authority.
func (s *Service) SendData(ctx context.Context) (map[string]interface{}, error) {
	return s.client.SendData(ctx)
}

// BankAccounts looks up the bank accounts registered for a TIN.
func (s *Service) BankAccounts(ctx context.Context, tin string) (map[string]interface{}, error) {
	if !IsValidTIN(tin) {
		return nil, &PreconditionError{Reason: fmt.Sprintf("invalid TIN %q", tin)}
	}
	return s.client.BankAccounts(ctx, tin)
}

// interpretResponse classifies a POSAPI body. A response without a status
// field at all is treated as success: older gateway builds confirm
// issuance by returning the receipt body alone.
func interpretResponse(resp map[string]interface{}) (bool, string) {
	if resp == nil {
		return false, "empty response from POSAPI"
	}
	status, present := resp["status"]
	if !present {
		return true, ""
	}
	if s, ok := status.(string); ok && s == "SUCCESS" {
		return true, ""
	}
	if msg, ok := resp["message"].(string); ok && msg != "" {
		return false, msg
	}
	return false, fmt.Sprintf("POSAPI returned status %v", status)
}

// receiptID extracts the receipt identifier. Gateway versions disagree on
// the field name; the aliases are checked in order.
func receiptID(resp map[string]interface{}) (string, bool) {
	for _, key := range []string{"id", "ddtd", "billId"} {
		if v, ok := resp[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func responseDate(resp map[string]interface{}) string {
	if v, ok := resp["date"].(string); ok {
		return v
	}
	return ""
}

// responseOf recovers the decoded error body from a transport-level
// failure, when there is one to record.
func responseOf(err error) map[string]interface{} {
	var apiErr *posapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return nil
}
