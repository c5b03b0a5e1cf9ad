package ebarimt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shurenclinic/clinic-api/internal/platform/posapi"
)

type fakeReceiptRepo struct {
	receipts    map[int64]*Receipt
	refuseMarks bool
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{receipts: make(map[int64]*Receipt)}
}

func (r *fakeReceiptRepo) Upsert(_ context.Context, rec *Receipt) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	if existing, ok := r.receipts[rec.InvoiceID]; ok {
		existing.Status = StatusPending
		existing.TotalAmount = rec.TotalAmount
		existing.RequestedBy = rec.RequestedBy
		existing.ErrorMessage = nil
		existing.SentAt = &now
		existing.UpdatedAt = now
		*rec = *existing
		return nil
	}
	rec.Status = StatusPending
	rec.SentAt = &now
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := *rec
	r.receipts[rec.InvoiceID] = &stored
	return nil
}

func (r *fakeReceiptRepo) GetByInvoiceID(_ context.Context, invoiceID int64) (*Receipt, error) {
	rec, ok := r.receipts[invoiceID]
	if !ok {
		return nil, fmt.Errorf("receipt for invoice %d not found", invoiceID)
	}
	copied := *rec
	return &copied, nil
}

func (r *fakeReceiptRepo) MarkSuccess(_ context.Context, invoiceID int64, ddtd string, printedAt time.Time, printedAtText string, rawRequest, rawResponse []byte) (bool, error) {
	rec, ok := r.receipts[invoiceID]
	if !ok || rec.Status != StatusPending || r.refuseMarks {
		return false, nil
	}
	rec.Status = StatusSuccess
	rec.DDTD = &ddtd
	rec.PrintedAt = &printedAt
	rec.PrintedAtText = &printedAtText
	rec.IssueRawRequest = rawRequest
	rec.IssueRawResponse = rawResponse
	rec.ErrorMessage = nil
	return true, nil
}

func (r *fakeReceiptRepo) MarkFailed(_ context.Context, invoiceID int64, errorMessage string, rawRequest, rawResponse []byte) (bool, error) {
	rec, ok := r.receipts[invoiceID]
	if !ok || rec.Status != StatusPending || r.refuseMarks {
		return false, nil
	}
	rec.Status = StatusFailed
	rec.ErrorMessage = &errorMessage
	rec.IssueRawRequest = rawRequest
	rec.IssueRawResponse = rawResponse
	return true, nil
}

func (r *fakeReceiptRepo) MarkCanceled(_ context.Context, invoiceID int64, rawRequest, rawResponse []byte) error {
	rec, ok := r.receipts[invoiceID]
	if !ok || rec.Status != StatusSuccess {
		return fmt.Errorf("receipt for invoice %d is not in SUCCESS state", invoiceID)
	}
	rec.Status = StatusCanceled
	rec.CancelRawRequest = rawRequest
	rec.CancelRawResponse = rawResponse
	return nil
}

func (r *fakeReceiptRepo) ListByStatus(_ context.Context, status string, _, _ int) ([]*Receipt, int, error) {
	var out []*Receipt
	for _, rec := range r.receipts {
		if status == "" || rec.Status == status {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, len(out), nil
}

type fakeInvoices struct {
	snapshots map[int64]*InvoiceSnapshot
}

func (f *fakeInvoices) Snapshot(_ context.Context, invoiceID int64) (*InvoiceSnapshot, error) {
	snap, ok := f.snapshots[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d not found", invoiceID)
	}
	return snap, nil
}

type cancelCall struct {
	id   string
	date string
}

type fakePOS struct {
	issueResp  map[string]interface{}
	issueErr   error
	cancelResp map[string]interface{}
	cancelErr  error

	issued   []*posapi.ReceiptRequest
	canceled []cancelCall
}

func (f *fakePOS) IssueReceipt(_ context.Context, req *posapi.ReceiptRequest) (map[string]interface{}, error) {
	f.issued = append(f.issued, req)
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return f.issueResp, nil
}

func (f *fakePOS) CancelReceipt(_ context.Context, id, date string) (map[string]interface{}, error) {
	f.canceled = append(f.canceled, cancelCall{id: id, date: date})
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.cancelResp, nil
}

func (f *fakePOS) Info(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"operator": "test"}, nil
}

func (f *fakePOS) SendData(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"status": "SUCCESS"}, nil
}

func (f *fakePOS) BankAccounts(context.Context, string) (map[string]interface{}, error) {
	return map[string]interface{}{"accounts": []interface{}{}}, nil
}

const testUserID = "dr-bold"

var testMerchant = MerchantConfig{
	MerchantTin:  "12345678901",
	PosNo:        "10012345",
	BranchNo:     "001",
	DistrictCode: "34",
	ConsumerNo:   "C-100",
}

func newTestService(repo ReceiptRepository, inv InvoiceReader, pos POSClient, skip bool) *Service {
	return NewService(repo, inv, pos, testMerchant, skip, zerolog.Nop())
}

func paidInvoice(id int64, amount int64) *InvoiceSnapshot {
	return &InvoiceSnapshot{ID: id, BuyerType: "B2C", FinalAmount: amount, PaidTotal: amount}
}

func validDDTD() string { return strings.Repeat("1", 33) }

func successResponse(ddtd string) map[string]interface{} {
	return map[string]interface{}{
		"status":  "SUCCESS",
		"id":      ddtd,
		"date":    "2025-04-12 10:15:30",
		"lottery": "AB 12345678",
		"qrData":  "base64payload",
	}
}

func TestIssuePreconditions(t *testing.T) {
	tin := "123" // malformed

	tests := []struct {
		name string
		id   int64
		snap *InvoiceSnapshot
	}{
		{"missing invoice", 99, nil},
		{"unpaid invoice", 1, &InvoiceSnapshot{ID: 1, BuyerType: "B2C", FinalAmount: 75000, PaidTotal: 50000}},
		{"b2b without tin", 2, &InvoiceSnapshot{ID: 2, BuyerType: "B2B", FinalAmount: 75000, PaidTotal: 75000}},
		{"b2b with malformed tin", 3, &InvoiceSnapshot{ID: 3, BuyerType: "B2B", CustomerTin: &tin, FinalAmount: 75000, PaidTotal: 75000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeReceiptRepo()
			inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{}}
			if tt.snap != nil {
				inv.snapshots[tt.snap.ID] = tt.snap
			}
			pos := &fakePOS{}
			svc := newTestService(repo, inv, pos, false)

			_, err := svc.Issue(context.Background(), tt.id, testUserID)
			if !IsPrecondition(err) {
				t.Fatalf("err = %v, want precondition", err)
			}
			if len(repo.receipts) != 0 {
				t.Error("a receipt row was created despite the precondition failure")
			}
			if len(pos.issued) != 0 {
				t.Error("POSAPI was called despite the precondition failure")
			}
		})
	}
}

func TestIssueIncompleteMerchantConfig(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 75000)}}
	svc := NewService(repo, inv, &fakePOS{}, MerchantConfig{MerchantTin: "12345678901"}, false, zerolog.Nop())

	if _, err := svc.Issue(context.Background(), 1, testUserID); !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestIssueSuccess(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 75000)}}
	pos := &fakePOS{issueResp: successResponse(validDDTD())}
	svc := newTestService(repo, inv, pos, false)

	result, err := svc.Issue(context.Background(), 1, testUserID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !result.Success || result.DDTD != validDDTD() {
		t.Fatalf("result = %+v", result)
	}
	if result.Receipt["lottery"] != "AB 12345678" {
		t.Error("caller result lost the lottery field")
	}

	rec := repo.receipts[1]
	if rec.Status != StatusSuccess {
		t.Fatalf("stored status = %s", rec.Status)
	}
	if rec.PrintedAtText == nil || *rec.PrintedAtText != "2025-04-12 10:15:30" {
		t.Errorf("printed_at_text = %v, want response date verbatim", rec.PrintedAtText)
	}

	var stored map[string]interface{}
	if err := json.Unmarshal(rec.IssueRawResponse, &stored); err != nil {
		t.Fatalf("stored response is not JSON: %v", err)
	}
	for _, k := range []string{"lottery", "qrData", "qrDate"} {
		if _, ok := stored[k]; ok {
			t.Errorf("persisted response still contains %q", k)
		}
	}
	if stored["id"] != validDDTD() {
		t.Error("persisted response lost the receipt id")
	}
}

func TestIssueReceiptIDAliases(t *testing.T) {
	for _, key := range []string{"id", "ddtd", "billId"} {
		t.Run(key, func(t *testing.T) {
			repo := newFakeReceiptRepo()
			inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
			pos := &fakePOS{issueResp: map[string]interface{}{"status": "SUCCESS", key: validDDTD()}}
			svc := newTestService(repo, inv, pos, false)

			result, err := svc.Issue(context.Background(), 1, testUserID)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			if result.DDTD != validDDTD() {
				t.Errorf("DDTD = %q via alias %q", result.DDTD, key)
			}
		})
	}
}

func TestIssueResponseWithoutStatus(t *testing.T) {
	// Older gateway builds omit the status field and confirm by returning
	// the receipt body alone.
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: map[string]interface{}{"id": validDDTD(), "date": "2025-04-12 10:15:30"}}
	svc := newTestService(repo, inv, pos, false)

	result, err := svc.Issue(context.Background(), 1, testUserID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
}

func TestIssueRemoteFailureIsAResultNotAnError(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		repo := newFakeReceiptRepo()
		inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
		pos := &fakePOS{issueResp: map[string]interface{}{"status": "ERROR", "message": "pos not registered"}}
		svc := newTestService(repo, inv, pos, false)

		result, err := svc.Issue(context.Background(), 1, testUserID)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if result.Success || result.ErrorMessage != "pos not registered" {
			t.Fatalf("result = %+v", result)
		}
		if repo.receipts[1].Status != StatusFailed {
			t.Errorf("stored status = %s", repo.receipts[1].Status)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		repo := newFakeReceiptRepo()
		inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
		pos := &fakePOS{issueErr: &posapi.APIError{StatusCode: 500, Body: map[string]interface{}{"message": "internal"}}}
		svc := newTestService(repo, inv, pos, false)

		result, err := svc.Issue(context.Background(), 1, testUserID)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if result.Success {
			t.Fatal("want failure result")
		}
		if repo.receipts[1].Status != StatusFailed {
			t.Errorf("stored status = %s", repo.receipts[1].Status)
		}
	})
}

func TestIssueRetryReusesRowAndSuffix(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: map[string]interface{}{"status": "ERROR", "message": "transient"}}
	svc := newTestService(repo, inv, pos, false)

	if _, err := svc.Issue(context.Background(), 1, testUserID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	firstID := repo.receipts[1].ID

	pos.issueResp = successResponse(validDDTD())
	result, err := svc.Issue(context.Background(), 1, testUserID)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(repo.receipts) != 1 {
		t.Errorf("got %d receipt rows, want the retry to reuse the row", len(repo.receipts))
	}
	if repo.receipts[1].ID != firstID {
		t.Error("retry replaced the receipt row instead of updating it")
	}
	if len(pos.issued) != 2 || pos.issued[0].BillIDSuffix != pos.issued[1].BillIDSuffix {
		t.Error("same-day retry changed the bill id suffix")
	}
}

func TestIssueConcurrentResolutionStands(t *testing.T) {
	repo := newFakeReceiptRepo()
	repo.refuseMarks = true
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: successResponse(validDDTD())}
	svc := newTestService(repo, inv, pos, false)

	result, err := svc.Issue(context.Background(), 1, testUserID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// The remote side issued the receipt, so the caller still gets it even
	// though the conditional update lost the race.
	if !result.Success || result.DDTD != validDDTD() {
		t.Fatalf("result = %+v", result)
	}
}

func TestIssueSkipMode(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{42: paidInvoice(42, 1000)}}
	pos := &fakePOS{}
	svc := newTestService(repo, inv, pos, true)

	result, err := svc.Issue(context.Background(), 42, testUserID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	want := fmt.Sprintf("%033d", 42)
	if result.DDTD != want {
		t.Errorf("stub DDTD = %q, want %q", result.DDTD, want)
	}
	if !IsValidDDTD(result.DDTD) {
		t.Error("stub DDTD is not a well-formed identifier")
	}
	if len(pos.issued) != 0 {
		t.Error("skip mode still called POSAPI")
	}
	if repo.receipts[42].Status != StatusSuccess {
		t.Errorf("stored status = %s", repo.receipts[42].Status)
	}
}

func TestIssueAfterCancellation(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: successResponse(validDDTD()), cancelResp: map[string]interface{}{"status": "SUCCESS"}}
	svc := newTestService(repo, inv, pos, false)

	if _, err := svc.Issue(context.Background(), 1, testUserID); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Refund(context.Background(), 1, testUserID); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if _, err := svc.Issue(context.Background(), 1, testUserID); !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition on canceled receipt", err)
	}
}

func TestRefundPreconditions(t *testing.T) {
	t.Run("no receipt", func(t *testing.T) {
		svc := newTestService(newFakeReceiptRepo(), &fakeInvoices{}, &fakePOS{}, false)
		if err := svc.Refund(context.Background(), 1, testUserID); !IsPrecondition(err) {
			t.Fatalf("err = %v, want precondition", err)
		}
	})

	t.Run("failed receipt names its status", func(t *testing.T) {
		repo := newFakeReceiptRepo()
		repo.receipts[1] = &Receipt{ID: uuid.New(), InvoiceID: 1, Status: StatusFailed}
		svc := newTestService(repo, &fakeInvoices{}, &fakePOS{}, false)

		err := svc.Refund(context.Background(), 1, testUserID)
		if !IsPrecondition(err) {
			t.Fatalf("err = %v, want precondition", err)
		}
		if !strings.Contains(err.Error(), StatusFailed) {
			t.Errorf("error %q does not name the current status", err)
		}
	})

	t.Run("missing ddtd", func(t *testing.T) {
		repo := newFakeReceiptRepo()
		text := "2025-04-12 10:15:30"
		repo.receipts[1] = &Receipt{ID: uuid.New(), InvoiceID: 1, Status: StatusSuccess, PrintedAtText: &text}
		svc := newTestService(repo, &fakeInvoices{}, &fakePOS{}, false)
		if err := svc.Refund(context.Background(), 1, testUserID); !IsPrecondition(err) {
			t.Fatalf("err = %v, want precondition", err)
		}
	})
}

func TestRefundRemoteFailureIsAnError(t *testing.T) {
	repo := newFakeReceiptRepo()
	ddtd := validDDTD()
	text := "2025-04-12 10:15:30"
	repo.receipts[1] = &Receipt{ID: uuid.New(), InvoiceID: 1, Status: StatusSuccess, DDTD: &ddtd, PrintedAtText: &text}
	pos := &fakePOS{cancelResp: map[string]interface{}{"status": "ERROR", "message": "already reported"}}
	svc := newTestService(repo, &fakeInvoices{}, pos, false)

	err := svc.Refund(context.Background(), 1, testUserID)
	if err == nil || IsPrecondition(err) {
		t.Fatalf("err = %v, want a remote error", err)
	}
	if repo.receipts[1].Status != StatusSuccess {
		t.Errorf("status moved to %s despite remote failure", repo.receipts[1].Status)
	}
}

func TestRefundSendsStoredDateVerbatim(t *testing.T) {
	repo := newFakeReceiptRepo()
	ddtd := validDDTD()
	text := "2025-04-12 10:15:30"
	repo.receipts[1] = &Receipt{ID: uuid.New(), InvoiceID: 1, Status: StatusSuccess, DDTD: &ddtd, PrintedAtText: &text}
	pos := &fakePOS{cancelResp: map[string]interface{}{"status": "SUCCESS"}}
	svc := newTestService(repo, &fakeInvoices{}, pos, false)

	if err := svc.Refund(context.Background(), 1, testUserID); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if len(pos.canceled) != 1 {
		t.Fatalf("got %d cancel calls", len(pos.canceled))
	}
	if pos.canceled[0].id != ddtd || pos.canceled[0].date != text {
		t.Errorf("cancel call = %+v", pos.canceled[0])
	}
	if repo.receipts[1].Status != StatusCanceled {
		t.Errorf("status = %s", repo.receipts[1].Status)
	}
}

func TestRefundSkipMode(t *testing.T) {
	repo := newFakeReceiptRepo()
	ddtd := validDDTD()
	text := "2025-04-12 10:15:30"
	repo.receipts[1] = &Receipt{ID: uuid.New(), InvoiceID: 1, Status: StatusSuccess, DDTD: &ddtd, PrintedAtText: &text}
	pos := &fakePOS{}
	svc := newTestService(repo, &fakeInvoices{}, pos, true)

	if err := svc.Refund(context.Background(), 1, testUserID); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if len(pos.canceled) != 0 {
		t.Error("skip mode still called POSAPI")
	}
	if repo.receipts[1].Status != StatusCanceled {
		t.Errorf("status = %s", repo.receipts[1].Status)
	}
}

func TestIssueRecordsRequestingUser(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: successResponse(validDDTD())}
	svc := newTestService(repo, inv, pos, false)

	if _, err := svc.Issue(context.Background(), 1, "reception-22"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rec := repo.receipts[1]
	if rec.RequestedBy == nil || *rec.RequestedBy != "reception-22" {
		t.Errorf("requested_by = %v, want the issuing user", rec.RequestedBy)
	}

	// A retry by a different user takes over attribution for the new attempt.
	pos.issueResp = map[string]interface{}{"status": "ERROR", "message": "transient"}
	repo.receipts[1].Status = StatusFailed
	if _, err := svc.Issue(context.Background(), 1, "reception-07"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec := repo.receipts[1]; rec.RequestedBy == nil || *rec.RequestedBy != "reception-07" {
		t.Errorf("requested_by after retry = %v", rec.RequestedBy)
	}
}

func TestIssueAnonymousUserLeavesAttributionEmpty(t *testing.T) {
	repo := newFakeReceiptRepo()
	inv := &fakeInvoices{snapshots: map[int64]*InvoiceSnapshot{1: paidInvoice(1, 1000)}}
	pos := &fakePOS{issueResp: successResponse(validDDTD())}
	svc := newTestService(repo, inv, pos, false)

	if _, err := svc.Issue(context.Background(), 1, ""); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if repo.receipts[1].RequestedBy != nil {
		t.Errorf("requested_by = %v, want nil", repo.receipts[1].RequestedBy)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newFakeReceiptRepo(), &fakeInvoices{}, &fakePOS{}, false)
	if _, _, err := svc.List(context.Background(), "SHIPPED", 20, 0); !IsPrecondition(err) {
		t.Fatalf("err = %v, want precondition", err)
	}
}
