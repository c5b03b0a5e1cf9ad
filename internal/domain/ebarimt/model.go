package ebarimt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Receipt statuses. A receipt is created PENDING, resolves to SUCCESS or
// FAILED after the remote call, and moves to CANCELED only from SUCCESS.
// CANCELED is terminal; re-issuing after cancellation is not supported.
const (
	StatusPending  = "PENDING"
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
	StatusCanceled = "CANCELED"
)

// Receipt maps to the ebarimt_receipts table, one row per invoice. The
// merchant fields are a snapshot of configuration at issuance time so
// historical receipts stay auditable after configuration changes.
//
// The raw request/response columns hold wire payloads persisted after
// regulatory scrubbing; the lottery and QR fields must never reach them.
type Receipt struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	InvoiceID         int64           `db:"invoice_id" json:"invoice_id"`
	Status            string          `db:"status" json:"status"`
	TotalAmount       int64           `db:"total_amount" json:"total_amount"`
	MerchantTin       string          `db:"merchant_tin" json:"merchant_tin"`
	PosNo             string          `db:"pos_no" json:"pos_no"`
	BranchNo          string          `db:"branch_no" json:"branch_no"`
	DistrictCode      string          `db:"district_code" json:"district_code"`
	RequestedBy       *string         `db:"requested_by" json:"requested_by,omitempty"`
	DDTD              *string         `db:"ddtd" json:"ddtd,omitempty"`
	PrintedAt         *time.Time      `db:"printed_at" json:"printed_at,omitempty"`
	PrintedAtText     *string         `db:"printed_at_text" json:"printed_at_text,omitempty"`
	ErrorMessage      *string         `db:"error_message" json:"error_message,omitempty"`
	IssueRawRequest   json.RawMessage `db:"issue_raw_request" json:"issue_raw_request,omitempty"`
	IssueRawResponse  json.RawMessage `db:"issue_raw_response" json:"issue_raw_response,omitempty"`
	CancelRawRequest  json.RawMessage `db:"cancel_raw_request" json:"cancel_raw_request,omitempty"`
	CancelRawResponse json.RawMessage `db:"cancel_raw_response" json:"cancel_raw_response,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	ConfirmedAt       *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// InvoiceSnapshot is the read-only view of an invoice the lifecycle service
// needs. The ebarimt core never writes invoice state.
type InvoiceSnapshot struct {
	ID          int64
	BuyerType   string
	CustomerTin *string
	FinalAmount int64
	PaidTotal   int64
}
