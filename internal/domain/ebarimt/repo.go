package ebarimt

import (
	"context"
	"time"
)

// ReceiptRepository persists fiscal receipts keyed by invoice ID.
//
// MarkSuccess and MarkFailed are conditional on the row still being PENDING
// and report whether the update took effect. A false return means a
// concurrent caller resolved the receipt first; the stored state wins.
type ReceiptRepository interface {
	Upsert(ctx context.Context, rec *Receipt) error
	GetByInvoiceID(ctx context.Context, invoiceID int64) (*Receipt, error)
	MarkSuccess(ctx context.Context, invoiceID int64, ddtd string, printedAt time.Time, printedAtText string, rawRequest, rawResponse []byte) (bool, error)
	MarkFailed(ctx context.Context, invoiceID int64, errorMessage string, rawRequest, rawResponse []byte) (bool, error)
	MarkCanceled(ctx context.Context, invoiceID int64, rawRequest, rawResponse []byte) error
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Receipt, int, error)
}

// InvoiceReader supplies invoice snapshots to the lifecycle service. The
// concrete adapter lives in the server wiring.
type InvoiceReader interface {
	Snapshot(ctx context.Context, invoiceID int64) (*InvoiceSnapshot, error)
}
