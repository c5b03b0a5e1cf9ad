package ebarimt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shurenclinic/clinic-api/internal/platform/posapi"
)

// Bill types and tax treatment on the POSAPI wire. Clinic services are
// VAT-exempt, so every receipt goes out VAT_FREE with zero tax amounts.
const (
	BillTypeB2C = "B2C_RECEIPT"
	BillTypeB2B = "B2B_RECEIPT"

	TaxTypeVATFree = "VAT_FREE"
)

// Fixed line item the builder emits. Receipts carry a single aggregate
// service line; itemized stock breakdowns are not reported.
const (
	stockName        = "Эмнэлгийн үйлчилгээ"
	stockCode        = "86201"
	stockBarCode     = "8620100000000"
	stockMeasureUnit = "у"

	paymentCodeCash   = "CASH"
	paymentStatusPaid = "PAID"
)

// MerchantConfig is the merchant identity stamped on every receipt.
type MerchantConfig struct {
	MerchantTin  string
	PosNo        string
	BranchNo     string
	DistrictCode string
	ConsumerNo   string
}

// Complete reports whether every field required for issuance is set.
func (m MerchantConfig) Complete() bool {
	return m.MerchantTin != "" && m.PosNo != "" && m.BranchNo != "" && m.DistrictCode != ""
}

// GenerateBillIDSuffix derives the deterministic 8-digit receipt suffix for
// an invoice on a given day. The same invoice issued twice on the same day
// produces the same suffix, which is what lets the tax gateway deduplicate
// retried submissions.
func GenerateBillIDSuffix(day time.Time, invoiceID int64) string {
	key := fmt.Sprintf("%s-%d", day.Format("20060102"), invoiceID)
	sum := sha256.Sum256([]byte(key))
	n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return fmt.Sprintf("%08d", n%100000000)
}

// BuildReceiptRequest assembles the POSAPI issuance payload for an invoice.
// Pure function of its inputs; the day parameter pins the suffix derivation
// so callers and tests control the clock.
func BuildReceiptRequest(snap *InvoiceSnapshot, cfg MerchantConfig, day time.Time) *posapi.ReceiptRequest {
	amount := snap.FinalAmount
	req := &posapi.ReceiptRequest{
		Amount:        amount,
		VAT:           0,
		CityTax:       0,
		CashAmount:    amount,
		NonCashAmount: 0,
		DistrictCode:  cfg.DistrictCode,
		PosNo:         cfg.PosNo,
		BranchNo:      cfg.BranchNo,
		MerchantTin:   cfg.MerchantTin,
		ConsumerNo:    cfg.ConsumerNo,
		BillType:      BillTypeB2C,
		BillIDSuffix:  GenerateBillIDSuffix(day, snap.ID),
		TaxType:       TaxTypeVATFree,
		Stocks: []posapi.ReceiptStock{{
			Name:        stockName,
			Code:        stockCode,
			BarCode:     stockBarCode,
			MeasureUnit: stockMeasureUnit,
			Qty:         1,
			UnitPrice:   amount,
			TotalAmount: amount,
			VAT:         0,
			CityTax:     0,
		}},
		Payments: []posapi.ReceiptPayment{{
			Code:       paymentCodeCash,
			Status:     paymentStatusPaid,
			PaidAmount: amount,
		}},
	}
	if snap.BuyerType == "B2B" && snap.CustomerTin != nil {
		req.BillType = BillTypeB2B
		req.CustomerTin = *snap.CustomerTin
	}
	return req
}

// scrubbedResponseKeys are the POSAPI response fields that must never be
// persisted. The lottery number and QR payload are printed once on the
// customer's receipt and are not ours to retain.
var scrubbedResponseKeys = []string{"lottery", "qrData", "qrDate"}

// ScrubResponse returns a copy of resp with the regulated fields removed.
// The input map is left untouched so the caller can still hand the full
// response to the client for printing. Nil passes through as nil.
func ScrubResponse(resp map[string]interface{}) map[string]interface{} {
	if resp == nil {
		return nil
	}
	out := make(map[string]interface{}, len(resp))
	for k, v := range resp {
		out[k] = v
	}
	for _, k := range scrubbedResponseKeys {
		delete(out, k)
	}
	return out
}
