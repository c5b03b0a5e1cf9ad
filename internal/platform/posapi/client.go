// Package posapi is a thin HTTP adapter to the tax authority's POS API.
// It maps requests and responses one to one onto the remote REST surface
// and carries no business rules.
package posapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ReceiptRequest is the wire shape of POST /rest/receipt.
type ReceiptRequest struct {
	Amount        int64            `json:"amount"`
	VAT           int64            `json:"vat"`
	CashAmount    int64            `json:"cashAmount"`
	NonCashAmount int64            `json:"nonCashAmount"`
	CityTax       int64            `json:"cityTax"`
	DistrictCode  string           `json:"districtCode"`
	PosNo         string           `json:"posNo"`
	BranchNo      string           `json:"branchNo"`
	MerchantTin   string           `json:"registerNo"`
	CustomerTin   string           `json:"customerNo,omitempty"`
	ConsumerNo    string           `json:"consumerNo,omitempty"`
	BillType      string           `json:"billType"`
	BillIDSuffix  string           `json:"billIdSuffix"`
	TaxType       string           `json:"taxType"`
	Stocks        []ReceiptStock   `json:"stocks"`
	Payments      []ReceiptPayment `json:"payments"`
}

// ReceiptStock is a single line item of a receipt request.
type ReceiptStock struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	BarCode     string `json:"barCode"`
	MeasureUnit string `json:"measureUnit"`
	Qty         int64  `json:"qty"`
	UnitPrice   int64  `json:"unitPrice"`
	TotalAmount int64  `json:"totalAmount"`
	VAT         int64  `json:"vat"`
	CityTax     int64  `json:"cityTax"`
}

// ReceiptPayment is a single payment entry of a receipt request.
type ReceiptPayment struct {
	Code       string `json:"code"`
	Status     string `json:"status"`
	PaidAmount int64  `json:"paidAmount"`
}

// APIError carries the HTTP status and best-effort-parsed body of a non-2xx
// response so callers can inspect failure detail.
type APIError struct {
	StatusCode int
	Body       map[string]interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("posapi: status %d: %v", e.StatusCode, e.Body)
}

// Client talks to the main POSAPI REST surface.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// IssueReceipt posts a receipt request. The decoded response body is returned
// as-is; interpreting its status field is the caller's concern.
func (c *Client) IssueReceipt(ctx context.Context, r *ReceiptRequest) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodPost, "/rest/receipt", r)
}

// CancelReceipt deletes a previously issued receipt. The date must be the
// exact printed-at string from issuance; reformatting it risks rejection.
func (c *Client) CancelReceipt(ctx context.Context, id, date string) (map[string]interface{}, error) {
	body := map[string]string{"id": id, "date": date}
	return c.do(ctx, http.MethodDelete, "/rest/receipt", body)
}

// Info returns the terminal information record.
func (c *Client) Info(ctx context.Context) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, "/rest/info", nil)
}

// SendData asks the terminal to push buffered receipts to the unified system.
func (c *Client) SendData(ctx context.Context) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, "/rest/send", nil)
}

// BankAccounts looks up registered bank accounts for a TIN.
func (c *Client) BankAccounts(ctx context.Context, tin string) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, "/rest/bankAccounts?tin="+url.QueryEscape(tin), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posapi request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// decodeResponse parses the body as JSON, wrapping non-JSON text so failure
// detail is never lost. Non-2xx statuses become an *APIError.
func decodeResponse(resp *http.Response) (map[string]interface{}, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = map[string]interface{}{"raw": string(raw)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: parsed}
	}
	return parsed, nil
}

// OperatorClient talks to the separate operator-merchant endpoint, which uses
// bearer-token plus API-key auth instead of the main client's plain headers.
type OperatorClient struct {
	baseURL string
	token   string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

func NewOperatorClient(baseURL, token, apiKey string, timeout time.Duration) *OperatorClient {
	return &OperatorClient{
		baseURL: baseURL,
		token:   token,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Merchants fetches the operator merchant registration for a terminal.
func (c *OperatorClient) Merchants(ctx context.Context, posNo, merchantTin string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"posNo":       posNo,
		"merchantTin": merchantTin,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("operator request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}
