package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const invoiceBaseURL = "https://bitpay.com"

// Invoice is the payment-provider invoice the storefront hands out for
// external payments. Status must be "new" before any funds move.
type Invoice struct {
	Status         string      `json:"status"`
	Price          json.Number `json:"price"`
	Currency       string      `json:"currency"`
	BTCPrice       string      `json:"btcPrice"`
	BTCDue         string      `json:"btcDue"`
	BitcoinAddress string      `json:"bitcoinAddress"`
}

var invoiceLinkPattern = regexp.MustCompile(`/i/([a-zA-Z0-9]+)`)

// InvoiceIDFromLink extracts the invoice id from a payment link.
func InvoiceIDFromLink(link string) (string, bool) {
	matches := invoiceLinkPattern.FindStringSubmatch(link)
	if matches == nil {
		return "", false
	}
	return matches[1], true
}

// InvoiceFetcher resolves invoice ids against the payment provider.
type InvoiceFetcher struct {
	baseURL string
	http    *http.Client
}

func NewInvoiceFetcher() *InvoiceFetcher {
	return &InvoiceFetcher{
		baseURL: invoiceBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch loads an invoice by id.
func (f *InvoiceFetcher) Fetch(ctx context.Context, invoiceID string) (*Invoice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/invoices/"+invoiceID, nil)
	if err != nil {
		return nil, fmt.Errorf("build invoice request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice %s: %w", invoiceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch invoice %s: status %d", invoiceID, resp.StatusCode)
	}

	var out struct {
		Data Invoice `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode invoice %s: %w", invoiceID, err)
	}
	return &out.Data, nil
}
