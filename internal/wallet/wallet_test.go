package wallet

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceIDFromLink(t *testing.T) {
	cases := []struct {
		link string
		id   string
		ok   bool
	}{
		{"https://bitpay.com/i/4Atz2ZsyPU8gMPUfyc6zQt", "4Atz2ZsyPU8gMPUfyc6zQt", true},
		{"https://bitpay.com/i/abc123?lang=en", "abc123", true},
		{"/i/xyz", "xyz", true},
		{"https://bitpay.com/invoices/abc", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		id, ok := InvoiceIDFromLink(tc.link)
		assert.Equal(t, tc.ok, ok, tc.link)
		assert.Equal(t, tc.id, id, tc.link)
	}
}

func TestMoneyFloat(t *testing.T) {
	f, err := Money{Amount: "0.00123456", Currency: "BTC"}.Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.00123456, f, 1e-12)

	_, err = Money{Amount: "not-a-number"}.Float()
	assert.Error(t, err)
}

func TestPrimaryAccountSignsRequest(t *testing.T) {
	const secret = "s3cret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/accounts/primary", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("CB-ACCESS-KEY"))
		assert.Equal(t, "2017-05-19", r.Header.Get("CB-VERSION"))

		ts := r.Header.Get("CB-ACCESS-TIMESTAMP")
		require.NotEmpty(t, ts)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(ts + "GET" + "/v2/accounts/primary"))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get("CB-ACCESS-SIGN"))

		w.Write([]byte(`{"data": {"id": "acct-1", "balance": {"amount": "1.5", "currency": "BTC"}}}`))
	}))
	defer srv.Close()

	client := NewClient("key", secret)
	client.baseURL = srv.URL

	account, err := client.PrimaryAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acct-1", account.ID)

	balance, err := account.Balance.Float()
	require.NoError(t, err)
	assert.Equal(t, 1.5, balance)
}

func TestSendMoneyCarriesIdempotencyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/accounts/acct-1/transactions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "send", body["type"])
		assert.Equal(t, "1abc", body["to"])
		assert.Equal(t, "0.5", body["amount"])
		assert.Equal(t, "BTC", body["currency"])
		assert.Equal(t, "gid-1", body["idem"])

		w.Write([]byte(`{"data": {"id": "tx-1", "amount": {"amount": "-0.5", "currency": "BTC"}}}`))
	}))
	defer srv.Close()

	client := NewClient("key", "secret")
	client.baseURL = srv.URL

	tx, err := client.SendMoney(context.Background(), "acct-1", "1abc", "0.5", "gid-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tx.ID)
}

func TestSendMoneyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"errors": [{"message": "insufficient funds"}]}`))
	}))
	defer srv.Close()

	client := NewClient("key", "secret")
	client.baseURL = srv.URL

	_, err := client.SendMoney(context.Background(), "acct-1", "1abc", "0.5", "gid-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestInvoiceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/abc123", r.URL.Path)
		w.Write([]byte(`{"data": {
			"status": "new",
			"price": 9.99,
			"currency": "USD",
			"btcPrice": "0.0151",
			"btcDue": "0.0152",
			"bitcoinAddress": "1abc"
		}}`))
	}))
	defer srv.Close()

	fetcher := NewInvoiceFetcher()
	fetcher.baseURL = srv.URL

	invoice, err := fetcher.Fetch(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "new", invoice.Status)
	assert.Equal(t, "0.0152", invoice.BTCDue)
	assert.Equal(t, "1abc", invoice.BitcoinAddress)
	assert.Equal(t, json.Number("9.99"), invoice.Price)
}

func TestInvoiceFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewInvoiceFetcher()
	fetcher.baseURL = srv.URL

	_, err := fetcher.Fetch(context.Background(), "missing")
	assert.Error(t, err)
}
