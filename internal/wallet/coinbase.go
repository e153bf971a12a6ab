package wallet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const coinbaseBaseURL = "https://api.coinbase.com"

// Money is an amount/currency pair as the wallet API reports it.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Float parses the amount; the API always sends decimal strings.
func (m Money) Float() (float64, error) {
	return strconv.ParseFloat(m.Amount, 64)
}

// Account is a wallet account with its current balance.
type Account struct {
	ID      string `json:"id"`
	Balance Money  `json:"balance"`
}

// Transaction is a completed send-money operation.
type Transaction struct {
	ID           string `json:"id"`
	Amount       Money  `json:"amount"`
	NativeAmount Money  `json:"native_amount"`
}

// Client talks to the Coinbase v2 wallet API with HMAC request
// signing.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client
}

func NewClient(apiKey, apiSecret string) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   coinbaseBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// PrimaryAccount fetches the wallet's primary account.
func (c *Client) PrimaryAccount(ctx context.Context) (*Account, error) {
	var out struct {
		Data Account `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/v2/accounts/primary", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SendMoney sends amount BTC from the account to an address. The
// idempotency token makes a retried send after a crash a no-op on the
// wallet side.
func (c *Client) SendMoney(ctx context.Context, accountID, toAddress, amount, idem string) (*Transaction, error) {
	body := map[string]string{
		"type":     "send",
		"to":       toAddress,
		"amount":   amount,
		"currency": "BTC",
		"idem":     idem,
	}

	var out struct {
		Data Transaction `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/accounts/"+accountID+"/transactions", body, &out); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"transaction":     out.Data.ID,
		"amount":          out.Data.Amount.Amount,
		"native_amount":   out.Data.NativeAmount.Amount,
		"native_currency": out.Data.NativeAmount.Currency,
	}).Info("wallet transaction created")

	return &out.Data, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal wallet request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build wallet request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", c.sign(timestamp, method, path, payload))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-VERSION", "2017-05-19")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wallet %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("wallet %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode wallet response: %w", err)
	}
	return nil
}

// sign computes the CB-ACCESS-SIGN header: hex HMAC-SHA256 of
// timestamp+method+path+body under the API secret.
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
