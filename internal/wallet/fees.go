package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const feeAPIURL = "https://bitcoinfees.21.co/api/v1/fees/recommended"

// estimated size of a simple one-in two-out transaction.
const feeTxBytes = 180

// RecommendedFee asks the fee API for the current fastest-confirmation
// rate and returns the fee for a standard-size transaction as a BTC
// decimal string. Returns "0" on any failure; callers treat the fee as
// advisory.
func RecommendedFee(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feeAPIURL, nil)
	if err != nil {
		return "0"
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.WithField("err", err).Error("unable to contact fee API")
		return "0"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Error("fee API returned non-200")
		return "0"
	}

	var out struct {
		FastestFee int64 `json:"fastestFee"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.WithField("err", err).Error("unable to decode fee API response")
		return "0"
	}

	const satoshisPerBTC = 100_000_000
	satoshis := feeTxBytes * out.FastestFee
	fee := fmt.Sprintf("%d.%08d", satoshis/satoshisPerBTC, satoshis%satoshisPerBTC)

	log.WithField("fee", fee).Info("recommended tx fee")
	return fee
}
