package edge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/edgecommerce/edge-dispatch/internal/relation"
)

// CartResult is the add_subids_to_cart payload. SuccessfulItems share
// the single ShoppingCartGID; FailedShoppingCartGIDs lists previously
// committed carts the edge reports as broken.
type CartResult struct {
	SuccessfulItems        []relation.CartItem `json:"items"`
	FailedItems            []relation.CartItem `json:"failed_items"`
	FailedShoppingCartGIDs []string            `json:"failed_shopping_cart_gids"`
	ShoppingCartGID        string              `json:"shoppingCartGID"`
}

// CheckoutResult is the checkout_cart payload when checkout reached
// the storefront.
type CheckoutResult struct {
	TransID         string `json:"transid"`
	Result          int    `json:"result"`
	PaymentMethod   string `json:"payment_method"`
	ShoppingCartGID string `json:"shopping_cart_gid"`
}

// ExternalLink is the get_external_link_from_transid payload.
type ExternalLink struct {
	Link            string `json:"link"`
	ShoppingCartGID string `json:"shopping_cart_gid"`
}

// TaskResult is the decoded sum of the payload shapes a task can
// report: a bare integer code, or the object matching the task kind.
// Exactly one field is non-nil.
type TaskResult struct {
	Code     *TransactionResult
	Cart     *CartResult
	Checkout *CheckoutResult
	Link     *ExternalLink
}

// DecodeTaskResult decodes a raw task_result based on the task kind.
// Any task may report a bare integer; object payloads are only valid
// for their own kind.
func DecodeTaskResult(kind TaskKind, raw json.RawMessage) (TaskResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return TaskResult{}, fmt.Errorf("task %s: empty task_result", kind)
	}

	if trimmed[0] != '{' {
		var code int
		if err := json.Unmarshal(trimmed, &code); err != nil {
			return TaskResult{}, fmt.Errorf("task %s: decode result code: %w", kind, err)
		}
		tx := TransactionResult(code)
		return TaskResult{Code: &tx}, nil
	}

	switch kind {
	case TaskAddSubIDsToCart:
		var cart CartResult
		if err := json.Unmarshal(trimmed, &cart); err != nil {
			return TaskResult{}, fmt.Errorf("task %s: decode cart result: %w", kind, err)
		}
		return TaskResult{Cart: &cart}, nil
	case TaskCheckoutCart:
		var checkout CheckoutResult
		if err := json.Unmarshal(trimmed, &checkout); err != nil {
			return TaskResult{}, fmt.Errorf("task %s: decode checkout result: %w", kind, err)
		}
		return TaskResult{Checkout: &checkout}, nil
	case TaskExternalLink:
		var link ExternalLink
		if err := json.Unmarshal(trimmed, &link); err != nil {
			return TaskResult{}, fmt.Errorf("task %s: decode external link: %w", kind, err)
		}
		return TaskResult{Link: &link}, nil
	}
	return TaskResult{}, fmt.Errorf("unknown task kind %q", kind)
}
