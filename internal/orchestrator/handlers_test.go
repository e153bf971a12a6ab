package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecommerce/edge-dispatch/internal/edge"
	"github.com/edgecommerce/edge-dispatch/internal/relation"
	"github.com/edgecommerce/edge-dispatch/internal/wallet"
)

func bitcoinHarness(t *testing.T, linkResult string) *harness {
	mux := taskStateMux(map[string]string{"task-1": linkResult})
	mux.HandleFunc("/edge/cart/reset/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(edge.TaskRef{TaskID: "task-reset", TaskName: "reset_cart"})
	})

	h := newHarness(t, mux)
	h.o.PaymentMethod = "bitcoin"
	h.addBot(1, "bot-1", edge.BotTypePurchases, edge.BotPurchasingCart)
	h.tasks.pending = []edge.Task{pendingTask("task-1", edge.TaskExternalLink)}
	return h
}

func TestExternalPaymentHappyPath(t *testing.T) {
	h := bitcoinHarness(t, `{"link": "https://bitpay.com/i/inv42", "shopping_cart_gid": "gid-1"}`)

	gid := "gid-1"
	row := h.ledger.add(1, relation.KindPaidRequest, 100)
	row.level = relation.AddedToCart
	row.cartGID = &gid

	h.invoices.invoices["inv42"] = &wallet.Invoice{
		Status:         "new",
		BTCDue:         "0.5",
		BitcoinAddress: "1abc",
	}
	h.wallet.balance = "0.6"

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	// Funds sent with the cart gid as idempotency token.
	assert.Equal(t, []string{"gid-1"}, h.wallet.sends)

	assert.Equal(t, relation.Purchased, h.ledger.rows[1].level)
	assert.True(t, h.ledger.rows[1].sent)

	// Cart reset queued and the bot released.
	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "task-reset", h.tasks.created[0].TaskID)
	assert.Equal(t, edge.BotStandingBy, h.bots.bots[0].Status)
	assert.Equal(t, edge.TaskSuccess, h.tasks.statuses["task-1"])
}

func TestExternalPaymentStaleInvoice(t *testing.T) {
	h := bitcoinHarness(t, `{"link": "https://bitpay.com/i/inv42", "shopping_cart_gid": "gid-1"}`)

	h.invoices.invoices["inv42"] = &wallet.Invoice{Status: "paid", BTCDue: "0.5", BitcoinAddress: "1abc"}

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	// No funds moved; the bot is parked for the operator.
	assert.Empty(t, h.wallet.sends)
	assert.Equal(t, edge.BotBlockedForUnknownReason, h.bots.bots[0].Status)
}

func TestExternalPaymentInsufficientBalance(t *testing.T) {
	h := bitcoinHarness(t, `{"link": "https://bitpay.com/i/inv42", "shopping_cart_gid": "gid-1"}`)

	h.invoices.invoices["inv42"] = &wallet.Invoice{Status: "new", BTCDue: "0.5", BitcoinAddress: "1abc"}
	h.wallet.balance = "0.1"

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	assert.Empty(t, h.wallet.sends)
	assert.Equal(t, edge.BotWaitingForSufficientFunds, h.bots.bots[0].Status)
}

func TestExternalPaymentUnparseableLink(t *testing.T) {
	h := bitcoinHarness(t, `{"link": "https://bitpay.com/invoices", "shopping_cart_gid": "gid-1"}`)

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	assert.Empty(t, h.wallet.sends)
	assert.Equal(t, edge.BotBlockedForUnknownReason, h.bots.bots[0].Status)
}

func TestExternalPaymentBareCodeBlocksBot(t *testing.T) {
	h := bitcoinHarness(t, "3")

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	assert.Empty(t, h.wallet.sends)
	assert.Equal(t, edge.BotBlockedForUnknownReason, h.bots.bots[0].Status)
}

func TestCheckoutResultBitcoinRequestsLink(t *testing.T) {
	mux := taskStateMux(map[string]string{
		"task-1": `{"transid": "t-9", "result": 1, "payment_method": "bitcoin", "shopping_cart_gid": "gid-1"}`,
	})
	var linkedTransID string
	mux.HandleFunc("/edge/transaction/link/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		linkedTransID = r.Form.Get("transid")
		json.NewEncoder(w).Encode(edge.TaskRef{TaskID: "task-2", TaskName: edge.TaskExternalLink})
	})

	h := newHarness(t, mux)
	h.o.PaymentMethod = "bitcoin"
	h.addBot(1, "bot-1", edge.BotTypePurchases, edge.BotPurchasingCart)
	h.tasks.pending = []edge.Task{pendingTask("task-1", edge.TaskCheckoutCart)}

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	assert.Equal(t, "t-9", linkedTransID)
	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, edge.TaskExternalLink, h.tasks.created[0].TaskName)
	// The bot stays claimed until the link task resolves.
	assert.Equal(t, edge.BotPurchasingCart, h.bots.bots[0].Status)
}

func TestCheckoutResultNonOKBlocksBot(t *testing.T) {
	mux := taskStateMux(map[string]string{
		"task-1": `{"transid": "t-9", "result": 2, "payment_method": "steamaccount", "shopping_cart_gid": "gid-1"}`,
	})

	h := newHarness(t, mux)
	h.addBot(1, "bot-1", edge.BotTypePurchases, edge.BotPurchasingCart)
	h.tasks.pending = []edge.Task{pendingTask("task-1", edge.TaskCheckoutCart)}

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))
	assert.Equal(t, edge.BotBlockedForUnknownReason, h.bots.bots[0].Status)
}

func TestDispatchCheckoutFallsBackToConfiguredGiftee(t *testing.T) {
	cartResult := `{
		"items": [{"sub_id": 500, "user_id": 10, "relation_type": "C", "relation_id": 1}],
		"failed_items": [],
		"shoppingCartGID": "gid-1"
	}`
	mux := taskStateMux(map[string]string{"task-1": cartResult})
	var giftee string
	mux.HandleFunc("/edge/cart/checkout/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		giftee = r.Form.Get("giftee_account_id")
		json.NewEncoder(w).Encode(edge.TaskRef{TaskID: "task-2", TaskName: edge.TaskCheckoutCart})
	})

	h := newHarness(t, mux)
	h.addBot(1, "bot-1", edge.BotTypePurchases, edge.BotPushingItemsToCart)
	// User 10 has no external account on record.
	taskID := "task-1"
	row := h.ledger.add(1, relation.KindPaidRequest, 100)
	row.level = relation.PushedToCart
	row.taskID = &taskID
	h.tasks.pending = []edge.Task{pendingTask("task-1", edge.TaskAddSubIDsToCart)}

	require.NoError(t, h.o.ProcessPendingTasks(context.Background()))

	assert.Equal(t, "giftee-default", giftee)
}
