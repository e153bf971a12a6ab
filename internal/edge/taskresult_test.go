package edge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTaskResultBareCode(t *testing.T) {
	for _, kind := range []TaskKind{TaskAddSubIDsToCart, TaskCheckoutCart, TaskExternalLink} {
		result, err := DecodeTaskResult(kind, json.RawMessage("5"))
		require.NoError(t, err, "kind %s", kind)
		require.NotNil(t, result.Code)
		assert.Equal(t, TxInsufficientFunds, *result.Code)
		assert.Nil(t, result.Cart)
		assert.Nil(t, result.Checkout)
		assert.Nil(t, result.Link)
	}
}

func TestDecodeTaskResultCart(t *testing.T) {
	raw := json.RawMessage(`{
		"items": [{"sub_id": 100, "user_id": 10, "relation_type": "C", "relation_id": 1}],
		"failed_items": [{"sub_id": 200, "user_id": 10, "relation_type": "A", "relation_id": 2}],
		"failed_shopping_cart_gids": ["old-gid"],
		"shoppingCartGID": "gid-1"
	}`)

	result, err := DecodeTaskResult(TaskAddSubIDsToCart, raw)
	require.NoError(t, err)
	require.NotNil(t, result.Cart)
	assert.Equal(t, "gid-1", result.Cart.ShoppingCartGID)
	require.Len(t, result.Cart.SuccessfulItems, 1)
	assert.Equal(t, int64(100), result.Cart.SuccessfulItems[0].SubID)
	require.Len(t, result.Cart.FailedItems, 1)
	assert.Equal(t, int64(2), result.Cart.FailedItems[0].RelationID)
	assert.Equal(t, []string{"old-gid"}, result.Cart.FailedShoppingCartGIDs)
}

func TestDecodeTaskResultCheckout(t *testing.T) {
	raw := json.RawMessage(`{"transid": "t-1", "result": 1, "payment_method": "bitcoin", "shopping_cart_gid": "gid-1"}`)

	result, err := DecodeTaskResult(TaskCheckoutCart, raw)
	require.NoError(t, err)
	require.NotNil(t, result.Checkout)
	assert.Equal(t, "t-1", result.Checkout.TransID)
	assert.Equal(t, int(TxOK), result.Checkout.Result)
	assert.Equal(t, "bitcoin", result.Checkout.PaymentMethod)
}

func TestDecodeTaskResultExternalLink(t *testing.T) {
	raw := json.RawMessage(`{"link": "https://bitpay.com/i/abc123", "shopping_cart_gid": "gid-1"}`)

	result, err := DecodeTaskResult(TaskExternalLink, raw)
	require.NoError(t, err)
	require.NotNil(t, result.Link)
	assert.Equal(t, "https://bitpay.com/i/abc123", result.Link.Link)
}

func TestDecodeTaskResultRejectsEmptyAndUnknown(t *testing.T) {
	_, err := DecodeTaskResult(TaskAddSubIDsToCart, nil)
	assert.Error(t, err)

	_, err = DecodeTaskResult(TaskAddSubIDsToCart, json.RawMessage("null"))
	assert.Error(t, err)

	_, err = DecodeTaskResult(TaskKind("mystery"), json.RawMessage("{}"))
	assert.Error(t, err)

	_, err = DecodeTaskResult(TaskCheckoutCart, json.RawMessage(`"nonsense"`))
	assert.Error(t, err)
}

func TestTransactionResultString(t *testing.T) {
	assert.Equal(t, "OK", TxOK.String())
	assert.Equal(t, "INSUFFICIENT_FUNDS", TxInsufficientFunds.String())
	assert.Equal(t, "TOO_MANY_PURCHASES", TxTooManyPurchases.String())
}
