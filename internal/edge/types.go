package edge

import "time"

// BotStatus is an edge bot's position in its state machine. Integer
// values are stored on disk and must stay stable.
type BotStatus int

const (
	BotStandingBy                 BotStatus = 1
	BotPushingItemsToCart         BotStatus = 2
	BotPurchasingCart             BotStatus = 3
	BotWaitingForSufficientFunds  BotStatus = 4
	BotBlockedForTooManyPurchases BotStatus = 5
	BotBlockedForUnknownReason    BotStatus = 6
)

func (s BotStatus) String() string {
	switch s {
	case BotStandingBy:
		return "STANDING_BY"
	case BotPushingItemsToCart:
		return "PUSHING_ITEMS_TO_CART"
	case BotPurchasingCart:
		return "PURCHASING_CART"
	case BotWaitingForSufficientFunds:
		return "WAITING_FOR_SUFFICIENT_FUNDS"
	case BotBlockedForTooManyPurchases:
		return "BLOCKED_FOR_TOO_MANY_PURCHASES"
	case BotBlockedForUnknownReason:
		return "BLOCKED_FOR_UNKNOWN_REASON"
	}
	return "UNKNOWN"
}

// BotType segregates bot pools by purpose.
type BotType int

const (
	BotTypePurchases          BotType = 1
	BotTypeDelivery           BotType = 2
	BotTypeAntiCheatPurchases BotType = 3
	BotTypeNotification       BotType = 4
)

// ServerStatus marks an edge server usable or not.
type ServerStatus int

const (
	ServerEnabled  ServerStatus = 1
	ServerDisabled ServerStatus = 2
)

// TaskStatus mirrors the remote task lifecycle verbatim.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskRunning TaskStatus = "RUNNING"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailure TaskStatus = "FAILURE"
)

// TaskKind names the remote operations whose completions we handle.
type TaskKind string

const (
	TaskAddSubIDsToCart TaskKind = "add_subids_to_cart"
	TaskCheckoutCart    TaskKind = "checkout_cart"
	TaskExternalLink    TaskKind = "get_external_link_from_transid"
)

// PushRejection codes returned by cart/push/ when success is false.
type PushRejection int

const (
	PushIncompleteForm       PushRejection = 1
	PushParamNotSerializable PushRejection = 2
	PushTaskNotFound         PushRejection = 3
)

func (r PushRejection) String() string {
	switch r {
	case PushIncompleteForm:
		return "INCOMPLETE_FORM"
	case PushParamNotSerializable:
		return "PARAM_NOT_SERIALIZABLE"
	case PushTaskNotFound:
		return "TASK_NOT_FOUND"
	}
	return "UNKNOWN"
}

// TransactionResult classifies an integer checkout outcome.
type TransactionResult int

const (
	TxOK                      TransactionResult = 1
	TxFail                    TransactionResult = 2
	TxTransIDNotFound         TransactionResult = 3
	TxShoppingCartGIDNotFound TransactionResult = 4
	TxInsufficientFunds       TransactionResult = 5
	TxTooManyPurchases        TransactionResult = 6
)

func (t TransactionResult) String() string {
	switch t {
	case TxOK:
		return "OK"
	case TxFail:
		return "FAIL"
	case TxTransIDNotFound:
		return "TRANSID_NOT_FOUND"
	case TxShoppingCartGIDNotFound:
		return "SHOPPING_CART_GID_NOT_FOUND"
	case TxInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case TxTooManyPurchases:
		return "TOO_MANY_PURCHASES"
	}
	return "UNKNOWN"
}

// Bot is a storefront account reachable through an edge server.
type Bot struct {
	ID           int64
	NetworkID    string
	CurrencyCode string
	Type         BotType
	Status       BotStatus
}

// Server is the HTTP front-proxy multiplexing calls to its bots.
type Server struct {
	ID              int64
	IPAddress       string
	CurrencyCode    string
	Status          ServerStatus
	LastHealthCheck time.Time
}

// Task is an outstanding remote operation, correlated by the opaque
// task id the edge server assigned.
type Task struct {
	ID        int64
	TaskID    string
	TaskName  TaskKind
	Status    TaskStatus
	BotID     int64
	ServerID  int64
	CreatedAt time.Time
}

// TaskRef is the correlation handle returned by every dispatching
// endpoint.
type TaskRef struct {
	TaskID   string   `json:"task_id"`
	TaskName TaskKind `json:"task_name"`
}
