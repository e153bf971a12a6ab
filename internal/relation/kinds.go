package relation

import "fmt"

// Kind discriminates the two request families a relation can belong to.
// The string value doubles as the cache-key prefix and the storage
// dispatch key.
type Kind string

const (
	KindUserRequest Kind = "userrequest"
	KindPaidRequest Kind = "paidrequest"
)

// Kinds lists both kinds in reconciliation order. Paid relations are
// always iterated first so that a sub-id contested across kinds is won
// by the paid side.
var Kinds = []Kind{KindPaidRequest, KindUserRequest}

// WireCode returns the single-letter code used on the edge protocol.
func (k Kind) WireCode() string {
	switch k {
	case KindUserRequest:
		return "A"
	case KindPaidRequest:
		return "C"
	}
	return ""
}

// KindFromWire resolves an edge protocol code back to a Kind.
func KindFromWire(code string) (Kind, error) {
	switch code {
	case "A":
		return KindUserRequest, nil
	case "C":
		return KindPaidRequest, nil
	}
	return "", fmt.Errorf("unknown relation type code %q", code)
}

// CartItem is one relation as pushed to an edge bot's shopping cart.
// The JSON field names are the edge wire contract.
type CartItem struct {
	SubID      int64  `json:"sub_id"`
	UserID     int64  `json:"user_id"`
	Type       string `json:"relation_type"`
	RelationID int64  `json:"relation_id"`
}

// Kind resolves the item's wire code.
func (i CartItem) Kind() (Kind, error) {
	return KindFromWire(i.Type)
}
