package relation

// Commitment is a relation's stage in the purchase pipeline. The
// integer values are stored on disk and must stay stable.
type Commitment int

const (
	Uncommitted       Commitment = 0
	AddedToCart       Commitment = 1
	Purchased         Commitment = 2
	FailedToAddToCart Commitment = 3
	PushedToCart      Commitment = 4
	WaitingForInvite  Commitment = 5
)

func (c Commitment) String() string {
	switch c {
	case Uncommitted:
		return "UNCOMMITTED"
	case AddedToCart:
		return "ADDED_TO_CART"
	case Purchased:
		return "PURCHASED"
	case FailedToAddToCart:
		return "FAILED_TO_ADD_CART"
	case PushedToCart:
		return "PUSHED_TO_CART"
	case WaitingForInvite:
		return "WAITING_FOR_INVITE"
	}
	return "UNKNOWN"
}

// forwardEdges holds every legal forward transition. Any state may
// additionally roll back to Uncommitted.
var forwardEdges = map[Commitment][]Commitment{
	Uncommitted:      {WaitingForInvite},
	WaitingForInvite: {PushedToCart},
	PushedToCart:     {AddedToCart, FailedToAddToCart},
	AddedToCart:      {Purchased},
}

// CanTransition reports whether moving from c to next is a legal edge
// of the commitment state machine.
func (c Commitment) CanTransition(next Commitment) bool {
	if next == Uncommitted {
		return c != Uncommitted
	}
	for _, to := range forwardEdges[c] {
		if to == next {
			return true
		}
	}
	return false
}
