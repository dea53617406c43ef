package enums

type PurchaseState string

const (
	PurchaseStatePending        PurchaseState = "pending"
	PurchaseStateAwaitingCharge PurchaseState = "awaiting_charge"
	PurchaseStateFulfilled      PurchaseState = "fulfilled"
	PurchaseStateRejected       PurchaseState = "rejected"
	PurchaseStateFailed         PurchaseState = "failed"
	PurchaseStateRefunded       PurchaseState = "refunded"
)

var purchaseTransitions = map[PurchaseState][]PurchaseState{
	PurchaseStatePending:        {PurchaseStateAwaitingCharge, PurchaseStateRejected},
	PurchaseStateAwaitingCharge: {PurchaseStateFulfilled, PurchaseStateFailed},
	PurchaseStateFulfilled:      {PurchaseStateRefunded},
}

// CanTransition reports whether next is a legal successor of s.
func (s PurchaseState) CanTransition(next PurchaseState) bool {
	for _, candidate := range purchaseTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Sealed states accept no further mutation of any kind.
func (s PurchaseState) Sealed() bool {
	switch s {
	case PurchaseStateRejected, PurchaseStateFailed, PurchaseStateRefunded:
		return true
	default:
		return false
	}
}

func (s PurchaseState) Valid() bool {
	switch s {
	case PurchaseStatePending,
		PurchaseStateAwaitingCharge,
		PurchaseStateFulfilled,
		PurchaseStateRejected,
		PurchaseStateFailed,
		PurchaseStateRefunded:
		return true
	default:
		return false
	}
}
