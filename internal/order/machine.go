package order

import "CourierLedger/internal/errs"

// transitions is the allowed edge set. cancelled is reachable from any
// non-terminal status; failed covers payment/slot failure before
// confirmation and delivery failure en route.
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed:      {StatusAssigned, StatusCancelled, StatusFailed},
	StatusAssigned:       {StatusPickedUp, StatusCancelled, StatusFailed},
	StatusPickedUp:       {StatusInTransit, StatusCancelled, StatusFailed},
	StatusInTransit:      {StatusDelivered, StatusCancelled, StatusFailed},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusFailed:         {},
}

// CanTransition reports whether from -> to is in the edge set.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition rejects a target outside the edge set. There is no
// silent clamping; the caller gets InvalidTransition and nothing is
// written.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return errs.Newf("order.transition", errs.CodeInvalid, "unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return errs.Newf("order.transition", errs.CodeInvalidTransition,
			"cannot transition from %s to %s", from, to)
	}
	return nil
}
