// Package hold manages the per-order fund reservations that back the
// fulfillment workflow: one OrderHold per order, client and agent legs,
// resolved exactly once by capture or release.
package hold

import (
	"time"

	"github.com/google/uuid"
)

// Status is the hold lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether the hold can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Outcome selects how an active hold is resolved.
type Outcome string

const (
	// OutcomeCapture consumes the client's held funds as payment and
	// settles the agent: their hold returns and the delivery fees are
	// credited to them.
	OutcomeCapture Outcome = "capture"
	// OutcomeRelease returns all held funds to the available balances.
	OutcomeRelease Outcome = "release"
)

// OrderHold is the one-to-one fund reservation for an order. While
// active, ClientAmount and AgentAmount are reflected in the respective
// accounts' withheld balances.
type OrderHold struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ClientAccountID uuid.UUID
	AgentAccountID  *uuid.UUID
	ClientAmount    int64
	AgentAmount     int64
	DeliveryFees    int64
	Currency        string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
