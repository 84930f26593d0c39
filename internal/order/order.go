// Package order drives an order through the multi-party fulfillment
// workflow. Status transitions, their audit trail, and their ledger and
// slot side effects commit or roll back as one unit.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
)

// Status is an order's workflow state.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusAssigned       Status = "assigned"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusAssigned, StatusPickedUp,
		StatusInTransit, StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// ActorType identifies who performed a transition.
type ActorType string

const (
	ActorClient   ActorType = "client"
	ActorBusiness ActorType = "business"
	ActorAgent    ActorType = "agent"
	ActorSystem   ActorType = "system"
)

// Actor is the identity behind a transition.
type Actor struct {
	Type ActorType
	ID   uuid.UUID
}

// Geo is an optional transition geolocation.
type Geo struct {
	Latitude  float64
	Longitude float64
}

// Order is the fulfillment aggregate. Monetary fields are int64 minor
// units of Currency. Once the status is terminal the order is logically
// immutable.
type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	ClientID           uuid.UUID
	BusinessID         uuid.UUID
	BusinessLocationID uuid.UUID
	DeliveryAddressID  uuid.UUID
	AssignedAgentID    *uuid.UUID
	Subtotal           int64
	BaseDeliveryFee    int64
	PerKmDeliveryFee   int64
	TaxAmount          int64
	TotalAmount        int64
	Currency           string
	CurrentStatus      Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DeliveryFees is the portion of the total owed to the courier.
func (o *Order) DeliveryFees() int64 {
	return o.BaseDeliveryFee + o.PerKmDeliveryFee
}

// CheckTotals verifies total = subtotal + fees + tax, exact in minor units.
func (o *Order) CheckTotals() error {
	want := o.Subtotal + o.BaseDeliveryFee + o.PerKmDeliveryFee + o.TaxAmount
	if o.TotalAmount != want {
		return errs.Newf("order.totals", errs.CodeInvalid,
			"total %d does not match breakdown sum %d", o.TotalAmount, want)
	}
	return nil
}

// StatusHistory is one row of the append-only transition audit trail.
type StatusHistory struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	PreviousStatus Status
	NewStatus      Status
	ActorType      ActorType
	ActorID        uuid.UUID
	Latitude       *float64
	Longitude      *float64
	Notes          string
	CreatedAt      time.Time
}

// NewOrderNumber derives a human-readable order number from the order id.
func NewOrderNumber(id uuid.UUID, at time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), short)
}
