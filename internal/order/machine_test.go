package order

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPendingPayment, StatusConfirmed},
		{StatusConfirmed, StatusAssigned},
		{StatusAssigned, StatusPickedUp},
		{StatusPickedUp, StatusInTransit},
		{StatusInTransit, StatusDelivered},

		{StatusPendingPayment, StatusCancelled},
		{StatusConfirmed, StatusCancelled},
		{StatusAssigned, StatusCancelled},
		{StatusPickedUp, StatusCancelled},
		{StatusInTransit, StatusCancelled},

		{StatusPendingPayment, StatusFailed},
		{StatusConfirmed, StatusFailed},
		{StatusAssigned, StatusFailed},
		{StatusPickedUp, StatusFailed},
		{StatusInTransit, StatusFailed},
	}
	for _, e := range allowed {
		if !CanTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be allowed", e.from, e.to)
		}
	}

	rejected := []struct{ from, to Status }{
		{StatusPendingPayment, StatusDelivered}, // no skipping to the end
		{StatusPendingPayment, StatusAssigned},
		{StatusConfirmed, StatusPickedUp},
		{StatusAssigned, StatusInTransit},
		{StatusDelivered, StatusConfirmed}, // terminal states have no exits
		{StatusDelivered, StatusCancelled},
		{StatusCancelled, StatusConfirmed},
		{StatusFailed, StatusPendingPayment},
		{StatusInTransit, StatusPickedUp}, // no going backwards
		{StatusConfirmed, StatusConfirmed},
	}
	for _, e := range rejected {
		if CanTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be rejected", e.from, e.to)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StatusPendingPayment, StatusConfirmed); err != nil {
		t.Errorf("valid transition returned error: %v", err)
	}

	err := ValidateTransition(StatusPendingPayment, StatusDelivered)
	if !errs.IsCode(err, errs.CodeInvalidTransition) {
		t.Errorf("want InvalidTransition, got %v", err)
	}

	err = ValidateTransition(StatusConfirmed, Status("teleported"))
	if !errs.IsCode(err, errs.CodeInvalid) {
		t.Errorf("unknown status: want Invalid, got %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPendingPayment, StatusConfirmed, StatusAssigned, StatusPickedUp, StatusInTransit} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCheckTotals(t *testing.T) {
	o := Order{
		Subtotal:         10_000,
		BaseDeliveryFee:  600,
		PerKmDeliveryFee: 400,
		TaxAmount:        1_980,
		TotalAmount:      12_980,
	}
	if err := o.CheckTotals(); err != nil {
		t.Errorf("exact totals rejected: %v", err)
	}

	o.TotalAmount++
	err := o.CheckTotals()
	if !errs.IsCode(err, errs.CodeInvalid) {
		t.Errorf("off-by-one total: want Invalid, got %v", err)
	}
}

func TestNewOrderNumber(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	n := NewOrderNumber(id, at)

	if !strings.HasPrefix(n, "ORD-20260314-") {
		t.Errorf("order number %q missing date prefix", n)
	}
	parts := strings.Split(n, "-")
	if len(parts) != 3 || len(parts[2]) != 8 {
		t.Errorf("order number %q has unexpected shape", n)
	}
	if parts[2] != strings.ToUpper(parts[2]) {
		t.Errorf("order number suffix %q should be uppercase", parts[2])
	}
}
