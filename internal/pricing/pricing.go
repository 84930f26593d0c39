// Package pricing composes the delivery-fee breakdown for an order.
// It is deliberately isolated from the ledger and the state machine so
// fee rules can change without touching balance invariants.
package pricing

import (
	"github.com/shopspring/decimal"

	"CourierLedger/internal/errs"
)

// Config carries the fee schedule, in minor units of the order currency
// except the rates.
type Config struct {
	BaseDeliveryFee int64           // flat fee, minor units
	FastDeliveryFee int64           // surcharge for fast slots, minor units
	PerKmRate       decimal.Decimal // minor units per km
	TaxRate         decimal.Decimal // fraction, e.g. 0.18
}

// Quote is the monetary breakdown of an order, all in minor units.
// Total = Subtotal + BaseDeliveryFee + PerKmDeliveryFee + TaxAmount.
type Quote struct {
	Subtotal         int64
	BaseDeliveryFee  int64
	PerKmDeliveryFee int64
	TaxAmount        int64
	TotalAmount      int64
}

// ComputeQuote prices an order. Decimal math is used for the km and tax
// products; rounding to minor units happens exactly once per component,
// half-up, so a quote is reproducible and sums exactly.
func ComputeQuote(subtotal int64, distanceKm decimal.Decimal, fastDelivery bool, cfg Config) (Quote, error) {
	if subtotal <= 0 {
		return Quote{}, errs.New("pricing.quote", errs.CodeInvalid, "subtotal must be positive")
	}
	if distanceKm.IsNegative() {
		return Quote{}, errs.New("pricing.quote", errs.CodeInvalid, "distance must be non-negative")
	}

	base := cfg.BaseDeliveryFee
	if fastDelivery {
		base += cfg.FastDeliveryFee
	}

	perKm := cfg.PerKmRate.Mul(distanceKm).Round(0).IntPart()

	taxable := decimal.NewFromInt(subtotal + base + perKm)
	tax := taxable.Mul(cfg.TaxRate).Round(0).IntPart()

	q := Quote{
		Subtotal:         subtotal,
		BaseDeliveryFee:  base,
		PerKmDeliveryFee: perKm,
		TaxAmount:        tax,
	}
	q.TotalAmount = q.Subtotal + q.BaseDeliveryFee + q.PerKmDeliveryFee + q.TaxAmount
	return q, nil
}

// DeliveryFees returns the courier's share of the quote.
func (q Quote) DeliveryFees() int64 {
	return q.BaseDeliveryFee + q.PerKmDeliveryFee
}
