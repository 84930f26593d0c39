package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Account tracks a user's funds in a single currency. Balances are int64
// minor units (e.g. cents); the ledger never touches floats.
// An account is created once per (user, currency) pair and is deactivated,
// never deleted.
type Account struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Currency  string
	Available int64
	Withheld  int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total returns available + withheld.
func (a *Account) Total() int64 {
	return a.Available + a.Withheld
}

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeHold       TransactionType = "hold"
	TypeRelease    TransactionType = "release"
	TypeTransfer   TransactionType = "transfer"
	TypePayment    TransactionType = "payment"
	TypeRefund     TransactionType = "refund"
	TypeFee        TransactionType = "fee"
	TypeAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeHold, TypeRelease,
		TypeTransfer, TypePayment, TypeRefund, TypeFee, TypeAdjustment:
		return true
	}
	return false
}

// Movement is the balance delta a transaction applies to its account.
type Movement struct {
	Available int64
	Withheld  int64
}

// TotalDelta is the movement's effect on available + withheld.
// Holds and releases shuffle funds between the two balances and
// contribute zero here.
func (m Movement) TotalDelta() int64 {
	return m.Available + m.Withheld
}

// MovementFor maps a transaction type and amount onto balance deltas.
// Amount must be positive for every type except adjustment, which is signed.
// fromWithheld marks a payment/transfer/withdrawal as a capture against
// held funds instead of the available balance.
func MovementFor(t TransactionType, amount int64, fromWithheld bool) Movement {
	switch t {
	case TypeDeposit, TypeRefund:
		return Movement{Available: amount}
	case TypeWithdrawal, TypePayment, TypeTransfer, TypeFee:
		if fromWithheld {
			return Movement{Withheld: -amount}
		}
		return Movement{Available: -amount}
	case TypeHold:
		return Movement{Available: -amount, Withheld: amount}
	case TypeRelease:
		return Movement{Available: amount, Withheld: -amount}
	case TypeAdjustment:
		return Movement{Available: amount}
	}
	return Movement{}
}
