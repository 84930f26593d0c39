package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is one immutable row in an account's ledger.
// Amount is a positive magnitude for every type except adjustment;
// the type carries the direction. FromWithheld marks a debit as a
// capture against held funds.
type Transaction struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Amount       int64
	Type         TransactionType
	FromWithheld bool
	ReferenceID  *uuid.UUID
	Memo         string
	CreatedAt    time.Time
}

// Movement returns the balance deltas this transaction applied.
func (t *Transaction) Movement() Movement {
	return MovementFor(t.Type, t.Amount, t.FromWithheld)
}

// SumDeltas folds a transaction log into the total-balance delta it
// implies. An account's available + withheld must always equal this sum.
func SumDeltas(txs []Transaction) int64 {
	var sum int64
	for i := range txs {
		sum += txs[i].Movement().TotalDelta()
	}
	return sum
}
