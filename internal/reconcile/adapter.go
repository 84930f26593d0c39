// Package reconcile translates external payment-provider callbacks into
// ledger transactions. Providers deliver at least once, so every apply
// is keyed by the provider's reference and refuses to double-apply.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/events"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/observability"
	"CourierLedger/internal/persistence"
)

// Adapter applies external payments idempotently. Deduplication is
// two-tier: an in-process LRU in front of the payment_callbacks unique
// index, so the common retry never reaches a ledger write.
type Adapter struct {
	db      *persistence.DB
	ledger  *ledger.Store
	lru     *referenceLRU
	metrics *observability.Metrics
	pub     *events.Publisher
	log     zerolog.Logger
}

func NewAdapter(db *persistence.DB, ledgerStore *ledger.Store, lruCapacity int, metrics *observability.Metrics, pub *events.Publisher, log zerolog.Logger) *Adapter {
	return &Adapter{
		db:      db,
		ledger:  ledgerStore,
		lru:     newReferenceLRU(lruCapacity),
		metrics: metrics,
		pub:     pub,
		log:     log,
	}
}

// ExternalPayment is one already-parsed provider callback. Provider
// protocol details (signatures, provider retries) are handled upstream.
type ExternalPayment struct {
	ProviderReference string
	AccountID         uuid.UUID
	Amount            int64
	Type              ledger.TransactionType
}

func (p *ExternalPayment) validate() error {
	if p.ProviderReference == "" {
		return errs.New("reconcile.apply", errs.CodeInvalid, "provider reference required")
	}
	switch p.Type {
	case ledger.TypeDeposit, ledger.TypeWithdrawal, ledger.TypeRefund:
	default:
		return errs.Newf("reconcile.apply", errs.CodeInvalid,
			"type %q is not an external payment type", p.Type)
	}
	if p.Amount <= 0 {
		return errs.New("reconcile.apply", errs.CodeInvalid, "amount must be positive")
	}
	return nil
}

// ApplyExternalPayment records the callback's ledger transaction exactly
// once. A repeated reference returns the previously recorded transaction
// with no new write.
func (a *Adapter) ApplyExternalPayment(ctx context.Context, p ExternalPayment) (*ledger.Transaction, error) {
	if err := p.validate(); err != nil {
		if a.metrics != nil {
			a.metrics.CallbacksRejected.Inc()
		}
		return nil, err
	}

	if a.lru.Contains(p.ProviderReference) {
		if a.metrics != nil {
			a.metrics.CallbackDuplicates.WithLabelValues("lru").Inc()
		}
		return a.appliedTransaction(ctx, p.ProviderReference)
	}

	var rec *ledger.Transaction
	var duplicate bool
	err := a.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		rec = nil
		duplicate = false

		// The unique index on provider_reference is the fence: losing
		// the race inserts nothing, and no ledger write happens. DO
		// NOTHING rather than an error keeps the transaction healthy
		// for the commit.
		callbackID := uuid.New()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payment_callbacks (id, provider_reference, account_id, amount, transaction_type)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider_reference) DO NOTHING`,
			callbackID, p.ProviderReference, p.AccountID, p.Amount, p.Type)
		if err != nil {
			return fmt.Errorf("insert callback: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert callback: %w", err)
		} else if n == 0 {
			duplicate = true
			return nil
		}

		rec, err = a.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
			AccountID: p.AccountID,
			Amount:    p.Amount,
			Type:      p.Type,
			Memo:      fmt.Sprintf("external payment %s", p.ProviderReference),
		})
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_callbacks SET transaction_id = $2 WHERE id = $1`,
			callbackID, rec.ID); err != nil {
			return fmt.Errorf("link callback: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.lru.Add(p.ProviderReference)

	if duplicate {
		if a.metrics != nil {
			a.metrics.CallbackDuplicates.WithLabelValues("postgres").Inc()
		}
		return a.appliedTransaction(ctx, p.ProviderReference)
	}

	if a.metrics != nil {
		a.metrics.CallbacksApplied.Inc()
	}
	a.pub.PublishLedgerEvent(ctx, events.LedgerRecorded{
		TransactionID: rec.ID,
		AccountID:     rec.AccountID,
		Amount:        rec.Amount,
		Type:          string(rec.Type),
		ReferenceID:   rec.ReferenceID,
		Timestamp:     time.Now().UTC(),
	})
	a.log.Info().
		Str("provider_reference", p.ProviderReference).
		Str("account_id", p.AccountID.String()).
		Int64("amount", p.Amount).
		Str("type", string(p.Type)).
		Msg("external payment applied")
	return rec, nil
}

// appliedTransaction loads the transaction a reference was already
// applied as.
func (a *Adapter) appliedTransaction(ctx context.Context, providerReference string) (*ledger.Transaction, error) {
	t := &ledger.Transaction{}
	err := a.db.QueryRowContext(ctx, `
		SELECT t.id, t.account_id, t.amount, t.transaction_type, t.from_withheld,
		       t.reference_id, t.memo, t.created_at
		FROM payment_callbacks c
		JOIN account_transactions t ON t.id = c.transaction_id
		WHERE c.provider_reference = $1`, providerReference).
		Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.FromWithheld,
			&t.ReferenceID, &t.Memo, &t.CreatedAt)
	if err == sql.ErrNoRows {
		// Reference row exists but its transaction is still being
		// written by a concurrent apply; the caller retries.
		return nil, errs.Newf("reconcile.apply", errs.CodeContention,
			"callback %s is being applied concurrently", providerReference)
	}
	if err != nil {
		return nil, fmt.Errorf("select applied callback: %w", err)
	}
	return t, nil
}
