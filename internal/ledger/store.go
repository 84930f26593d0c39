package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/observability"
	"CourierLedger/internal/persistence"
)

// Store is the ledger's storage surface. Recording a transaction and
// moving the account balances happen inside one SQL transaction with the
// account row locked, so a reader can never observe one without the other.
type Store struct {
	db      *persistence.DB
	metrics *observability.Metrics
}

func NewStore(db *persistence.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// TransactionParams describes one ledger transaction to record.
type TransactionParams struct {
	AccountID    uuid.UUID
	Amount       int64
	Type         TransactionType
	FromWithheld bool
	ReferenceID  *uuid.UUID
	Memo         string
}

func (p *TransactionParams) validate() error {
	if !p.Type.Valid() {
		return errs.Newf("ledger.record", errs.CodeInvalid, "unknown transaction type %q", p.Type)
	}
	if p.Type == TypeAdjustment {
		if p.Amount == 0 {
			return errs.New("ledger.record", errs.CodeInvalid, "adjustment amount must be non-zero")
		}
		return nil
	}
	if p.Amount <= 0 {
		return errs.Newf("ledger.record", errs.CodeInvalid, "amount must be positive, got %d", p.Amount)
	}
	return nil
}

// RecordTransaction appends a transaction and applies its balance
// movement in a transaction of its own.
func (s *Store) RecordTransaction(ctx context.Context, p TransactionParams) (*Transaction, error) {
	var rec *Transaction
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.RecordInTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordInTx appends a transaction inside the caller's SQL transaction.
// The Hold Manager and the state machine use this to keep ledger writes
// atomic with their own.
func (s *Store) RecordInTx(ctx context.Context, tx *sql.Tx, p TransactionParams) (*Transaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := AccountForUpdate(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return nil, errs.Newf("ledger.record", errs.CodeAccountInactive,
			"account %s is deactivated", acct.ID)
	}

	mv := MovementFor(p.Type, p.Amount, p.FromWithheld)
	newAvailable := acct.Available + mv.Available
	newWithheld := acct.Withheld + mv.Withheld

	if newAvailable < 0 {
		s.noteInsufficient()
		return nil, errs.Newf("ledger.record", errs.CodeInsufficientFunds,
			"required %d, available %d %s", -mv.Available, acct.Available, acct.Currency)
	}
	if newWithheld < 0 {
		s.noteInsufficient()
		return nil, errs.Newf("ledger.record", errs.CodeInsufficientFunds,
			"required %d, withheld %d %s", -mv.Withheld, acct.Withheld, acct.Currency)
	}

	rec := &Transaction{
		ID:           uuid.New(),
		AccountID:    p.AccountID,
		Amount:       p.Amount,
		Type:         p.Type,
		FromWithheld: p.FromWithheld,
		ReferenceID:  p.ReferenceID,
		Memo:         p.Memo,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO account_transactions
			(id, account_id, amount, transaction_type, from_withheld, reference_id, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		rec.ID, rec.AccountID, rec.Amount, rec.Type, rec.FromWithheld, rec.ReferenceID, rec.Memo,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET available_balance = $2, withheld_balance = $3, updated_at = NOW()
		WHERE id = $1`,
		p.AccountID, newAvailable, newWithheld,
	); err != nil {
		return nil, fmt.Errorf("update balances: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TransactionsRecorded.WithLabelValues(string(p.Type)).Inc()
	}
	return rec, nil
}

func (s *Store) noteInsufficient() {
	if s.metrics != nil {
		s.metrics.InsufficientFunds.Inc()
	}
}

// AccountForUpdate loads an account row under FOR UPDATE inside tx.
// Lock acquisition order across the core is: order row, client account,
// agent account, slot row.
func AccountForUpdate(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (*Account, error) {
	acct := &Account{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, currency, available_balance, withheld_balance, is_active, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&acct.ID, &acct.UserID, &acct.Currency, &acct.Available, &acct.Withheld,
		&acct.IsActive, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("ledger.account", errs.CodeNotFound, "account %s not found", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

// AccountIDForUserInTx resolves the (user, currency) account id inside
// the caller's transaction, without locking the row.
func AccountIDForUserInTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, currency string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE user_id = $1 AND currency = $2`, userID, currency,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, errs.Newf("ledger.account", errs.CodeNotFound,
			"no %s account for user %s", currency, userID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select account id: %w", err)
	}
	return id, nil
}

// Balances returns the account's available and withheld balances.
func (s *Store) Balances(ctx context.Context, accountID uuid.UUID) (available, withheld int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT available_balance, withheld_balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&available, &withheld)
	if err == sql.ErrNoRows {
		return 0, 0, errs.Newf("ledger.balances", errs.CodeNotFound, "account %s not found", accountID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("select balances: %w", err)
	}
	return available, withheld, nil
}

// Account loads an account without locking it.
func (s *Store) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	acct := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, currency, available_balance, withheld_balance, is_active, created_at, updated_at
		FROM accounts WHERE id = $1`, accountID,
	).Scan(&acct.ID, &acct.UserID, &acct.Currency, &acct.Available, &acct.Withheld,
		&acct.IsActive, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("ledger.account", errs.CodeNotFound, "account %s not found", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

// CreateAccount provisions the (user, currency) account. There is at
// most one; a second create for the same pair fails on the unique index.
func (s *Store) CreateAccount(ctx context.Context, userID uuid.UUID, currency string) (*Account, error) {
	if currency == "" {
		return nil, errs.New("ledger.create_account", errs.CodeInvalid, "currency required")
	}

	acct := &Account{ID: uuid.New(), UserID: userID, Currency: currency, IsActive: true}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, user_id, currency)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		acct.ID, userID, currency,
	).Scan(&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return nil, errs.Newf("ledger.create_account", errs.CodeInvalid,
				"account for user %s in %s already exists", userID, currency)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

// DeactivateAccount flags the account inactive. The row and its
// transaction log are kept forever.
func (s *Store) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf("ledger.deactivate", errs.CodeNotFound, "account %s not found", accountID)
	}
	return nil
}

// Transactions returns a page of the account's ledger, newest first.
func (s *Store) Transactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, transaction_type, from_withheld, reference_id, memo, created_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &t.FromWithheld,
			&t.ReferenceID, &t.Memo, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
