package hold

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/persistence"
)

// Manager coordinates hold placement, adjustment and resolution against
// the ledger. Every multi-leg operation runs inside one SQL transaction;
// a failed leg rolls back the whole placement, so holds are all-or-nothing.
type Manager struct {
	db     *persistence.DB
	ledger *ledger.Store
	log    zerolog.Logger
}

func NewManager(db *persistence.DB, ledgerStore *ledger.Store, log zerolog.Logger) *Manager {
	return &Manager{db: db, ledger: ledgerStore, log: log}
}

// PlaceHoldParams describes a new hold. AgentAccountID and AgentAmount
// are optional; the usual flow places a client-only hold at order
// confirmation and adds the agent leg at assignment via UpdateHold.
type PlaceHoldParams struct {
	OrderID         uuid.UUID
	ClientAccountID uuid.UUID
	ClientAmount    int64
	AgentAccountID  *uuid.UUID
	AgentAmount     int64
	DeliveryFees    int64
	Currency        string
}

func (p *PlaceHoldParams) validate() error {
	if p.ClientAmount <= 0 {
		return errs.New("hold.place", errs.CodeInvalid, "client amount must be positive")
	}
	if p.AgentAmount < 0 || p.DeliveryFees < 0 {
		return errs.New("hold.place", errs.CodeInvalid, "amounts must be non-negative")
	}
	if p.AgentAmount > 0 && p.AgentAccountID == nil {
		return errs.New("hold.place", errs.CodeInvalid, "agent amount requires an agent account")
	}
	if p.Currency == "" {
		return errs.New("hold.place", errs.CodeInvalid, "currency required")
	}
	return nil
}

// PlaceHold reserves funds for an order in its own transaction.
func (m *Manager) PlaceHold(ctx context.Context, p PlaceHoldParams) (*OrderHold, error) {
	var h *OrderHold
	err := m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		var err error
		h, err = m.PlaceHoldInTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// PlaceHoldInTx reserves funds inside the caller's transaction. Locks
// are taken client account first, then agent account.
func (m *Manager) PlaceHoldInTx(ctx context.Context, tx *sql.Tx, p PlaceHoldParams) (*OrderHold, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	existing, err := m.activeHoldForOrder(ctx, tx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Newf("hold.place", errs.CodeHoldActive,
			"order %s already has an active hold", p.OrderID)
	}

	h := &OrderHold{
		ID:              uuid.New(),
		OrderID:         p.OrderID,
		ClientAccountID: p.ClientAccountID,
		AgentAccountID:  p.AgentAccountID,
		ClientAmount:    p.ClientAmount,
		AgentAmount:     p.AgentAmount,
		DeliveryFees:    p.DeliveryFees,
		Currency:        p.Currency,
		Status:          StatusActive,
	}

	if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
		AccountID:   p.ClientAccountID,
		Amount:      p.ClientAmount,
		Type:        ledger.TypeHold,
		ReferenceID: &h.OrderID,
		Memo:        fmt.Sprintf("hold for order %s", p.OrderID),
	}); err != nil {
		return nil, err
	}

	if p.AgentAccountID != nil && p.AgentAmount > 0 {
		if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
			AccountID:   *p.AgentAccountID,
			Amount:      p.AgentAmount,
			Type:        ledger.TypeHold,
			ReferenceID: &h.OrderID,
			Memo:        fmt.Sprintf("agent hold for order %s", p.OrderID),
		}); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO order_holds
			(id, order_id, client_account_id, agent_account_id,
			 client_amount, agent_amount, delivery_fees, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		h.ID, h.OrderID, h.ClientAccountID, h.AgentAccountID,
		h.ClientAmount, h.AgentAmount, h.DeliveryFees, h.Currency, h.Status,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return nil, errs.Newf("hold.place", errs.CodeHoldActive,
				"order %s already has an active hold", p.OrderID)
		}
		return nil, fmt.Errorf("insert hold: %w", err)
	}

	m.log.Info().
		Str("order_id", h.OrderID.String()).
		Int64("client_amount", h.ClientAmount).
		Int64("agent_amount", h.AgentAmount).
		Str("currency", h.Currency).
		Msg("hold placed")
	return h, nil
}

// UpdateHoldParams adjusts leg amounts on an active hold. Nil means
// leave that leg unchanged. AgentAccountID attaches the agent account
// when the hold was placed client-only.
type UpdateHoldParams struct {
	HoldID          uuid.UUID
	NewClientAmount *int64
	NewAgentAmount  *int64
	AgentAccountID  *uuid.UUID
}

// UpdateHold adjusts a hold in its own transaction.
func (m *Manager) UpdateHold(ctx context.Context, p UpdateHoldParams) (*OrderHold, error) {
	var h *OrderHold
	err := m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		var err error
		h, err = m.UpdateHoldInTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// UpdateHoldInTx computes the delta per leg and issues only the
// incremental hold or release transaction, never rebuilding the hold
// amount from scratch.
func (m *Manager) UpdateHoldInTx(ctx context.Context, tx *sql.Tx, p UpdateHoldParams) (*OrderHold, error) {
	h, err := m.holdForUpdate(ctx, tx, p.HoldID)
	if err != nil {
		return nil, err
	}
	if h.Status != StatusActive {
		return nil, errs.Newf("hold.update", errs.CodeAlreadyResolved,
			"hold %s is %s", h.ID, h.Status)
	}

	if p.AgentAccountID != nil {
		if h.AgentAccountID != nil && *h.AgentAccountID != *p.AgentAccountID {
			return nil, errs.New("hold.update", errs.CodeInvalid, "agent account cannot change")
		}
		h.AgentAccountID = p.AgentAccountID
	}

	if p.NewClientAmount != nil {
		if err := m.adjustLeg(ctx, tx, h.ClientAccountID, h.ClientAmount, *p.NewClientAmount, h.OrderID); err != nil {
			return nil, err
		}
		h.ClientAmount = *p.NewClientAmount
	}

	if p.NewAgentAmount != nil {
		if h.AgentAccountID == nil {
			return nil, errs.New("hold.update", errs.CodeInvalid, "no agent account on hold")
		}
		if err := m.adjustLeg(ctx, tx, *h.AgentAccountID, h.AgentAmount, *p.NewAgentAmount, h.OrderID); err != nil {
			return nil, err
		}
		h.AgentAmount = *p.NewAgentAmount
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE order_holds
		SET client_amount = $2, agent_amount = $3, agent_account_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.ClientAmount, h.AgentAmount, h.AgentAccountID,
	).Scan(&h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update hold: %w", err)
	}

	return h, nil
}

// adjustLeg issues the incremental hold (increase) or release (decrease)
// for one account leg.
func (m *Manager) adjustLeg(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, current, target int64, orderID uuid.UUID) error {
	if target < 0 {
		return errs.New("hold.update", errs.CodeInvalid, "hold amount must be non-negative")
	}

	delta := target - current
	if delta == 0 {
		return nil
	}

	params := ledger.TransactionParams{
		AccountID:   accountID,
		ReferenceID: &orderID,
	}
	if delta > 0 {
		params.Amount = delta
		params.Type = ledger.TypeHold
		params.Memo = fmt.Sprintf("hold increase for order %s", orderID)
	} else {
		params.Amount = -delta
		params.Type = ledger.TypeRelease
		params.Memo = fmt.Sprintf("hold decrease for order %s", orderID)
	}

	_, err := m.ledger.RecordInTx(ctx, tx, params)
	return err
}

// ResolveHold resolves a hold in its own transaction.
func (m *Manager) ResolveHold(ctx context.Context, holdID uuid.UUID, outcome Outcome) (*OrderHold, error) {
	var h *OrderHold
	err := m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		var err error
		h, err = m.ResolveHoldInTx(ctx, tx, holdID, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ResolveHoldInTx settles an active hold exactly once. Resolving an
// already-resolved hold returns it unchanged: payment callbacks are
// delivered at least once and a retry must not move funds again.
func (m *Manager) ResolveHoldInTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID, outcome Outcome) (*OrderHold, error) {
	if outcome != OutcomeCapture && outcome != OutcomeRelease {
		return nil, errs.Newf("hold.resolve", errs.CodeInvalid, "unknown outcome %q", outcome)
	}

	h, err := m.holdForUpdate(ctx, tx, holdID)
	if err != nil {
		return nil, err
	}
	if h.Status.Terminal() {
		m.log.Debug().
			Str("hold_id", h.ID.String()).
			Str("status", string(h.Status)).
			Msg("resolve on settled hold, no-op")
		return h, nil
	}

	switch outcome {
	case OutcomeCapture:
		err = m.capture(ctx, tx, h)
		h.Status = StatusCompleted
	case OutcomeRelease:
		err = m.release(ctx, tx, h)
		h.Status = StatusCancelled
	}
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE order_holds SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.Status,
	).Scan(&h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("settle hold: %w", err)
	}

	m.log.Info().
		Str("order_id", h.OrderID.String()).
		Str("outcome", string(outcome)).
		Msg("hold resolved")
	return h, nil
}

// capture consumes the client's held funds as payment, returns the
// agent's security hold, and credits the agent the delivery fees.
func (m *Manager) capture(ctx context.Context, tx *sql.Tx, h *OrderHold) error {
	if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
		AccountID:    h.ClientAccountID,
		Amount:       h.ClientAmount,
		Type:         ledger.TypePayment,
		FromWithheld: true,
		ReferenceID:  &h.OrderID,
		Memo:         fmt.Sprintf("payment for order %s", h.OrderID),
	}); err != nil {
		return err
	}

	if h.AgentAccountID == nil {
		return nil
	}

	if h.AgentAmount > 0 {
		if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
			AccountID:   *h.AgentAccountID,
			Amount:      h.AgentAmount,
			Type:        ledger.TypeRelease,
			ReferenceID: &h.OrderID,
			Memo:        fmt.Sprintf("agent hold returned for order %s", h.OrderID),
		}); err != nil {
			return err
		}
	}

	if h.DeliveryFees > 0 {
		if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
			AccountID:   *h.AgentAccountID,
			Amount:      h.DeliveryFees,
			Type:        ledger.TypeDeposit,
			ReferenceID: &h.OrderID,
			Memo:        fmt.Sprintf("delivery fees for order %s", h.OrderID),
		}); err != nil {
			return err
		}
	}

	return nil
}

// release restores all held funds to the available balances.
func (m *Manager) release(ctx context.Context, tx *sql.Tx, h *OrderHold) error {
	if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
		AccountID:   h.ClientAccountID,
		Amount:      h.ClientAmount,
		Type:        ledger.TypeRelease,
		ReferenceID: &h.OrderID,
		Memo:        fmt.Sprintf("hold released for order %s", h.OrderID),
	}); err != nil {
		return err
	}

	if h.AgentAccountID != nil && h.AgentAmount > 0 {
		if _, err := m.ledger.RecordInTx(ctx, tx, ledger.TransactionParams{
			AccountID:   *h.AgentAccountID,
			Amount:      h.AgentAmount,
			Type:        ledger.TypeRelease,
			ReferenceID: &h.OrderID,
			Memo:        fmt.Sprintf("agent hold released for order %s", h.OrderID),
		}); err != nil {
			return err
		}
	}

	return nil
}

// HoldForOrder returns the order's hold, resolved or not.
func (m *Manager) HoldForOrder(ctx context.Context, orderID uuid.UUID) (*OrderHold, error) {
	h := &OrderHold{}
	err := m.db.QueryRowContext(ctx, holdSelect+` WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID).
		Scan(holdDest(h)...)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("hold.get", errs.CodeNotFound, "no hold for order %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("select hold: %w", err)
	}
	return h, nil
}

// ActiveHoldForOrderInTx is the state machine's lookup inside its own
// transaction; returns nil when the order has no active hold.
func (m *Manager) ActiveHoldForOrderInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*OrderHold, error) {
	return m.activeHoldForOrder(ctx, tx, orderID)
}

// LatestHoldForOrderInTx returns the order's most recent hold in any
// status, locked, or nil when the order never had one.
func (m *Manager) LatestHoldForOrderInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*OrderHold, error) {
	h := &OrderHold{}
	err := tx.QueryRowContext(ctx, holdSelect+` WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, orderID).
		Scan(holdDest(h)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select hold: %w", err)
	}
	return h, nil
}

const holdSelect = `
	SELECT id, order_id, client_account_id, agent_account_id,
	       client_amount, agent_amount, delivery_fees, currency, status,
	       created_at, updated_at
	FROM order_holds`

func holdDest(h *OrderHold) []any {
	return []any{
		&h.ID, &h.OrderID, &h.ClientAccountID, &h.AgentAccountID,
		&h.ClientAmount, &h.AgentAmount, &h.DeliveryFees, &h.Currency, &h.Status,
		&h.CreatedAt, &h.UpdatedAt,
	}
}

func (m *Manager) holdForUpdate(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (*OrderHold, error) {
	h := &OrderHold{}
	err := tx.QueryRowContext(ctx, holdSelect+` WHERE id = $1 FOR UPDATE`, holdID).
		Scan(holdDest(h)...)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("hold.get", errs.CodeNotFound, "hold %s not found", holdID)
	}
	if err != nil {
		return nil, fmt.Errorf("select hold: %w", err)
	}
	return h, nil
}

func (m *Manager) activeHoldForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*OrderHold, error) {
	h := &OrderHold{}
	err := tx.QueryRowContext(ctx, holdSelect+` WHERE order_id = $1 AND status = 'active' FOR UPDATE`, orderID).
		Scan(holdDest(h)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select active hold: %w", err)
	}
	return h, nil
}
