package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/events"
	"CourierLedger/internal/hold"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/observability"
	"CourierLedger/internal/persistence"
	"CourierLedger/internal/slot"
)

// Service validates and applies order transitions. A transition, its
// status-history row, and its hold/slot side effects run in one SQL
// transaction; if any side effect fails the status write rolls back, so
// the order status never diverges from the ledger and slot state it
// implies.
//
// Lock acquisition order: order row, client account, agent account,
// slot row.
type Service struct {
	db      *persistence.DB
	holds   *hold.Manager
	slots   *slot.Manager
	holdPct hold.PercentageConfig
	metrics *observability.Metrics
	pub     *events.Publisher
	log     zerolog.Logger
}

func NewService(
	db *persistence.DB,
	holds *hold.Manager,
	slots *slot.Manager,
	holdPct hold.PercentageConfig,
	metrics *observability.Metrics,
	pub *events.Publisher,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:      db,
		holds:   holds,
		slots:   slots,
		holdPct: holdPct,
		metrics: metrics,
		pub:     pub,
		log:     log,
	}
}

// CreateOrderParams is a client order submission. Line totals arrive
// already validated by the catalog layer; the core only re-checks the
// breakdown sum.
type CreateOrderParams struct {
	ClientID           uuid.UUID
	BusinessID         uuid.UUID
	BusinessLocationID uuid.UUID
	DeliveryAddressID  uuid.UUID
	Subtotal           int64
	BaseDeliveryFee    int64
	PerKmDeliveryFee   int64
	TaxAmount          int64
	TotalAmount        int64
	Currency           string
}

// CreateOrder inserts a new order in pending_payment.
func (s *Service) CreateOrder(ctx context.Context, p CreateOrderParams) (*Order, error) {
	o := &Order{
		ID:                 uuid.New(),
		ClientID:           p.ClientID,
		BusinessID:         p.BusinessID,
		BusinessLocationID: p.BusinessLocationID,
		DeliveryAddressID:  p.DeliveryAddressID,
		Subtotal:           p.Subtotal,
		BaseDeliveryFee:    p.BaseDeliveryFee,
		PerKmDeliveryFee:   p.PerKmDeliveryFee,
		TaxAmount:          p.TaxAmount,
		TotalAmount:        p.TotalAmount,
		Currency:           p.Currency,
		CurrentStatus:      StatusPendingPayment,
	}
	o.OrderNumber = NewOrderNumber(o.ID, time.Now())

	if err := o.CheckTotals(); err != nil {
		return nil, err
	}
	if o.TotalAmount <= 0 {
		return nil, errs.New("order.create", errs.CodeInvalid, "total must be positive")
	}
	if o.Currency == "" {
		return nil, errs.New("order.create", errs.CodeInvalid, "currency required")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO orders
			(id, order_number, client_id, business_id, business_location_id, delivery_address_id,
			 subtotal, base_delivery_fee, per_km_delivery_fee, tax_amount, total_amount,
			 currency, current_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, o.ClientID, o.BusinessID, o.BusinessLocationID, o.DeliveryAddressID,
		o.Subtotal, o.BaseDeliveryFee, o.PerKmDeliveryFee, o.TaxAmount, o.TotalAmount,
		o.Currency, o.CurrentStatus,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	s.log.Info().
		Str("order_id", o.ID.String()).
		Str("order_number", o.OrderNumber).
		Int64("total", o.TotalAmount).
		Str("currency", o.Currency).
		Msg("order created")
	return o, nil
}

// WindowRequest asks for a delivery window to be reserved when the
// order is confirmed.
type WindowRequest struct {
	SlotID              uuid.UUID
	PreferredDate       time.Time
	SpecialInstructions string
}

// AgentAssignment identifies the courier taking the order and the tier
// that sizes their security hold.
type AgentAssignment struct {
	AgentID uuid.UUID
	Tier    hold.AgentTier
}

// TransitionParams describes one requested status change.
type TransitionParams struct {
	OrderID  uuid.UUID
	Target   Status
	Actor    Actor
	Notes    string
	Location *Geo

	// Window is consumed entering confirmed; Agent entering assigned.
	Window *WindowRequest
	Agent  *AgentAssignment
}

// Transition validates and applies one status change with its side
// effects, returning the updated order.
func (s *Service) Transition(ctx context.Context, p TransitionParams) (*Order, error) {
	start := time.Now()

	var o *Order
	var prev Status
	err := s.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		var err error
		o, prev, err = s.transitionInTx(ctx, tx, p)
		return err
	})

	if s.metrics != nil {
		s.metrics.TransitionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			reason := string(errs.CodeOf(err))
			if reason == "" {
				reason = "internal"
			}
			s.metrics.TransitionsRejected.WithLabelValues(string(p.Target), reason).Inc()
		} else {
			s.metrics.TransitionsApplied.WithLabelValues(string(prev), string(p.Target)).Inc()
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", o.ID.String()).
		Str("from", string(prev)).
		Str("to", string(o.CurrentStatus)).
		Str("actor_type", string(p.Actor.Type)).
		Msg("order transitioned")

	if s.pub != nil {
		s.pub.PublishStatusChange(ctx, events.StatusChanged{
			OrderID:        o.ID,
			OrderNumber:    o.OrderNumber,
			PreviousStatus: string(prev),
			NewStatus:      string(o.CurrentStatus),
			ActorType:      string(p.Actor.Type),
			ActorID:        p.Actor.ID,
			Timestamp:      time.Now().UTC(),
		})
	}
	return o, nil
}

func (s *Service) transitionInTx(ctx context.Context, tx *sql.Tx, p TransitionParams) (*Order, Status, error) {
	o, err := orderForUpdate(ctx, tx, p.OrderID)
	if err != nil {
		return nil, "", err
	}
	prev := o.CurrentStatus

	if err := ValidateTransition(prev, p.Target); err != nil {
		return nil, prev, err
	}

	switch p.Target {
	case StatusConfirmed:
		err = s.applyConfirmed(ctx, tx, o, p.Window)
	case StatusAssigned:
		err = s.applyAssigned(ctx, tx, o, p.Agent)
	case StatusDelivered:
		err = s.applyDelivered(ctx, tx, o)
	case StatusCancelled, StatusFailed:
		err = s.applyTerminated(ctx, tx, o)
	}
	if err != nil {
		return nil, prev, err
	}

	if err := insertHistory(ctx, tx, o.ID, prev, p); err != nil {
		return nil, prev, err
	}

	o.CurrentStatus = p.Target
	err = tx.QueryRowContext(ctx, `
		UPDATE orders
		SET current_status = $2, assigned_agent_id = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.CurrentStatus, o.AssignedAgentID,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return nil, prev, fmt.Errorf("update order status: %w", err)
	}

	return o, prev, nil
}

// applyConfirmed places the client hold for the order total and, when a
// window was requested, reserves the slot unit. Client account is
// locked before the slot row. SlotFull aborts the whole transition and
// the order stays pending_payment.
func (s *Service) applyConfirmed(ctx context.Context, tx *sql.Tx, o *Order, w *WindowRequest) error {
	clientAcct, err := ledger.AccountIDForUserInTx(ctx, tx, o.ClientID, o.Currency)
	if err != nil {
		return err
	}

	if _, err := s.holds.PlaceHoldInTx(ctx, tx, hold.PlaceHoldParams{
		OrderID:         o.ID,
		ClientAccountID: clientAcct,
		ClientAmount:    o.TotalAmount,
		DeliveryFees:    o.DeliveryFees(),
		Currency:        o.Currency,
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.HoldsPlaced.Inc()
	}

	if w != nil {
		if _, err := s.slots.ReserveInTx(ctx, tx, w.SlotID, w.PreferredDate, o.ID, w.SpecialInstructions); err != nil {
			if s.metrics != nil && errs.IsCode(err, errs.CodeSlotFull) {
				s.metrics.SlotFullRejected.Inc()
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.SlotReservations.Inc()
		}
	}

	return nil
}

// applyAssigned attaches the courier and adds their security hold leg,
// sized by tier percentage of the order total.
func (s *Service) applyAssigned(ctx context.Context, tx *sql.Tx, o *Order, a *AgentAssignment) error {
	if a == nil {
		return errs.New("order.transition", errs.CodeInvalid, "assignment requires an agent")
	}

	agentAcct, err := ledger.AccountIDForUserInTx(ctx, tx, a.AgentID, o.Currency)
	if err != nil {
		return err
	}

	h, err := s.holds.ActiveHoldForOrderInTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	if h == nil {
		return errs.Newf("order.transition", errs.CodeNotFound, "no active hold for order %s", o.ID)
	}

	agentAmount := hold.AgentHoldAmount(o.TotalAmount, hold.PercentageFor(a.Tier, s.holdPct))
	if _, err := s.holds.UpdateHoldInTx(ctx, tx, hold.UpdateHoldParams{
		HoldID:         h.ID,
		NewAgentAmount: &agentAmount,
		AgentAccountID: &agentAcct,
	}); err != nil {
		return err
	}

	o.AssignedAgentID = &a.AgentID
	return nil
}

// applyDelivered captures the hold: the client pays, the agent's hold
// returns, and the agent is credited the delivery fees.
func (s *Service) applyDelivered(ctx context.Context, tx *sql.Tx, o *Order) error {
	h, err := s.holds.LatestHoldForOrderInTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	if h == nil {
		return errs.Newf("order.transition", errs.CodeNotFound, "no hold for order %s", o.ID)
	}

	if _, err := s.holds.ResolveHoldInTx(ctx, tx, h.ID, hold.OutcomeCapture); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.HoldsResolved.WithLabelValues(string(hold.OutcomeCapture)).Inc()
	}
	return nil
}

// applyTerminated releases whatever the order reserved: held funds and
// the slot window. An order cancelled before confirmation has neither,
// and both releases tolerate that.
func (s *Service) applyTerminated(ctx context.Context, tx *sql.Tx, o *Order) error {
	h, err := s.holds.LatestHoldForOrderInTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	if h != nil {
		if _, err := s.holds.ResolveHoldInTx(ctx, tx, h.ID, hold.OutcomeRelease); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.HoldsResolved.WithLabelValues(string(hold.OutcomeRelease)).Inc()
		}
	}

	w, err := s.slots.WindowForOrderInTx(ctx, tx, o.ID)
	if err != nil {
		return err
	}
	if w != nil {
		if err := s.slots.ReleaseInTx(ctx, tx, w.ID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SlotReleases.Inc()
		}
	}

	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, prev Status, p TransitionParams) error {
	var lat, lng *float64
	if p.Location != nil {
		lat, lng = &p.Location.Latitude, &p.Location.Longitude
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history
			(id, order_id, previous_status, new_status, actor_type, actor_id, latitude, longitude, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), orderID, prev, p.Target, p.Actor.Type, p.Actor.ID, lat, lng, p.Notes)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// Get loads an order without locking it.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o := &Order{}
	err := s.db.QueryRowContext(ctx, orderSelect+` WHERE id = $1`, orderID).Scan(orderDest(o)...)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("order.get", errs.CodeNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}

// History returns the order's transition audit trail, oldest first.
func (s *Service) History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, previous_status, new_status, actor_type, actor_id,
		       latitude, longitude, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus,
			&h.ActorType, &h.ActorID, &h.Latitude, &h.Longitude, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const orderSelect = `
	SELECT id, order_number, client_id, business_id, business_location_id, delivery_address_id,
	       assigned_agent_id, subtotal, base_delivery_fee, per_km_delivery_fee, tax_amount,
	       total_amount, currency, current_status, created_at, updated_at
	FROM orders`

func orderDest(o *Order) []any {
	return []any{
		&o.ID, &o.OrderNumber, &o.ClientID, &o.BusinessID, &o.BusinessLocationID, &o.DeliveryAddressID,
		&o.AssignedAgentID, &o.Subtotal, &o.BaseDeliveryFee, &o.PerKmDeliveryFee, &o.TaxAmount,
		&o.TotalAmount, &o.Currency, &o.CurrentStatus, &o.CreatedAt, &o.UpdatedAt,
	}
}

func orderForUpdate(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*Order, error) {
	o := &Order{}
	err := tx.QueryRowContext(ctx, orderSelect+` WHERE id = $1 FOR UPDATE`, orderID).Scan(orderDest(o)...)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("order.get", errs.CodeNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}
