package slot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/persistence"
)

// ReservationLeadTime is the minimum gap between now and a slot's start
// for the slot to be offered to clients.
const ReservationLeadTime = 2 * time.Hour

// Manager owns slot reservations. The count-then-insert in Reserve
// holds the slot row lock across both steps, so two reservations racing
// for the last unit serialize and exactly one wins.
type Manager struct {
	db  *persistence.DB
	log zerolog.Logger
}

func NewManager(db *persistence.DB, log zerolog.Logger) *Manager {
	return &Manager{db: db, log: log}
}

// Reserve books one capacity unit of (slotID, date) for the order, in
// its own transaction.
func (m *Manager) Reserve(ctx context.Context, slotID uuid.UUID, date time.Time, orderID uuid.UUID, instructions string) (*DeliveryTimeWindow, error) {
	var w *DeliveryTimeWindow
	err := m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = m.ReserveInTx(ctx, tx, slotID, date, orderID, instructions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ReserveInTx books a capacity unit inside the caller's transaction.
// The slot row is locked first; the window count for (slot, date) is
// then stable until commit.
func (m *Manager) ReserveInTx(ctx context.Context, tx *sql.Tx, slotID uuid.UUID, date time.Time, orderID uuid.UUID, instructions string) (*DeliveryTimeWindow, error) {
	s, err := slotForUpdate(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, errs.Newf("slot.reserve", errs.CodeInvalid, "slot %s is inactive", slotID)
	}

	var booked int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM delivery_time_windows
		WHERE slot_id = $1 AND preferred_date = $2 AND NOT is_cancelled`,
		slotID, date,
	).Scan(&booked)
	if err != nil {
		return nil, fmt.Errorf("count windows: %w", err)
	}

	if booked >= s.MaxOrdersPerSlot {
		return nil, errs.Newf("slot.reserve", errs.CodeSlotFull,
			"slot %s on %s is full (%d/%d)", s.Name, date.Format("2006-01-02"), booked, s.MaxOrdersPerSlot)
	}

	w := &DeliveryTimeWindow{
		ID:                  uuid.New(),
		OrderID:             orderID,
		SlotID:              slotID,
		PreferredDate:       date,
		TimeSlotStart:       s.StartTime,
		TimeSlotEnd:         s.EndTime,
		SpecialInstructions: instructions,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO delivery_time_windows
			(id, order_id, slot_id, preferred_date, time_slot_start, time_slot_end, special_instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		w.ID, w.OrderID, w.SlotID, w.PreferredDate, w.TimeSlotStart, w.TimeSlotEnd, w.SpecialInstructions,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert window: %w", err)
	}

	m.log.Info().
		Str("slot_id", slotID.String()).
		Str("order_id", orderID.String()).
		Str("date", date.Format("2006-01-02")).
		Int("booked", booked+1).
		Int("capacity", s.MaxOrdersPerSlot).
		Msg("slot reserved")
	return w, nil
}

// Confirm marks the window confirmed. Capacity was already counted at
// reservation time, so no re-check happens here.
func (m *Manager) Confirm(ctx context.Context, windowID, confirmingUserID uuid.UUID) (*DeliveryTimeWindow, error) {
	var w *DeliveryTimeWindow
	err := m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		found, err := windowForUpdate(ctx, tx, windowID)
		if err != nil {
			return err
		}
		if found.IsCancelled {
			return errs.Newf("slot.confirm", errs.CodeInvalid, "window %s is cancelled", windowID)
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE delivery_time_windows
			SET is_confirmed = TRUE, confirmed_by = $2, confirmed_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING confirmed_at, updated_at`,
			windowID, confirmingUserID,
		).Scan(&found.ConfirmedAt, &found.UpdatedAt)
		if err != nil {
			return fmt.Errorf("confirm window: %w", err)
		}
		found.IsConfirmed = true
		found.ConfirmedBy = &confirmingUserID
		w = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Release cancels the window so it stops counting toward capacity, in
// its own transaction.
func (m *Manager) Release(ctx context.Context, windowID uuid.UUID) error {
	return m.db.InTxRetry(ctx, func(tx *sql.Tx) error {
		return m.ReleaseInTx(ctx, tx, windowID)
	})
}

// ReleaseInTx cancels the window inside the caller's transaction.
// Releasing an already-cancelled window is a no-op. A window whose
// order already delivered is frozen: its capacity unit was consumed.
func (m *Manager) ReleaseInTx(ctx context.Context, tx *sql.Tx, windowID uuid.UUID) error {
	var orderStatus string
	err := tx.QueryRowContext(ctx, `
		SELECT o.current_status
		FROM delivery_time_windows w
		JOIN orders o ON o.id = w.order_id
		WHERE w.id = $1`, windowID).Scan(&orderStatus)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select window order: %w", err)
	}
	if orderStatus == "delivered" {
		return errs.Newf("slot.release", errs.CodeInvalid,
			"window %s belongs to a delivered order", windowID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE delivery_time_windows
		SET is_cancelled = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT is_cancelled`, windowID)
	if err != nil {
		return fmt.Errorf("release window: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		m.log.Info().Str("window_id", windowID.String()).Msg("slot window released")
	}
	return nil
}

// WindowForOrderInTx returns the order's non-cancelled window, or nil.
func (m *Manager) WindowForOrderInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*DeliveryTimeWindow, error) {
	w := &DeliveryTimeWindow{}
	err := tx.QueryRowContext(ctx, windowSelect+`
		WHERE order_id = $1 AND NOT is_cancelled
		ORDER BY created_at DESC LIMIT 1`, orderID).
		Scan(windowDest(w)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select window: %w", err)
	}
	return w, nil
}

// Capacity reports the booking pressure for (slotID, date). Read-only.
func (m *Manager) Capacity(ctx context.Context, slotID uuid.UUID, date time.Time) (*SlotCapacity, error) {
	cap := &SlotCapacity{SlotID: slotID, Date: date}
	err := m.db.QueryRowContext(ctx, `
		SELECT s.max_orders_per_slot,
		       (SELECT COUNT(*) FROM delivery_time_windows w
		        WHERE w.slot_id = s.id AND w.preferred_date = $2 AND NOT w.is_cancelled)
		FROM delivery_time_slots s WHERE s.id = $1`,
		slotID, date,
	).Scan(&cap.TotalCapacity, &cap.BookedCount)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("slot.capacity", errs.CodeNotFound, "slot %s not found", slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("select capacity: %w", err)
	}

	cap.AvailableCapacity = cap.TotalCapacity - cap.BookedCount
	if cap.AvailableCapacity < 0 {
		cap.AvailableCapacity = 0
	}
	return cap, nil
}

// AvailabilityQuery scopes an AvailableSlots report.
type AvailabilityQuery struct {
	CountryCode  string
	State        string
	Date         time.Time
	FastDelivery bool
	Now          time.Time
	Location     *time.Location
}

// AvailableSlots lists active slots for the location and date with
// remaining capacity, filtering out slots starting within the lead time.
func (m *Manager) AvailableSlots(ctx context.Context, q AvailabilityQuery) ([]AvailableSlot, error) {
	slotType := TypeStandard
	if q.FastDelivery {
		slotType = TypeFast
	}
	if q.Location == nil {
		q.Location = time.UTC
	}
	if q.Now.IsZero() {
		q.Now = time.Now()
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT s.id, s.country_code, s.state, s.slot_name, s.slot_type,
		       s.start_time, s.end_time, s.max_orders_per_slot, s.is_active, s.display_order,
		       (SELECT COUNT(*) FROM delivery_time_windows w
		        WHERE w.slot_id = s.id AND w.preferred_date = $4 AND NOT w.is_cancelled)
		FROM delivery_time_slots s
		WHERE s.country_code = $1 AND s.state = $2 AND s.slot_type = $3 AND s.is_active
		ORDER BY s.display_order`,
		q.CountryCode, q.State, slotType, q.Date)
	if err != nil {
		return nil, fmt.Errorf("select slots: %w", err)
	}
	defer rows.Close()

	var out []AvailableSlot
	for rows.Next() {
		var a AvailableSlot
		var booked int
		if err := rows.Scan(&a.ID, &a.CountryCode, &a.State, &a.Name, &a.Type,
			&a.StartTime, &a.EndTime, &a.MaxOrdersPerSlot, &a.IsActive, &a.DisplayOrder,
			&booked); err != nil {
			return nil, err
		}

		a.AvailableCapacity = a.MaxOrdersPerSlot - booked
		if a.AvailableCapacity < 0 {
			a.AvailableCapacity = 0
		}
		a.IsAvailable = a.AvailableCapacity > 0 &&
			slotStartsAfter(q.Date, a.StartTime, q.Location, q.Now.Add(ReservationLeadTime))
		out = append(out, a)
	}
	return out, rows.Err()
}

// slotStartsAfter reports whether the slot's start on the given date,
// interpreted in loc, is at or after cutoff.
func slotStartsAfter(date time.Time, startTime string, loc *time.Location, cutoff time.Time) bool {
	t, err := time.Parse("15:04:05", startTime)
	if err != nil {
		if t, err = time.Parse("15:04", startTime); err != nil {
			return false
		}
	}
	start := time.Date(date.Year(), date.Month(), date.Day(),
		t.Hour(), t.Minute(), 0, 0, loc)
	return !start.Before(cutoff)
}

const windowSelect = `
	SELECT id, order_id, slot_id, preferred_date, time_slot_start, time_slot_end,
	       is_confirmed, confirmed_by, confirmed_at, is_cancelled, special_instructions,
	       created_at, updated_at
	FROM delivery_time_windows`

func windowDest(w *DeliveryTimeWindow) []any {
	return []any{
		&w.ID, &w.OrderID, &w.SlotID, &w.PreferredDate, &w.TimeSlotStart, &w.TimeSlotEnd,
		&w.IsConfirmed, &w.ConfirmedBy, &w.ConfirmedAt, &w.IsCancelled, &w.SpecialInstructions,
		&w.CreatedAt, &w.UpdatedAt,
	}
}

func slotForUpdate(ctx context.Context, tx *sql.Tx, slotID uuid.UUID) (*DeliveryTimeSlot, error) {
	s := &DeliveryTimeSlot{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, country_code, state, slot_name, slot_type, start_time, end_time,
		       max_orders_per_slot, is_active, display_order
		FROM delivery_time_slots WHERE id = $1 FOR UPDATE`, slotID).
		Scan(&s.ID, &s.CountryCode, &s.State, &s.Name, &s.Type, &s.StartTime, &s.EndTime,
			&s.MaxOrdersPerSlot, &s.IsActive, &s.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("slot.get", errs.CodeNotFound, "slot %s not found", slotID)
	}
	if err != nil {
		return nil, fmt.Errorf("select slot: %w", err)
	}
	return s, nil
}

func windowForUpdate(ctx context.Context, tx *sql.Tx, windowID uuid.UUID) (*DeliveryTimeWindow, error) {
	w := &DeliveryTimeWindow{}
	err := tx.QueryRowContext(ctx, windowSelect+` WHERE id = $1 FOR UPDATE`, windowID).
		Scan(windowDest(w)...)
	if err == sql.ErrNoRows {
		return nil, errs.Newf("slot.window", errs.CodeNotFound, "window %s not found", windowID)
	}
	if err != nil {
		return nil, fmt.Errorf("select window: %w", err)
	}
	return w, nil
}
