package slot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/observability"
	"CourierLedger/internal/persistence"
	"CourierLedger/internal/slot"
	"CourierLedger/internal/testutil"
)

type slotFixture struct {
	db      *persistence.DB
	manager *slot.Manager
}

func newSlotFixture(t *testing.T) (*slotFixture, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	return &slotFixture{
		db:      db,
		manager: slot.NewManager(db, observability.NewLogger("slot-test")),
	}, cleanup
}

func (f *slotFixture) seedSlot(t *testing.T, name string, slotType slot.SlotType, capacity int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.db.Exec(`
		INSERT INTO delivery_time_slots
			(id, country_code, state, slot_name, slot_type, start_time, end_time, max_orders_per_slot, is_active, display_order)
		VALUES ($1, 'UG', 'Kampala', $2, $3, '09:00:00', '12:00:00', $4, TRUE, 1)`,
		id, name, slotType, capacity)
	if err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return id
}

func (f *slotFixture) seedOrder(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.db.Exec(`
		INSERT INTO orders
			(id, order_number, client_id, business_id, business_location_id, delivery_address_id,
			 subtotal, base_delivery_fee, per_km_delivery_fee, tax_amount, total_amount, currency, current_status)
		VALUES ($1, $2, $3, $4, $5, $6, 1000, 0, 0, 0, 1000, 'UGX', 'confirmed')`,
		id, "ORD-TEST-"+id.String()[:8], uuid.New(), uuid.New(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return id
}

func TestReserveUpToCapacity(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	slotID := f.seedSlot(t, "morning", slot.TypeStandard, 2)
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	if _, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), ""); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), "leave at gate"); err != nil {
		t.Fatalf("second reserve: %v", err)
	}

	_, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), "")
	if !errs.IsCode(err, errs.CodeSlotFull) {
		t.Fatalf("third reserve: want SlotFull, got %v", err)
	}

	// The same slot on another date is untouched.
	nextDay := date.AddDate(0, 0, 1)
	if _, err := f.manager.Reserve(ctx, slotID, nextDay, f.seedOrder(t), ""); err != nil {
		t.Fatalf("reserve next day: %v", err)
	}
}

// Many reservations racing for the last unit: exactly one wins.
func TestReserveLastSeatRace(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	slotID := f.seedSlot(t, "evening", slot.TypeStandard, 1)
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	orders := make([]uuid.UUID, 4)
	for i := range orders {
		orders[i] = f.seedOrder(t)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(orders))
	for _, orderID := range orders {
		wg.Add(1)
		go func(orderID uuid.UUID) {
			defer wg.Done()
			_, err := f.manager.Reserve(ctx, slotID, date, orderID, "")
			results <- err
		}(orderID)
	}
	wg.Wait()
	close(results)

	var wins, slotFull int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errs.IsCode(err, errs.CodeSlotFull):
			slotFull++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if wins+slotFull != len(orders) {
		t.Errorf("wins+slotFull = %d, want %d", wins+slotFull, len(orders))
	}

	cap, err := f.manager.Capacity(ctx, slotID, date)
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if cap.BookedCount != 1 || cap.AvailableCapacity != 0 {
		t.Errorf("capacity booked=%d available=%d, want 1/0", cap.BookedCount, cap.AvailableCapacity)
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	slotID := f.seedSlot(t, "noon", slot.TypeStandard, 1)
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	w, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), ""); !errs.IsCode(err, errs.CodeSlotFull) {
		t.Fatalf("want SlotFull, got %v", err)
	}

	if err := f.manager.Release(ctx, w.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Releasing again is tolerated.
	if err := f.manager.Release(ctx, w.ID); err != nil {
		t.Fatalf("second release: %v", err)
	}

	if _, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), ""); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

// A delivered order's window consumed its capacity unit for good; the
// release endpoint cannot cancel it afterwards.
func TestReleaseRejectsDeliveredOrder(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	slotID := f.seedSlot(t, "noon", slot.TypeStandard, 1)
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	orderID := f.seedOrder(t)
	w, err := f.manager.Reserve(ctx, slotID, date, orderID, "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.db.Exec(`UPDATE orders SET current_status = 'delivered' WHERE id = $1`, orderID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	if err := f.manager.Release(ctx, w.ID); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("release after delivery: want Invalid, got %v", err)
	}

	// The window still counts toward the slot's capacity.
	cap, err := f.manager.Capacity(ctx, slotID, date)
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if cap.BookedCount != 1 || cap.AvailableCapacity != 0 {
		t.Errorf("capacity booked=%d available=%d, want 1/0", cap.BookedCount, cap.AvailableCapacity)
	}
}

func TestConfirmWindow(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	slotID := f.seedSlot(t, "morning", slot.TypeStandard, 3)
	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	w, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	operator := uuid.New()
	confirmed, err := f.manager.Confirm(ctx, w.ID, operator)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.IsConfirmed {
		t.Error("window should be confirmed")
	}
	if confirmed.ConfirmedBy == nil || *confirmed.ConfirmedBy != operator {
		t.Error("confirmed_by should record the operator")
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("confirmed_at should be set")
	}

	// A cancelled window cannot be confirmed.
	w2, err := f.manager.Reserve(ctx, slotID, date, f.seedOrder(t), "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.manager.Release(ctx, w2.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.manager.Confirm(ctx, w2.ID, operator); !errs.IsCode(err, errs.CodeInvalid) {
		t.Errorf("confirm cancelled window: want Invalid, got %v", err)
	}
}

func TestAvailableSlots(t *testing.T) {
	f, cleanup := newSlotFixture(t)
	defer cleanup()
	ctx := context.Background()

	standardID := f.seedSlot(t, "morning", slot.TypeStandard, 2)
	f.seedSlot(t, "express", slot.TypeFast, 5)

	date := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if _, err := f.manager.Reserve(ctx, standardID, date, f.seedOrder(t), ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Query the evening before; the 09:00 start is outside the lead time.
	now := time.Date(2026, 9, 14, 18, 0, 0, 0, time.UTC)
	slots, err := f.manager.AvailableSlots(ctx, slot.AvailabilityQuery{
		CountryCode: "UG",
		State:       "Kampala",
		Date:        date,
		Now:         now,
		Location:    time.UTC,
	})
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d standard slots, want 1", len(slots))
	}
	if slots[0].AvailableCapacity != 1 {
		t.Errorf("available capacity = %d, want 1", slots[0].AvailableCapacity)
	}
	if !slots[0].IsAvailable {
		t.Error("slot should be available the evening before")
	}

	// At 08:00 the same morning the 09:00 slot is inside the 2h lead time.
	slots, err = f.manager.AvailableSlots(ctx, slot.AvailabilityQuery{
		CountryCode: "UG",
		State:       "Kampala",
		Date:        date,
		Now:         time.Date(2026, 9, 15, 8, 0, 0, 0, time.UTC),
		Location:    time.UTC,
	})
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 1 || slots[0].IsAvailable {
		t.Error("slot inside lead time should not be available")
	}

	// Fast delivery returns the fast slot only.
	fast, err := f.manager.AvailableSlots(ctx, slot.AvailabilityQuery{
		CountryCode:  "UG",
		State:        "Kampala",
		Date:         date,
		FastDelivery: true,
		Now:          now,
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("available fast slots: %v", err)
	}
	if len(fast) != 1 || fast[0].Type != slot.TypeFast {
		t.Errorf("fast query returned %d slots", len(fast))
	}
}
