package hold_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/hold"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/observability"
	"CourierLedger/internal/persistence"
	"CourierLedger/internal/testutil"
)

type holdFixture struct {
	db      *persistence.DB
	ledger  *ledger.Store
	manager *hold.Manager
}

func newHoldFixture(t *testing.T) (*holdFixture, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	store := ledger.NewStore(db, nil)
	return &holdFixture{
		db:      db,
		ledger:  store,
		manager: hold.NewManager(db, store, observability.NewLogger("hold-test")),
	}, cleanup
}

func (f *holdFixture) fundedAccount(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acct, err := f.ledger.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if amount > 0 {
		if _, err := f.ledger.RecordTransaction(ctx, ledger.TransactionParams{
			AccountID: acct.ID, Amount: amount, Type: ledger.TypeDeposit,
		}); err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}
	return acct.ID
}

// seedOrder inserts a bare order row so hold foreign keys resolve.
func (f *holdFixture) seedOrder(t *testing.T, total int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.db.Exec(`
		INSERT INTO orders
			(id, order_number, client_id, business_id, business_location_id, delivery_address_id,
			 subtotal, base_delivery_fee, per_km_delivery_fee, tax_amount, total_amount, currency, current_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, $7, 'UGX', 'confirmed')`,
		id, "ORD-TEST-"+id.String()[:8], uuid.New(), uuid.New(), uuid.New(), uuid.New(), total)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return id
}

func (f *holdFixture) balances(t *testing.T, accountID uuid.UUID) (int64, int64) {
	t.Helper()
	available, withheld, err := f.ledger.Balances(context.Background(), accountID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	return available, withheld
}

// A client order of 10000 with 1000 delivery fees, carried by an
// unverified courier who posts a full-order security hold. Capture pays
// the client's hold out, returns the agent's, and credits the fees.
func TestHoldCaptureScenario(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 20_000)
	agentAcct := f.fundedAccount(t, 15_000)
	orderID := f.seedOrder(t, 11_000)

	h, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID:         orderID,
		ClientAccountID: clientAcct,
		ClientAmount:    11_000,
		AgentAccountID:  &agentAcct,
		AgentAmount:     11_000,
		DeliveryFees:    1_000,
		Currency:        "UGX",
	})
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}
	if h.Status != hold.StatusActive {
		t.Fatalf("hold status = %s, want active", h.Status)
	}

	if a, w := f.balances(t, clientAcct); a != 9_000 || w != 11_000 {
		t.Errorf("client after hold: %d/%d, want 9000/11000", a, w)
	}
	if a, w := f.balances(t, agentAcct); a != 4_000 || w != 11_000 {
		t.Errorf("agent after hold: %d/%d, want 4000/11000", a, w)
	}

	resolved, err := f.manager.ResolveHold(ctx, h.ID, hold.OutcomeCapture)
	if err != nil {
		t.Fatalf("resolve capture: %v", err)
	}
	if resolved.Status != hold.StatusCompleted {
		t.Errorf("resolved status = %s, want completed", resolved.Status)
	}

	// Client paid the full order amount out of the held funds.
	if a, w := f.balances(t, clientAcct); a != 9_000 || w != 0 {
		t.Errorf("client after capture: %d/%d, want 9000/0", a, w)
	}
	// Agent's security hold returned, plus the delivery fees.
	if a, w := f.balances(t, agentAcct); a != 16_000 || w != 0 {
		t.Errorf("agent after capture: %d/%d, want 16000/0", a, w)
	}
}

// Releasing a hold restores every balance to what it was before the
// hold, exactly.
func TestHoldReleaseRoundTrip(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 20_000)
	agentAcct := f.fundedAccount(t, 15_000)
	orderID := f.seedOrder(t, 11_000)

	h, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID:         orderID,
		ClientAccountID: clientAcct,
		ClientAmount:    11_000,
		AgentAccountID:  &agentAcct,
		AgentAmount:     8_800,
		DeliveryFees:    1_000,
		Currency:        "UGX",
	})
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}

	if _, err := f.manager.ResolveHold(ctx, h.ID, hold.OutcomeRelease); err != nil {
		t.Fatalf("resolve release: %v", err)
	}

	if a, w := f.balances(t, clientAcct); a != 20_000 || w != 0 {
		t.Errorf("client after release: %d/%d, want 20000/0", a, w)
	}
	if a, w := f.balances(t, agentAcct); a != 15_000 || w != 0 {
		t.Errorf("agent after release: %d/%d, want 15000/0", a, w)
	}
}

// Resolving twice is a no-op: the second call reports the settled hold
// and moves no funds.
func TestResolveHoldIdempotent(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 10_000)
	orderID := f.seedOrder(t, 5_000)

	h, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID:         orderID,
		ClientAccountID: clientAcct,
		ClientAmount:    5_000,
		Currency:        "UGX",
	})
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}

	if _, err := f.manager.ResolveHold(ctx, h.ID, hold.OutcomeCapture); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	availableBefore, withheldBefore := f.balances(t, clientAcct)

	again, err := f.manager.ResolveHold(ctx, h.ID, hold.OutcomeCapture)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.Status != hold.StatusCompleted {
		t.Errorf("second resolve status = %s, want completed", again.Status)
	}
	// And with the opposite outcome, still a no-op.
	if _, err := f.manager.ResolveHold(ctx, h.ID, hold.OutcomeRelease); err != nil {
		t.Fatalf("resolve with opposite outcome: %v", err)
	}

	if a, w := f.balances(t, clientAcct); a != availableBefore || w != withheldBefore {
		t.Errorf("repeated resolve moved funds: %d/%d, want %d/%d", a, w, availableBefore, withheldBefore)
	}
}

func TestPlaceHoldRejectsSecondActive(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 20_000)
	orderID := f.seedOrder(t, 5_000)

	if _, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID: orderID, ClientAccountID: clientAcct, ClientAmount: 5_000, Currency: "UGX",
	}); err != nil {
		t.Fatalf("first hold: %v", err)
	}

	_, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID: orderID, ClientAccountID: clientAcct, ClientAmount: 5_000, Currency: "UGX",
	})
	if !errs.IsCode(err, errs.CodeHoldActive) {
		t.Fatalf("want HoldActive, got %v", err)
	}
}

func TestPlaceHoldInsufficientFundsLeavesNothing(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 20_000)
	agentAcct := f.fundedAccount(t, 100) // cannot cover the agent leg
	orderID := f.seedOrder(t, 11_000)

	_, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID:         orderID,
		ClientAccountID: clientAcct,
		ClientAmount:    11_000,
		AgentAccountID:  &agentAcct,
		AgentAmount:     11_000,
		DeliveryFees:    1_000,
		Currency:        "UGX",
	})
	if !errs.IsCode(err, errs.CodeInsufficientFunds) {
		t.Fatalf("want InsufficientFunds, got %v", err)
	}

	// The client leg rolled back with the rest.
	if a, w := f.balances(t, clientAcct); a != 20_000 || w != 0 {
		t.Errorf("client after failed hold: %d/%d, want 20000/0", a, w)
	}
	h, err := f.manager.HoldForOrder(ctx, orderID)
	if err != nil && !errs.IsCode(err, errs.CodeNotFound) {
		t.Fatalf("hold for order: %v", err)
	}
	if h != nil {
		t.Errorf("no hold row should exist, got %+v", h)
	}
}

func TestUpdateHoldAddsAgentLeg(t *testing.T) {
	f, cleanup := newHoldFixture(t)
	defer cleanup()
	ctx := context.Background()

	clientAcct := f.fundedAccount(t, 20_000)
	agentAcct := f.fundedAccount(t, 10_000)
	orderID := f.seedOrder(t, 11_000)

	h, err := f.manager.PlaceHold(ctx, hold.PlaceHoldParams{
		OrderID:         orderID,
		ClientAccountID: clientAcct,
		ClientAmount:    11_000,
		DeliveryFees:    1_000,
		Currency:        "UGX",
	})
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}

	agentAmount := int64(8_800)
	updated, err := f.manager.UpdateHold(ctx, hold.UpdateHoldParams{
		HoldID:         h.ID,
		NewAgentAmount: &agentAmount,
		AgentAccountID: &agentAcct,
	})
	if err != nil {
		t.Fatalf("update hold: %v", err)
	}
	if updated.AgentAmount != 8_800 {
		t.Errorf("agent amount = %d, want 8800", updated.AgentAmount)
	}
	if a, w := f.balances(t, agentAcct); a != 1_200 || w != 8_800 {
		t.Errorf("agent after leg added: %d/%d, want 1200/8800", a, w)
	}

	// Shrinking the leg releases the difference.
	smaller := int64(5_000)
	if _, err := f.manager.UpdateHold(ctx, hold.UpdateHoldParams{
		HoldID:         h.ID,
		NewAgentAmount: &smaller,
	}); err != nil {
		t.Fatalf("shrink agent leg: %v", err)
	}
	if a, w := f.balances(t, agentAcct); a != 5_000 || w != 5_000 {
		t.Errorf("agent after shrink: %d/%d, want 5000/5000", a, w)
	}
}
