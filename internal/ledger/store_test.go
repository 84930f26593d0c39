package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/testutil"
)

func TestRecordTransactionBalances(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	acct, err := store.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 50_000, Type: ledger.TypeDeposit, Memo: "initial top-up",
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 20_000, Type: ledger.TypeHold,
	}); err != nil {
		t.Fatalf("hold: %v", err)
	}

	available, withheld, err := store.Balances(ctx, acct.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if available != 30_000 || withheld != 20_000 {
		t.Errorf("after hold: available=%d withheld=%d, want 30000/20000", available, withheld)
	}

	// Capture part of the hold, release nothing else.
	if _, err := store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 20_000, Type: ledger.TypePayment, FromWithheld: true,
	}); err != nil {
		t.Fatalf("payment from withheld: %v", err)
	}

	available, withheld, err = store.Balances(ctx, acct.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if available != 30_000 || withheld != 0 {
		t.Errorf("after capture: available=%d withheld=%d, want 30000/0", available, withheld)
	}
}

// available + withheld must always equal the signed sum of the
// account's transaction movements.
func TestLedgerConsistency(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	acct, err := store.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	ops := []ledger.TransactionParams{
		{AccountID: acct.ID, Amount: 100_000, Type: ledger.TypeDeposit},
		{AccountID: acct.ID, Amount: 40_000, Type: ledger.TypeHold},
		{AccountID: acct.ID, Amount: 15_000, Type: ledger.TypeWithdrawal},
		{AccountID: acct.ID, Amount: 40_000, Type: ledger.TypeRelease},
		{AccountID: acct.ID, Amount: 5_000, Type: ledger.TypeRefund},
		{AccountID: acct.ID, Amount: 2_000, Type: ledger.TypeFee},
		{AccountID: acct.ID, Amount: -3_000, Type: ledger.TypeAdjustment},
	}
	for i, p := range ops {
		if _, err := store.RecordTransaction(ctx, p); err != nil {
			t.Fatalf("op %d (%s): %v", i, p.Type, err)
		}
	}

	available, withheld, err := store.Balances(ctx, acct.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}

	txs, err := store.Transactions(ctx, acct.ID, 100, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != len(ops) {
		t.Fatalf("got %d transactions, want %d", len(txs), len(ops))
	}

	if total, sum := available+withheld, ledger.SumDeltas(txs); total != sum {
		t.Errorf("available+withheld = %d, sum of movements = %d", total, sum)
	}
	// 100000 - 15000 + 5000 - 2000 - 3000
	if available != 85_000 || withheld != 0 {
		t.Errorf("available=%d withheld=%d, want 85000/0", available, withheld)
	}
}

func TestRecordTransactionInsufficientFunds(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	acct, err := store.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 1_000, Type: ledger.TypeDeposit,
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err = store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 1_001, Type: ledger.TypeWithdrawal,
	})
	if !errs.IsCode(err, errs.CodeInsufficientFunds) {
		t.Fatalf("want InsufficientFunds, got %v", err)
	}

	// The failed debit left nothing behind.
	available, withheld, err := store.Balances(ctx, acct.ID)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if available != 1_000 || withheld != 0 {
		t.Errorf("available=%d withheld=%d, want 1000/0", available, withheld)
	}
	txs, err := store.Transactions(ctx, acct.ID, 10, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("got %d transactions, want 1", len(txs))
	}
}

// Paging arguments arrive straight from query strings; garbage values
// fall back to sane defaults instead of reaching Postgres.
func TestTransactionsClampsPaging(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	acct, err := store.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.RecordTransaction(ctx, ledger.TransactionParams{
			AccountID: acct.ID, Amount: 1_000, Type: ledger.TypeDeposit,
		}); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	txs, err := store.Transactions(ctx, acct.ID, -1, -5)
	if err != nil {
		t.Fatalf("negative limit/offset: %v", err)
	}
	if len(txs) != 3 {
		t.Errorf("got %d transactions, want 3", len(txs))
	}
}

func TestDeactivatedAccountRejectsWrites(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	acct, err := store.CreateAccount(ctx, uuid.New(), "UGX")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.DeactivateAccount(ctx, acct.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err = store.RecordTransaction(ctx, ledger.TransactionParams{
		AccountID: acct.ID, Amount: 500, Type: ledger.TypeDeposit,
	})
	if !errs.IsCode(err, errs.CodeAccountInactive) {
		t.Fatalf("want AccountInactive, got %v", err)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db, nil)

	userID := uuid.New()
	if _, err := store.CreateAccount(ctx, userID, "UGX"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.CreateAccount(ctx, userID, "UGX"); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("duplicate (user, currency): want Invalid, got %v", err)
	}
	// A second currency for the same user is fine.
	if _, err := store.CreateAccount(ctx, userID, "KES"); err != nil {
		t.Fatalf("second currency: %v", err)
	}
}
