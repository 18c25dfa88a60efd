package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/InfographicAI/internal/database"
	"github.com/digkill/InfographicAI/internal/database/dbtest"
	"github.com/digkill/InfographicAI/internal/ids"
	"github.com/digkill/InfographicAI/internal/models"
)

func createProfile(t *testing.T, db *sql.DB, userID string, balance int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := NewProfileRepository(db).Create(ctx, &models.Profile{ID: userID, Email: userID + "@example.com", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := NewLedgerRepository(db).CreateAccount(ctx, userID, balance, balance, now); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestLedgerApplyDebitAndCredit(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	createProfile(t, db, "user-1", 50)
	repo := NewLedgerRepository(db)

	txn, err := repo.Apply(ctx, Entry{UserID: "user-1", Amount: -20, Type: models.TransactionUsage, ReferenceID: "gen_a", ReferenceType: models.ReferenceGeneration}, time.Now().UTC())
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if txn.BalanceAfter != 30 {
		t.Errorf("balance after debit = %d, want 30", txn.BalanceAfter)
	}

	if _, err := repo.Apply(ctx, Entry{UserID: "user-1", Amount: 25, Type: models.TransactionPurchase, ReferenceID: "pur_a", ReferenceType: models.ReferencePurchase}, time.Now().UTC()); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := repo.Apply(ctx, Entry{UserID: "user-1", Amount: 20, Type: models.TransactionRefund, ReferenceID: "gen_a", ReferenceType: models.ReferenceGeneration}, time.Now().UTC()); err != nil {
		t.Fatalf("refund: %v", err)
	}

	account, err := repo.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.Balance != 75 {
		t.Errorf("balance = %d, want 75", account.Balance)
	}
	// refunds do not count as lifetime grants
	if account.LifetimeCredits != 75 {
		t.Errorf("lifetime = %d, want 75", account.LifetimeCredits)
	}
}

func TestLedgerApplyRejectsOverdraft(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	createProfile(t, db, "user-1", 5)
	repo := NewLedgerRepository(db)

	_, err := repo.Apply(ctx, Entry{UserID: "user-1", Amount: -10, Type: models.TransactionUsage}, time.Now().UTC())
	if !errors.Is(err, models.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	_, err = repo.Apply(ctx, Entry{UserID: "ghost", Amount: -10, Type: models.TransactionUsage}, time.Now().UTC())
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	txns, err := repo.History(ctx, "user-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("records after failed debit = %d, want 0", len(txns))
	}
}

func TestLedgerDuplicateReferenceConflicts(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	createProfile(t, db, "user-1", 0)

	entry := Entry{UserID: "user-1", Amount: 10, Type: models.TransactionRefund, ReferenceID: "gen_x", ReferenceType: models.ReferenceGeneration}
	apply := func() error {
		return database.RunInTx(ctx, db, func(tx *sql.Tx) error {
			_, err := NewLedgerRepository(db).WithTx(tx).Apply(ctx, entry, time.Now().UTC())
			return err
		})
	}
	if err := apply(); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if err := apply(); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second refund err = %v, want ErrConflict", err)
	}

	account, err := NewLedgerRepository(db).GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.Balance != 10 {
		t.Errorf("balance = %d, want 10 after rolled back duplicate", account.Balance)
	}
}

func TestLedgerListTransactionsNewestFirst(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	createProfile(t, db, "user-1", 100)
	repo := NewLedgerRepository(db)

	for i := 0; i < 3; i++ {
		if _, err := repo.Apply(ctx, Entry{UserID: "user-1", Amount: -10, Type: models.TransactionUsage}, time.Now().UTC()); err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
	}
	txns, err := repo.ListTransactions(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("len = %d, want 2", len(txns))
	}
	if txns[0].BalanceAfter != 70 || txns[1].BalanceAfter != 80 {
		t.Errorf("balances = %d,%d want 70,80", txns[0].BalanceAfter, txns[1].BalanceAfter)
	}
}

func TestGenerationTerminalTransitions(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	createProfile(t, db, "user-1", 0)
	repo := NewGenerationRepository(db)

	gen := &models.Generation{
		ID: ids.New(ids.Generation), UserID: "user-1", Prompt: "coffee facts", AspectRatio: "9:16", ImageSize: "2K",
		Status: models.GenerationPending, CreditsUsed: 10, CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, gen); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := repo.Complete(ctx, "someone-else", gen.ID, "https://cdn/x.png", nil, "image/png", nil, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("complete by other user = %v, %v", ok, err)
	}

	ok, err = repo.Complete(ctx, "user-1", gen.ID, "https://cdn/x.png", []byte("ignored"), "image/png", map[string]string{"text_response": "hi"}, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("Complete = %v, %v", ok, err)
	}
	ok, err = repo.Fail(ctx, "user-1", gen.ID, "late failure", time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("Fail after complete = %v, %v", ok, err)
	}

	got, err := repo.GetForUser(ctx, "user-1", gen.ID)
	if err != nil {
		t.Fatalf("GetForUser: %v", err)
	}
	if got.Status != models.GenerationCompleted || got.ImageURL != "https://cdn/x.png" {
		t.Errorf("generation = %+v", got)
	}
	if len(got.ImageData) != 0 {
		t.Errorf("inline data kept alongside url")
	}
	if got.Metadata["text_response"] != "hi" || got.CompletedAt == nil {
		t.Errorf("metadata/completed_at not stored: %+v", got)
	}

	deleted, err := repo.Delete(ctx, "user-1", gen.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
}

func TestPurchaseTransactionIDIsUnique(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	repo := NewPurchaseRepository(db)
	now := time.Now().UTC()

	p := &models.Purchase{
		ID: ids.New(ids.Purchase), UserID: "user-1", PackageID: "pro", CreditsPurchased: 100,
		AmountPaid: decimal.RequireFromString("9.99"), Currency: "USD", Provider: "dodo",
		Status: models.PaymentCompleted, TransactionID: "tx_1", Metadata: `{}`, CreatedAt: now, CompletedAt: &now,
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := *p
	dup.ID = ids.New(ids.Purchase)
	err := repo.Create(ctx, &dup)
	if err == nil || !database.IsUniqueViolation(err) {
		t.Fatalf("duplicate create err = %v, want unique violation", err)
	}

	got, err := repo.FindByTransactionID(ctx, "tx_1")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if got == nil || !got.AmountPaid.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("purchase = %+v", got)
	}
	missing, err := repo.FindByTransactionID(ctx, "tx_missing")
	if err != nil || missing != nil {
		t.Errorf("missing purchase = %v, %v", missing, err)
	}
}
