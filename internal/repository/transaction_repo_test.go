package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

// testDB creates a temporary SQLite database via InitDB and returns it along
// with a cleanup function.
func testDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "psp-repo-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := InitDB(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("InitDB: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func pixTransaction(externalID string, amount string) domain.Transaction {
	tx, _ := domain.NewPixTransaction(externalID, "a@b.com", decimal.RequireFromString(amount), "341")
	return tx
}

func TestInsertIsIdempotentOnExternalID(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	first := pixTransaction("ext-1", "100.00")
	inserted, err := repo.Insert(ctx, &first)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert reported duplicate")
	}

	// A different transaction with the same external id must be ignored.
	second := pixTransaction("ext-1", "999.99")
	inserted, err = repo.Insert(ctx, &second)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatalf("second insert with same external_id succeeded")
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	stored, err := repo.GetByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ID != first.ID {
		t.Errorf("stored id = %s, want first writer %s", stored.ID, first.ID)
	}
	if !stored.Amount.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("stored amount = %s, want 100.00", stored.Amount)
	}
}

func TestRoundTripPreservesAllFields(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	due := time.Now().UTC().Add(72 * time.Hour)
	tx, _ := domain.NewBoletoTransaction("ext-boleto", decimal.RequireFromString("250.50"), "237",
		due, "Maria Souza", "12345678901", "Nao receber apos vencimento")
	if _, err := repo.Insert(ctx, &tx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stored, err := repo.GetByExternalID(ctx, "ext-boleto")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Type != domain.TypeBoleto || stored.Status != domain.StatusPending {
		t.Errorf("type/status = %s/%s", stored.Type, stored.Status)
	}
	if stored.PayerName != "Maria Souza" || stored.PayerTaxID != "12345678901" {
		t.Errorf("payer = %q %q", stored.PayerName, stored.PayerTaxID)
	}
	if stored.DueDate == nil || !stored.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", stored.DueDate, due)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, want 1", stored.Version)
	}
}

func TestGetByBankRef(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	tx := pixTransaction("ext-2", "10.00")
	tx.EndToEndID = "E34120250829001"
	if _, err := repo.Insert(ctx, &tx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boleto, _ := domain.NewBoletoTransaction("ext-3", decimal.RequireFromString("50.00"), "341",
		time.Now().Add(24*time.Hour), "Joao", "12345678901", "")
	boleto.NossoNumero = "00012345"
	if _, err := repo.Insert(ctx, &boleto); err != nil {
		t.Fatalf("insert boleto: %v", err)
	}

	byE2E, err := repo.GetByBankRef(ctx, "E34120250829001", "")
	if err != nil {
		t.Fatalf("by end_to_end_id: %v", err)
	}
	if byE2E.ExternalID != "ext-2" {
		t.Errorf("resolved %s, want ext-2", byE2E.ExternalID)
	}

	byNosso, err := repo.GetByBankRef(ctx, "", "00012345")
	if err != nil {
		t.Fatalf("by nosso_numero: %v", err)
	}
	if byNosso.ExternalID != "ext-3" {
		t.Errorf("resolved %s, want ext-3", byNosso.ExternalID)
	}

	if _, err := repo.GetByBankRef(ctx, "missing", "missing"); err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	tx := pixTransaction("ext-4", "10.00")
	if _, err := repo.Insert(ctx, &tx); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, _, err := domain.ApplyStatusChange(tx, domain.StatusProcessing, "bank accepted", domain.BankRefs{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := repo.Update(ctx, &updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Re-applying the same projection (same version) must be refused.
	if err := repo.Update(ctx, &updated); err == nil {
		t.Errorf("stale update succeeded")
	}

	stored, err := repo.GetByExternalID(ctx, "ext-4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusProcessing || stored.Version != 2 {
		t.Errorf("stored status/version = %s/%d, want processing/2", stored.Status, stored.Version)
	}
}

func TestListByBankAndRange(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	inRange := pixTransaction("ext-in", "10.00")
	otherBank := pixTransaction("ext-other-bank", "10.00")
	otherBank.BankCode = "237"
	old := pixTransaction("ext-old", "10.00")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	for _, tx := range []*domain.Transaction{&inRange, &otherBank, &old} {
		if _, err := repo.Insert(ctx, tx); err != nil {
			t.Fatalf("insert %s: %v", tx.ExternalID, err)
		}
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	txns, err := repo.ListByBankAndRange(ctx, "341", from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 1 || txns[0].ExternalID != "ext-in" {
		t.Errorf("got %d transactions, want only ext-in", len(txns))
	}
}

func TestListWithFilterAndPaging(t *testing.T) {
	db, cleanup := testDB(t)
	defer cleanup()
	repo := NewTransactionRepo(db)
	ctx := context.Background()

	for _, ext := range []string{"p-1", "p-2", "p-3"} {
		tx := pixTransaction(ext, "10.00")
		if _, err := repo.Insert(ctx, &tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	ted, _ := domain.NewTedTransaction("t-1", "0001", "12345-6", "12345678901",
		decimal.RequireFromString("99.00"), "341")
	if _, err := repo.Insert(ctx, &ted); err != nil {
		t.Fatalf("insert ted: %v", err)
	}

	txns, total, err := repo.List(ctx, TransactionFilter{Type: "pix", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(txns) != 2 {
		t.Errorf("page size = %d, want 2", len(txns))
	}
}
