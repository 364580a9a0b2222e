package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Insert stores a new projection. It returns false when a row with the same
// external_id already exists: concurrent first-writers are resolved by the
// UNIQUE constraint, and the loser re-reads the winner's row.
func (r *TransactionRepo) Insert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transactions
		(id, external_id, type, status, amount, currency, bank_code,
		 pix_key, end_to_end_id, tx_id, branch, account_number, payee_tax_id,
		 due_date, payer_name, payer_tax_id, instructions, nosso_numero,
		 asset_type, wallet_address, version, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, tx.ExternalID, string(tx.Type), string(tx.Status),
		tx.Amount.String(), tx.Currency, tx.BankCode,
		tx.PixKey, tx.EndToEndID, tx.TxID, tx.Branch, tx.AccountNumber,
		tx.PayeeTaxID, formatNullableTime(tx.DueDate), tx.PayerName,
		tx.PayerTaxID, tx.Instructions, tx.NossoNumero,
		tx.AssetType, tx.WalletAddress, tx.Version,
		tx.CreatedAt.Format(time.RFC3339Nano), tx.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra > 0, nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTransaction+" WHERE id = ?", id)
	return scanTransaction(row)
}

func (r *TransactionRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectTransaction+" WHERE external_id = ?", externalID)
	return scanTransaction(row)
}

// GetByBankRef resolves a transaction by one of the bank correlation ids.
func (r *TransactionRepo) GetByBankRef(ctx context.Context, endToEndID, nossoNumero string) (*domain.Transaction, error) {
	if endToEndID != "" {
		tx, err := scanTransaction(r.db.QueryRowContext(ctx,
			selectTransaction+" WHERE end_to_end_id = ?", endToEndID))
		if err != sql.ErrNoRows {
			return tx, err
		}
	}
	if nossoNumero != "" {
		return scanTransaction(r.db.QueryRowContext(ctx,
			selectTransaction+" WHERE nosso_numero = ?", nossoNumero))
	}
	return nil, sql.ErrNoRows
}

// BeginTx starts a write transaction for callers that must commit the
// projection together with rows in other tables (the event stream).
func (r *TransactionRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// Update persists a new projection after a status change. The version guard
// keeps a stale writer from clobbering a newer projection.
func (r *TransactionRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	return r.update(ctx, r.db, tx)
}

// UpdateTx is Update inside a caller-managed transaction.
func (r *TransactionRepo) UpdateTx(ctx context.Context, dbtx *sql.Tx, tx *domain.Transaction) error {
	return r.update(ctx, dbtx, tx)
}

func (r *TransactionRepo) update(ctx context.Context, ex execer, tx *domain.Transaction) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE transactions
		 SET status = ?, end_to_end_id = ?, nosso_numero = ?, tx_id = ?,
		     version = ?, updated_at = ?
		 WHERE id = ? AND version < ?`,
		string(tx.Status), tx.EndToEndID, tx.NossoNumero, tx.TxID,
		tx.Version, tx.UpdatedAt.Format(time.RFC3339Nano),
		tx.ID, tx.Version,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("update transaction %s: stale version %d", tx.ID, tx.Version)
	}
	return nil
}

// ListByBankAndRange returns the reconciliation input: transactions for one
// bank created inside the window.
func (r *TransactionRepo) ListByBankAndRange(ctx context.Context, bankCode string, from, to time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		selectTransaction+` WHERE bank_code = ? AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at`,
		bankCode, from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

type TransactionFilter struct {
	Type     string
	Status   string
	BankCode string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]domain.Transaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	rows, err := r.db.QueryContext(ctx,
		selectTransaction+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	return txns, total, err
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// --- helpers ---

const selectTransaction = `SELECT id, external_id, type, status, amount,
	currency, bank_code, pix_key, end_to_end_id, tx_id, branch,
	account_number, payee_tax_id, due_date, payer_name, payer_tax_id,
	instructions, nosso_numero, asset_type, wallet_address, version,
	created_at, updated_at FROM transactions`

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.BankCode != "" {
		clauses = append(clauses, "bank_code = ?")
		args = append(args, f.BankCode)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From.Format(time.RFC3339Nano))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To.Format(time.RFC3339Nano))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanTransaction decodes one row. Every required field must decode; a bad
// amount or timestamp fails the whole read rather than defaulting.
func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status, amount, createdAt, updatedAt string
	var pixKey, endToEndID, txID, branch, accountNumber, payeeTaxID sql.NullString
	var dueDate, payerName, payerTaxID, instructions, nossoNumero sql.NullString
	var assetType, walletAddress sql.NullString

	err := row.Scan(
		&tx.ID, &tx.ExternalID, &txType, &status, &amount,
		&tx.Currency, &tx.BankCode, &pixKey, &endToEndID, &txID, &branch,
		&accountNumber, &payeeTaxID, &dueDate, &payerName, &payerTaxID,
		&instructions, &nossoNumero, &assetType, &walletAddress, &tx.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q for %s: %w", amount, tx.ID, err)
	}
	tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", tx.ID, err)
	}
	tx.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at for %s: %w", tx.ID, err)
	}
	if dueDate.Valid {
		t, err := time.Parse(time.RFC3339Nano, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("decode due_date for %s: %w", tx.ID, err)
		}
		tx.DueDate = &t
	}

	tx.PixKey = pixKey.String
	tx.EndToEndID = endToEndID.String
	tx.TxID = txID.String
	tx.Branch = branch.String
	tx.AccountNumber = accountNumber.String
	tx.PayeeTaxID = payeeTaxID.String
	tx.PayerName = payerName.String
	tx.PayerTaxID = payerTaxID.String
	tx.Instructions = instructions.String
	tx.NossoNumero = nossoNumero.String
	tx.AssetType = assetType.String
	tx.WalletAddress = walletAddress.String

	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, rows.Err()
}
