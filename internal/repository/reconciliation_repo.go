package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagolivre/psp/internal/domain"
)

// ReconciliationRepo persists the append-only history of reconciliation
// batches and their classified items.
type ReconciliationRepo struct {
	db *sql.DB
}

func NewReconciliationRepo(db *sql.DB) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

// InsertBatch writes a completed batch and all its items in one transaction.
// Batches are never updated or deleted afterwards.
func (r *ReconciliationRepo) InsertBatch(ctx context.Context, b *domain.ReconciliationBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reconciliation_batches
		(id, bank_code, range_from, range_to, run_at, source_note,
		 total, reconciled, divergent, missing_in_bank, missing_in_internal, rate)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.BankCode,
		b.From.Format(time.RFC3339Nano), b.To.Format(time.RFC3339Nano),
		b.RunAt.Format(time.RFC3339Nano), b.SourceNote,
		b.Total(), len(b.Reconciled), len(b.Divergent),
		len(b.MissingInBank), len(b.MissingInInternal), b.Rate(),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reconciliation_items
		(id, batch_id, classification, internal_tx_id, internal_external_id,
		 bank_tx_id, end_to_end_id, nosso_numero, internal_amount, bank_amount, reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	insert := func(items []domain.ReconciledTransaction) error {
		for _, item := range items {
			var internalID, internalExternalID, internalAmount any
			if item.Internal != nil {
				internalID = item.Internal.ID
				internalExternalID = item.Internal.ExternalID
				internalAmount = item.Internal.Amount.String()
			}
			var bankTxID, endToEndID, nossoNumero, bankAmount any
			if item.Bank != nil {
				bankTxID = item.Bank.TxID
				endToEndID = item.Bank.EndToEndID
				nossoNumero = item.Bank.NossoNumero
				bankAmount = item.Bank.Amount.String()
			}
			_, err := stmt.ExecContext(ctx, uuid.NewString(), b.ID,
				string(item.Classification), internalID, internalExternalID,
				bankTxID, endToEndID, nossoNumero, internalAmount, bankAmount,
				item.Reason)
			if err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}
		return nil
	}

	for _, items := range [][]domain.ReconciledTransaction{
		b.Reconciled, b.Divergent, b.MissingInBank, b.MissingInInternal,
	} {
		if err := insert(items); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// BatchSummary is the stored header of a reconciliation run.
type BatchSummary struct {
	ID                string    `json:"id"`
	BankCode          string    `json:"bank_code"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	RunAt             time.Time `json:"run_at"`
	SourceNote        string    `json:"source_note,omitempty"`
	Total             int       `json:"total"`
	Reconciled        int       `json:"reconciled"`
	Divergent         int       `json:"divergent"`
	MissingInBank     int       `json:"missing_in_bank"`
	MissingInInternal int       `json:"missing_in_internal"`
	Rate              float64   `json:"reconciliation_rate"`
}

// ListBatches returns batch summaries whose run time falls in the window,
// newest first.
func (r *ReconciliationRepo) ListBatches(ctx context.Context, from, to time.Time) ([]BatchSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, bank_code, range_from, range_to, run_at, COALESCE(source_note, ''),
		        total, reconciled, divergent, missing_in_bank, missing_in_internal, rate
		 FROM reconciliation_batches
		 WHERE run_at >= ? AND run_at <= ?
		 ORDER BY run_at DESC`,
		from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var batches []BatchSummary
	for rows.Next() {
		s, err := scanBatchSummary(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *s)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch header by id.
func (r *ReconciliationRepo) GetBatch(ctx context.Context, id string) (*BatchSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, bank_code, range_from, range_to, run_at, COALESCE(source_note, ''),
		        total, reconciled, divergent, missing_in_bank, missing_in_internal, rate
		 FROM reconciliation_batches WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanBatchSummary(rows)
}

func scanBatchSummary(rows *sql.Rows) (*BatchSummary, error) {
	var s BatchSummary
	var from, to, runAt string
	err := rows.Scan(&s.ID, &s.BankCode, &from, &to, &runAt, &s.SourceNote,
		&s.Total, &s.Reconciled, &s.Divergent, &s.MissingInBank,
		&s.MissingInInternal, &s.Rate)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if s.From, err = time.Parse(time.RFC3339Nano, from); err != nil {
		return nil, fmt.Errorf("decode range_from for %s: %w", s.ID, err)
	}
	if s.To, err = time.Parse(time.RFC3339Nano, to); err != nil {
		return nil, fmt.Errorf("decode range_to for %s: %w", s.ID, err)
	}
	if s.RunAt, err = time.Parse(time.RFC3339Nano, runAt); err != nil {
		return nil, fmt.Errorf("decode run_at for %s: %w", s.ID, err)
	}
	return &s, nil
}
