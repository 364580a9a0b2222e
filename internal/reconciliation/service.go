// Package reconciliation matches the internal ledger against bank statements
// and classifies every record on both sides.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pagolivre/psp/internal/domain"
)

// TransactionSource provides the internal side of a run.
type TransactionSource interface {
	ListByBankAndRange(ctx context.Context, bankCode string, from, to time.Time) ([]domain.Transaction, error)
}

// StatementSource provides the bank side of a run.
type StatementSource interface {
	FetchStatement(ctx context.Context, bankCode string, from, to time.Time) ([]domain.StatementEntry, error)
}

// BatchSink persists completed batches.
type BatchSink interface {
	InsertBatch(ctx context.Context, b *domain.ReconciliationBatch) error
}

type Service struct {
	transactions TransactionSource
	statements   StatementSource
	batches      BatchSink
}

func NewService(transactions TransactionSource, statements StatementSource, batches BatchSink) *Service {
	return &Service{
		transactions: transactions,
		statements:   statements,
		batches:      batches,
	}
}

// Run reconciles one bank over a date window and persists the classified
// batch. A statement fetch failure degrades to an empty statement; the run
// still completes and the batch records the degradation. Nothing is written
// until the whole batch is classified, so cancellation leaves no partial
// state.
func (s *Service) Run(ctx context.Context, bankCode string, from, to time.Time) (*domain.ReconciliationBatch, error) {
	internal, err := s.transactions.ListByBankAndRange(ctx, bankCode, from, to)
	if err != nil {
		return nil, fmt.Errorf("load internal transactions: %w", err)
	}

	batch := domain.NewReconciliationBatch(bankCode, from, to)

	statement, err := s.statements.FetchStatement(ctx, bankCode, from, to)
	if err != nil {
		log.Printf("[reconciliation] WARNING: statement fetch failed for %s, proceeding with empty statement: %v",
			bankCode, err)
		statement = nil
		batch.SourceNote = fmt.Sprintf("statement unavailable: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matchedStatement := make([]bool, len(statement))
	for i := range internal {
		tx := &internal[i]
		entry := matchEntry(tx, statement, matchedStatement)
		classify(batch, tx, entry)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Symmetric pass: whatever the bank reported that no internal record
	// claimed is missing on our side.
	for i := range statement {
		if matchedStatement[i] {
			continue
		}
		entry := statement[i]
		batch.MissingInInternal = append(batch.MissingInInternal, domain.ReconciledTransaction{
			Classification: domain.ClassMissingInInternal,
			Bank:           &entry,
			Reason: fmt.Sprintf("bank reported %s with amount %s but no internal record matches",
				entryRef(&entry), domain.FormatAmount(entry.Amount)),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.batches.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	log.Printf("[reconciliation] bank=%s window=%s..%s total=%d reconciled=%d divergent=%d missing_in_bank=%d missing_in_internal=%d rate=%.1f%%",
		bankCode, from.Format("2006-01-02"), to.Format("2006-01-02"),
		batch.Total(), len(batch.Reconciled), len(batch.Divergent),
		len(batch.MissingInBank), len(batch.MissingInInternal), batch.Rate())

	return batch, nil
}

// matchEntry finds the statement entry for an internal transaction using the
// strict key priority: TxID, EndToEndID, NossoNumero, then ExternalID with
// amount tolerance. First match wins and is consumed.
func matchEntry(tx *domain.Transaction, statement []domain.StatementEntry, matched []bool) *domain.StatementEntry {
	type matcher func(*domain.StatementEntry) bool
	matchers := []matcher{
		func(e *domain.StatementEntry) bool {
			return tx.TxID != "" && e.TxID == tx.TxID
		},
		func(e *domain.StatementEntry) bool {
			return tx.EndToEndID != "" && e.EndToEndID == tx.EndToEndID
		},
		func(e *domain.StatementEntry) bool {
			return tx.NossoNumero != "" && e.NossoNumero == tx.NossoNumero
		},
		func(e *domain.StatementEntry) bool {
			return e.ExternalID == tx.ExternalID && domain.AmountsMatch(e.Amount, tx.Amount)
		},
	}

	for _, match := range matchers {
		for i := range statement {
			if matched[i] {
				continue
			}
			if match(&statement[i]) {
				matched[i] = true
				return &statement[i]
			}
		}
	}
	return nil
}

func classify(batch *domain.ReconciliationBatch, tx *domain.Transaction, entry *domain.StatementEntry) {
	if entry == nil {
		batch.MissingInBank = append(batch.MissingInBank, domain.ReconciledTransaction{
			Classification: domain.ClassMissingInBank,
			Internal:       tx,
			Reason: fmt.Sprintf("no statement entry for transaction %s (external_id=%s, amount %s)",
				tx.ID, tx.ExternalID, domain.FormatAmount(tx.Amount)),
		})
		return
	}

	if domain.AmountsMatch(tx.Amount, entry.Amount) {
		batch.Reconciled = append(batch.Reconciled, domain.ReconciledTransaction{
			Classification: domain.ClassReconciled,
			Internal:       tx,
			Bank:           entry,
			Reason:         fmt.Sprintf("matched by %s", entryRef(entry)),
		})
		return
	}

	batch.Divergent = append(batch.Divergent, domain.ReconciledTransaction{
		Classification: domain.ClassDivergent,
		Internal:       tx,
		Bank:           entry,
		Reason: fmt.Sprintf("amount mismatch: internal %s, bank %s (matched by %s)",
			domain.FormatAmount(tx.Amount), domain.FormatAmount(entry.Amount), entryRef(entry)),
	})
}

// entryRef names the strongest correlation id an entry carries, for reasons
// and logs.
func entryRef(e *domain.StatementEntry) string {
	switch {
	case e.TxID != "":
		return "tx_id " + e.TxID
	case e.EndToEndID != "":
		return "end_to_end_id " + e.EndToEndID
	case e.NossoNumero != "":
		return "nosso_numero " + e.NossoNumero
	case e.ExternalID != "":
		return "external_id " + e.ExternalID
	default:
		return "unidentified entry"
	}
}
