package domain

import (
	"time"

	"github.com/google/uuid"
)

type Classification string

const (
	ClassReconciled        Classification = "reconciled"
	ClassDivergent         Classification = "divergent"
	ClassMissingInBank     Classification = "missing_in_bank"
	ClassMissingInInternal Classification = "missing_in_internal"
)

// ReconciledTransaction pairs an internal record with its bank-side
// counterpart (either side may be absent) plus the classification reason.
// Each pair belongs to exactly one classification.
type ReconciledTransaction struct {
	Classification Classification  `json:"classification"`
	Internal       *Transaction    `json:"internal,omitempty"`
	Bank           *StatementEntry `json:"bank,omitempty"`
	Reason         string          `json:"reason"`
}

// ReconciliationBatch is the immutable result of one reconciliation run.
type ReconciliationBatch struct {
	ID                string                  `json:"id"`
	BankCode          string                  `json:"bank_code"`
	From              time.Time               `json:"from"`
	To                time.Time               `json:"to"`
	RunAt             time.Time               `json:"run_at"`
	SourceNote        string                  `json:"source_note,omitempty"`
	Reconciled        []ReconciledTransaction `json:"reconciled"`
	Divergent         []ReconciledTransaction `json:"divergent"`
	MissingInBank     []ReconciledTransaction `json:"missing_in_bank"`
	MissingInInternal []ReconciledTransaction `json:"missing_in_internal"`
}

// NewReconciliationBatch allocates an empty batch for a run.
func NewReconciliationBatch(bankCode string, from, to time.Time) *ReconciliationBatch {
	return &ReconciliationBatch{
		ID:       uuid.NewString(),
		BankCode: bankCode,
		From:     from.UTC(),
		To:       to.UTC(),
		RunAt:    time.Now().UTC(),
	}
}

// Total is the number of internal records considered by the run. Entries the
// bank reported but the ledger never saw are not part of the denominator.
func (b *ReconciliationBatch) Total() int {
	return len(b.Reconciled) + len(b.Divergent) + len(b.MissingInBank)
}

// Rate is the reconciliation rate in percent.
func (b *ReconciliationBatch) Rate() float64 {
	total := b.Total()
	if total == 0 {
		return 0
	}
	return float64(len(b.Reconciled)) / float64(total) * 100
}
