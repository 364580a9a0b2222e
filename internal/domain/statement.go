package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementEntry is one line of a bank-provided statement. Correlation ids
// are optional; reconciliation matches on whichever are present.
type StatementEntry struct {
	TxID        string          `json:"tx_id,omitempty"`
	EndToEndID  string          `json:"end_to_end_id,omitempty"`
	NossoNumero string          `json:"nosso_numero,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// SettlementResult is what the bank integration collaborator reports back for
// a submission attempt.
type SettlementResult struct {
	Success           bool              `json:"success"`
	BankTransactionID string            `json:"bank_transaction_id,omitempty"`
	Status            string            `json:"status,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	AdditionalData    map[string]string `json:"additional_data,omitempty"`
}
