package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypePix    TransactionType = "pix"
	TypeTed    TransactionType = "ted"
	TypeBoleto TransactionType = "boleto"
	TypeCrypto TransactionType = "crypto"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusConfirmed  TransactionStatus = "confirmed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Transaction is the projection of a payment instruction. It is mutated only
// through domain events; Version counts the events applied so far and is the
// optimistic-concurrency expectation for the next append.
type Transaction struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"external_id"`
	Type       TransactionType   `json:"type"`
	Status     TransactionStatus `json:"status"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	BankCode   string            `json:"bank_code"`

	// PIX
	PixKey     string `json:"pix_key,omitempty"`
	EndToEndID string `json:"end_to_end_id,omitempty"`
	TxID       string `json:"tx_id,omitempty"`

	// TED
	Branch        string `json:"branch,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	PayeeTaxID    string `json:"payee_tax_id,omitempty"`

	// Boleto
	DueDate      *time.Time `json:"due_date,omitempty"`
	PayerName    string     `json:"payer_name,omitempty"`
	PayerTaxID   string     `json:"payer_tax_id,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	NossoNumero  string     `json:"nosso_numero,omitempty"`

	// Crypto
	AssetType     string `json:"asset_type,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newTransaction(externalID string, txType TransactionType, amount decimal.Decimal, bankCode string) Transaction {
	now := time.Now().UTC()
	return Transaction{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Type:       txType,
		Status:     StatusPending,
		Amount:     amount,
		Currency:   "BRL",
		BankCode:   bankCode,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewPixTransaction builds a pending PIX transfer and its creation event.
func NewPixTransaction(externalID, pixKey string, amount decimal.Decimal, bankCode string) (Transaction, []Event) {
	tx := newTransaction(externalID, TypePix, amount, bankCode)
	tx.PixKey = pixKey
	return tx, []Event{newCreationEvent(tx)}
}

// NewTedTransaction builds a pending TED transfer and its creation event.
func NewTedTransaction(externalID, branch, accountNumber, payeeTaxID string, amount decimal.Decimal, bankCode string) (Transaction, []Event) {
	tx := newTransaction(externalID, TypeTed, amount, bankCode)
	tx.Branch = branch
	tx.AccountNumber = accountNumber
	tx.PayeeTaxID = payeeTaxID
	return tx, []Event{newCreationEvent(tx)}
}

// NewBoletoTransaction builds a pending boleto charge and its creation event.
func NewBoletoTransaction(externalID string, amount decimal.Decimal, bankCode string, dueDate time.Time, payerName, payerTaxID, instructions string) (Transaction, []Event) {
	tx := newTransaction(externalID, TypeBoleto, amount, bankCode)
	due := dueDate.UTC()
	tx.DueDate = &due
	tx.PayerName = payerName
	tx.PayerTaxID = payerTaxID
	tx.Instructions = instructions
	return tx, []Event{newCreationEvent(tx)}
}

// NewCryptoTransaction builds a pending crypto settlement and its creation event.
func NewCryptoTransaction(externalID, assetType, walletAddress string, amount decimal.Decimal, bankCode string) (Transaction, []Event) {
	tx := newTransaction(externalID, TypeCrypto, amount, bankCode)
	tx.AssetType = assetType
	tx.WalletAddress = walletAddress
	return tx, []Event{newCreationEvent(tx)}
}

// validTransitions maps each status to the statuses reachable from it.
// Terminal statuses have no outgoing transitions.
var validTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusConfirmed, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusConfirmed, StatusFailed, StatusCancelled},
}

// CanTransition reports whether a status change is allowed by the lifecycle.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BankRefs carries the correlation identifiers a bank notification may attach.
type BankRefs struct {
	EndToEndID  string `json:"end_to_end_id,omitempty"`
	NossoNumero string `json:"nosso_numero,omitempty"`
	TxID        string `json:"tx_id,omitempty"`
}

// ApplyStatusChange returns a copy of tx with the new status applied and the
// status-change event to append. Empty refs leave current correlation ids
// intact.
func ApplyStatusChange(tx Transaction, newStatus TransactionStatus, reason string, refs BankRefs) (Transaction, Event, error) {
	if !CanTransition(tx.Status, newStatus) {
		return Transaction{}, Event{}, fmt.Errorf("invalid status transition %s -> %s", tx.Status, newStatus)
	}
	previous := tx.Status
	tx.Status = newStatus
	if refs.EndToEndID != "" {
		tx.EndToEndID = refs.EndToEndID
	}
	if refs.NossoNumero != "" {
		tx.NossoNumero = refs.NossoNumero
	}
	if refs.TxID != "" {
		tx.TxID = refs.TxID
	}
	tx.Version++
	tx.UpdatedAt = time.Now().UTC()

	evt := newStatusChangeEvent(tx, previous, reason)
	return tx, evt, nil
}
