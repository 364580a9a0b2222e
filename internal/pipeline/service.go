// Package pipeline holds the command handlers for payment instructions. One
// command per instruction type, all with the same contract: idempotent on
// ExternalID, validated before any state change, events appended to the log
// before publishing, and bank submission strictly best-effort.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/pagolivre/psp/internal/bus"
	"github.com/pagolivre/psp/internal/domain"
	"github.com/pagolivre/psp/internal/eventlog"
	"github.com/pagolivre/psp/internal/repository"
)

// SettlementSubmitter is the bank integration collaborator.
type SettlementSubmitter interface {
	SubmitSettlement(ctx context.Context, tx *domain.Transaction) (*domain.SettlementResult, error)
}

// ErrTransactionNotFound is returned by the status command when no record
// matches any of the supplied correlation ids.
var ErrTransactionNotFound = errors.New("transaction not found")

// ValidationError marks input rejected before any state change.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a pre-persistence input rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type Service struct {
	txRepo *repository.TransactionRepo
	qrRepo *repository.QRCodeRepo
	events *eventlog.Store
	bus    bus.Publisher
	bank   SettlementSubmitter

	merchantName string
	merchantCity string
}

func NewService(
	txRepo *repository.TransactionRepo,
	qrRepo *repository.QRCodeRepo,
	events *eventlog.Store,
	publisher bus.Publisher,
	bankClient SettlementSubmitter,
	merchantName, merchantCity string,
) *Service {
	return &Service{
		txRepo:       txRepo,
		qrRepo:       qrRepo,
		events:       events,
		bus:          publisher,
		bank:         bankClient,
		merchantName: merchantName,
		merchantCity: merchantCity,
	}
}

// CreateResult is the response of every creation command. Duplicate marks an
// idempotent replay; IntegrationNote carries the outcome of the best-effort
// bank submission without affecting the command's success.
type CreateResult struct {
	Transaction     *domain.Transaction `json:"transaction"`
	Duplicate       bool                `json:"duplicate"`
	IntegrationNote string              `json:"integration_note,omitempty"`
}

// createTransaction runs steps shared by all creation commands: persist the
// projection, append and publish the creation events, then submit to the
// bank. The UNIQUE constraint on external_id resolves concurrent
// first-writers; the loser re-reads and returns the winner's projection.
func (s *Service) createTransaction(ctx context.Context, tx domain.Transaction, events []domain.Event) (*CreateResult, error) {
	inserted, err := s.txRepo.Insert(ctx, &tx)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.txRepo.GetByExternalID(ctx, tx.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("re-read after duplicate insert: %w", err)
		}
		log.Printf("[pipeline] duplicate external_id=%s, returning existing transaction %s",
			tx.ExternalID, existing.ID)
		return &CreateResult{Transaction: existing, Duplicate: true}, nil
	}

	// New aggregate: the stream must be empty.
	if err := s.events.Append(ctx, tx.ID, events, 0); err != nil {
		return nil, err
	}
	for _, evt := range events {
		if err := s.bus.Publish(ctx, evt); err != nil {
			return nil, fmt.Errorf("publish %s: %w", evt.Type, err)
		}
	}

	note := s.submitToBank(ctx, &tx)
	return &CreateResult{Transaction: &tx, IntegrationNote: note}, nil
}

// submitToBank attempts settlement. Failures are logged and reported as a
// note on the response; they never roll the creation back.
func (s *Service) submitToBank(ctx context.Context, tx *domain.Transaction) string {
	result, err := s.bank.SubmitSettlement(ctx, tx)
	if err != nil {
		log.Printf("[pipeline] WARNING: bank submission failed for %s: %v", tx.ID, err)
		return fmt.Sprintf("bank submission failed, will settle on retry: %v", err)
	}
	if !result.Success {
		log.Printf("[pipeline] WARNING: bank declined %s: %s", tx.ID, result.ErrorMessage)
		return fmt.Sprintf("bank declined submission: %s", result.ErrorMessage)
	}
	log.Printf("[pipeline] submitted %s to bank, bank_transaction_id=%s status=%s",
		tx.ID, result.BankTransactionID, result.Status)
	return ""
}

// lookupExisting is the idempotency fast path shared by creation commands.
func (s *Service) lookupExisting(ctx context.Context, externalID string) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByExternalID(ctx, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return tx, nil
}
