package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/pagolivre/psp/internal/domain"
)

// ChangeStatusInput is the command a bank notification (webhook) turns into.
// Resolution tries ExternalID first, then EndToEndID, then NossoNumero.
type ChangeStatusInput struct {
	ExternalID  string                   `json:"external_id"`
	EndToEndID  string                   `json:"end_to_end_id"`
	NossoNumero string                   `json:"nosso_numero"`
	TxID        string                   `json:"tx_id"`
	NewStatus   domain.TransactionStatus `json:"new_status"`
	Reason      string                   `json:"reason"`
}

// StatusResult reports the applied transition.
type StatusResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	// AlreadyApplied marks a redelivered notification whose status the
	// record already carries.
	AlreadyApplied bool `json:"already_applied"`
}

// ChangeStatus applies an asynchronous bank confirmation to the aggregate.
// The event append and the projection update commit in one transaction, so
// the stream and the projection never drift apart. A version conflict aborts
// the command; the webhook dispatcher redelivers and the retry re-reads the
// current projection.
func (s *Service) ChangeStatus(ctx context.Context, in ChangeStatusInput) (*StatusResult, error) {
	switch in.NewStatus {
	case domain.StatusProcessing, domain.StatusConfirmed, domain.StatusFailed, domain.StatusCancelled:
	default:
		return nil, validationErrorf("invalid target status %q", in.NewStatus)
	}

	tx, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	if tx.Status == in.NewStatus {
		log.Printf("[pipeline] status notification replay for %s (already %s)", tx.ID, tx.Status)
		return &StatusResult{Transaction: tx, AlreadyApplied: true}, nil
	}

	updated, evt, err := domain.ApplyStatusChange(*tx, in.NewStatus, in.Reason, domain.BankRefs{
		EndToEndID:  in.EndToEndID,
		NossoNumero: in.NossoNumero,
		TxID:        in.TxID,
	})
	if err != nil {
		return nil, validationErrorf("%v", err)
	}

	dbtx, err := s.txRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback()

	if err := s.events.AppendTx(ctx, dbtx, updated.ID, []domain.Event{evt}, tx.Version); err != nil {
		return nil, err
	}
	if err := s.txRepo.UpdateTx(ctx, dbtx, &updated); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status change: %w", err)
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	log.Printf("[pipeline] %s: %s -> %s (reason=%q)", updated.ID, tx.Status, updated.Status, in.Reason)
	return &StatusResult{Transaction: &updated}, nil
}

func (s *Service) resolve(ctx context.Context, in ChangeStatusInput) (*domain.Transaction, error) {
	if in.ExternalID != "" {
		tx, err := s.txRepo.GetByExternalID(ctx, in.ExternalID)
		if err == nil {
			return tx, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("resolve by external_id: %w", err)
		}
	}

	tx, err := s.txRepo.GetByBankRef(ctx, in.EndToEndID, in.NossoNumero)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("external_id=%q end_to_end_id=%q nosso_numero=%q: %w",
			in.ExternalID, in.EndToEndID, in.NossoNumero, ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve by bank ref: %w", err)
	}
	return tx, nil
}
