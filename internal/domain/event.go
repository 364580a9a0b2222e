package domain

import (
	"encoding/json"
	"time"
)

// Event types published to the bus. Consumers (balance, webhook dispatch,
// reporting) route on these names.
const (
	EventTransactionCreated = "transacao.criada"
	EventStatusChanged      = "transacao.status_alterado"
	EventQRCodeCreated      = "qrcode.criado"
)

// Event is one entry of an aggregate's history. Version is the sequential
// position within the aggregate's stream, starting at 1.
type Event struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int64           `json:"version"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func newCreationEvent(tx Transaction) Event {
	payload, _ := json.Marshal(tx)
	return Event{
		AggregateID: tx.ID,
		Version:     1,
		Type:        EventTransactionCreated,
		Payload:     payload,
		OccurredAt:  tx.CreatedAt,
	}
}

// StatusChangePayload is the body of a transacao.status_alterado event.
type StatusChangePayload struct {
	TransactionID  string            `json:"transaction_id"`
	ExternalID     string            `json:"external_id"`
	PreviousStatus TransactionStatus `json:"previous_status"`
	NewStatus      TransactionStatus `json:"new_status"`
	Reason         string            `json:"reason,omitempty"`
	Refs           BankRefs          `json:"refs,omitempty"`
}

func newStatusChangeEvent(tx Transaction, previous TransactionStatus, reason string) Event {
	payload, _ := json.Marshal(StatusChangePayload{
		TransactionID:  tx.ID,
		ExternalID:     tx.ExternalID,
		PreviousStatus: previous,
		NewStatus:      tx.Status,
		Reason:         reason,
		Refs: BankRefs{
			EndToEndID:  tx.EndToEndID,
			NossoNumero: tx.NossoNumero,
			TxID:        tx.TxID,
		},
	})
	return Event{
		AggregateID: tx.ID,
		Version:     tx.Version,
		Type:        EventStatusChanged,
		Payload:     payload,
		OccurredAt:  tx.UpdatedAt,
	}
}

// NewQRCodeCreatedEvent builds the creation event for a QR code aggregate.
func NewQRCodeCreatedEvent(qr QRCode) Event {
	payload, _ := json.Marshal(qr)
	return Event{
		AggregateID: qr.ID,
		Version:     1,
		Type:        EventQRCodeCreated,
		Payload:     payload,
		OccurredAt:  qr.CreatedAt,
	}
}
