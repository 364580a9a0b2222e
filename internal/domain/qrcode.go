package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type QRCodeKind string

const (
	QRStatic  QRCodeKind = "static"
	QRDynamic QRCodeKind = "dynamic"
)

// QRCode holds a generated PIX copy-and-paste payload. Immutable after
// creation: re-reads for the same ExternalID return the same payload.
type QRCode struct {
	ID          string           `json:"id"`
	ExternalID  string           `json:"external_id"`
	Kind        QRCodeKind       `json:"kind"`
	PixKey      string           `json:"pix_key"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	ExpiresIn   int64            `json:"expires_in,omitempty"` // seconds, dynamic only
	Payload     string           `json:"payload"`
	ImageBase64 string           `json:"image_base64,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewStaticQRCode builds a reusable QR code and its creation event.
func NewStaticQRCode(externalID, pixKey, payload, imageBase64 string) (QRCode, Event) {
	qr := QRCode{
		ID:          uuid.NewString(),
		ExternalID:  externalID,
		Kind:        QRStatic,
		PixKey:      pixKey,
		Payload:     payload,
		ImageBase64: imageBase64,
		CreatedAt:   time.Now().UTC(),
	}
	return qr, NewQRCodeCreatedEvent(qr)
}

// NewDynamicQRCode builds a single-use, amount-bearing QR code and its
// creation event.
func NewDynamicQRCode(externalID, pixKey string, amount decimal.Decimal, expiresIn int64, payload, imageBase64 string) (QRCode, Event) {
	qr := QRCode{
		ID:          uuid.NewString(),
		ExternalID:  externalID,
		Kind:        QRDynamic,
		PixKey:      pixKey,
		Amount:      &amount,
		ExpiresIn:   expiresIn,
		Payload:     payload,
		ImageBase64: imageBase64,
		CreatedAt:   time.Now().UTC(),
	}
	return qr, NewQRCodeCreatedEvent(qr)
}
