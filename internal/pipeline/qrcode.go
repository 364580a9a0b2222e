package pipeline

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	qrimage "github.com/skip2/go-qrcode"

	"github.com/pagolivre/psp/internal/domain"
	"github.com/pagolivre/psp/internal/emv"
)

// QRResult is the response of the QR generation commands.
type QRResult struct {
	QRCode    *domain.QRCode `json:"qr_code"`
	Duplicate bool           `json:"duplicate"`
}

type StaticQRInput struct {
	ExternalID  string `json:"external_id"`
	PixKey      string `json:"pix_key"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// GenerateStaticQR produces a reusable PIX QR code. Re-issuing the same
// ExternalID returns the previously generated payload unchanged.
func (s *Service) GenerateStaticQR(ctx context.Context, in StaticQRInput) (*QRResult, error) {
	if existing, err := s.lookupQR(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &QRResult{QRCode: existing, Duplicate: true}, nil
	}

	if err := validateExternalID(in.ExternalID); err != nil {
		return nil, err
	}
	if err := validatePixKey(in.PixKey); err != nil {
		return nil, err
	}

	reference := in.Reference
	if reference == "" {
		reference = "***"
	}
	payload, err := emv.Encode(emv.Payload{
		Key:          in.PixKey,
		MerchantName: s.merchantName,
		MerchantCity: s.merchantCity,
		Description:  in.Description,
		Reference:    reference,
	})
	if err != nil {
		return nil, validationErrorf("encode payload: %v", err)
	}

	qr, evt := domain.NewStaticQRCode(in.ExternalID, in.PixKey, payload, renderImage(payload))
	return s.persistQR(ctx, qr, evt)
}

type DynamicQRInput struct {
	ExternalID string          `json:"external_id"`
	PixKey     string          `json:"pix_key"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiresIn  int64           `json:"expires_in"`
	TxID       string          `json:"tx_id"`
}

// GenerateDynamicQR produces a single-use, amount-bearing PIX QR code.
func (s *Service) GenerateDynamicQR(ctx context.Context, in DynamicQRInput) (*QRResult, error) {
	if existing, err := s.lookupQR(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &QRResult{QRCode: existing, Duplicate: true}, nil
	}

	if err := validateExternalID(in.ExternalID); err != nil {
		return nil, err
	}
	if err := validatePixKey(in.PixKey); err != nil {
		return nil, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.ExpiresIn <= 0 {
		return nil, validationErrorf("expires_in must be positive, got %d", in.ExpiresIn)
	}

	payload, err := emv.Encode(emv.Payload{
		Key:          in.PixKey,
		MerchantName: s.merchantName,
		MerchantCity: s.merchantCity,
		TxID:         in.TxID,
		Amount:       in.Amount,
		Dynamic:      true,
	})
	if err != nil {
		return nil, validationErrorf("encode payload: %v", err)
	}

	qr, evt := domain.NewDynamicQRCode(in.ExternalID, in.PixKey, in.Amount,
		in.ExpiresIn, payload, renderImage(payload))
	return s.persistQR(ctx, qr, evt)
}

func (s *Service) persistQR(ctx context.Context, qr domain.QRCode, evt domain.Event) (*QRResult, error) {
	inserted, err := s.qrRepo.Insert(ctx, &qr)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.qrRepo.GetByExternalID(ctx, qr.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("re-read after duplicate insert: %w", err)
		}
		return &QRResult{QRCode: existing, Duplicate: true}, nil
	}

	if err := s.events.Append(ctx, qr.ID, []domain.Event{evt}, 0); err != nil {
		return nil, err
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return &QRResult{QRCode: &qr}, nil
}

func (s *Service) lookupQR(ctx context.Context, externalID string) (*domain.QRCode, error) {
	qr, err := s.qrRepo.GetByExternalID(ctx, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return qr, nil
}

// renderImage rasterizes the payload as a PNG. The text payload is the
// authoritative artifact; rendering problems are logged and leave the image
// empty.
func renderImage(payload string) string {
	png, err := qrimage.Encode(payload, qrimage.Medium, 256)
	if err != nil {
		log.Printf("[pipeline] WARNING: qr image render failed: %v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(png)
}
