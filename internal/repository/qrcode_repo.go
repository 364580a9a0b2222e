package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

type QRCodeRepo struct {
	db *sql.DB
}

func NewQRCodeRepo(db *sql.DB) *QRCodeRepo {
	return &QRCodeRepo{db: db}
}

// Insert stores a QR code. Returns false when the external_id already has
// one; QR codes are immutable after creation, so the caller re-reads.
func (r *QRCodeRepo) Insert(ctx context.Context, qr *domain.QRCode) (bool, error) {
	var amount any
	if qr.Amount != nil {
		amount = qr.Amount.String()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO qrcodes
		(id, external_id, kind, pix_key, amount, expires_in, payload, image_base64, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		qr.ID, qr.ExternalID, string(qr.Kind), qr.PixKey, amount,
		qr.ExpiresIn, qr.Payload, qr.ImageBase64,
		qr.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert qrcode: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return ra > 0, nil
}

func (r *QRCodeRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.QRCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, external_id, kind, pix_key, amount, expires_in, payload,
		        image_base64, created_at
		 FROM qrcodes WHERE external_id = ?`, externalID)

	var qr domain.QRCode
	var kind, createdAt string
	var amount, image sql.NullString
	err := row.Scan(&qr.ID, &qr.ExternalID, &kind, &qr.PixKey, &amount,
		&qr.ExpiresIn, &qr.Payload, &image, &createdAt)
	if err != nil {
		return nil, err
	}

	qr.Kind = domain.QRCodeKind(kind)
	qr.ImageBase64 = image.String
	if amount.Valid {
		d, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q for %s: %w", amount.String, qr.ID, err)
		}
		qr.Amount = &d
	}
	qr.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", qr.ID, err)
	}
	return &qr, nil
}
