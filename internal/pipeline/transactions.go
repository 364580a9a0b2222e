package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

type CreatePixInput struct {
	ExternalID string          `json:"external_id"`
	PixKey     string          `json:"pix_key"`
	Amount     decimal.Decimal `json:"amount"`
	BankCode   string          `json:"bank_code"`
}

// CreatePixTransfer initiates a PIX transfer.
func (s *Service) CreatePixTransfer(ctx context.Context, in CreatePixInput) (*CreateResult, error) {
	if existing, err := s.lookupExisting(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateResult{Transaction: existing, Duplicate: true}, nil
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

	tx, events := domain.NewPixTransaction(in.ExternalID, strings.TrimSpace(in.PixKey), in.Amount, in.BankCode)
	return s.createTransaction(ctx, tx, events)
}

type CreateTedInput struct {
	ExternalID    string          `json:"external_id"`
	Branch        string          `json:"branch"`
	AccountNumber string          `json:"account_number"`
	PayeeTaxID    string          `json:"payee_tax_id"`
	Amount        decimal.Decimal `json:"amount"`
	BankCode      string          `json:"bank_code"`
}

// CreateTedTransfer initiates a TED transfer.
func (s *Service) CreateTedTransfer(ctx context.Context, in CreateTedInput) (*CreateResult, error) {
	if existing, err := s.lookupExisting(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateResult{Transaction: existing, Duplicate: true}, nil
	}

	if err := validateExternalID(in.ExternalID); err != nil {
		return nil, err
	}
	if in.Branch == "" || in.AccountNumber == "" {
		return nil, validationErrorf("branch and account_number are required")
	}
	if !isDigits(in.PayeeTaxID) || (len(in.PayeeTaxID) != 11 && len(in.PayeeTaxID) != 14) {
		return nil, validationErrorf("payee_tax_id must be a CPF or CNPJ")
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}

	tx, events := domain.NewTedTransaction(in.ExternalID, in.Branch, in.AccountNumber,
		in.PayeeTaxID, in.Amount, in.BankCode)
	return s.createTransaction(ctx, tx, events)
}

type CreateBoletoInput struct {
	ExternalID   string          `json:"external_id"`
	Amount       decimal.Decimal `json:"amount"`
	BankCode     string          `json:"bank_code"`
	DueDate      time.Time       `json:"due_date"`
	PayerName    string          `json:"payer_name"`
	PayerTaxID   string          `json:"payer_tax_id"`
	Instructions string          `json:"instructions"`
}

// EmitBoleto creates a boleto charge.
func (s *Service) EmitBoleto(ctx context.Context, in CreateBoletoInput) (*CreateResult, error) {
	if existing, err := s.lookupExisting(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateResult{Transaction: existing, Duplicate: true}, nil
	}

	if err := validateExternalID(in.ExternalID); err != nil {
		return nil, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.DueDate.IsZero() || in.DueDate.Before(time.Now()) {
		return nil, validationErrorf("due_date must be in the future")
	}
	if strings.TrimSpace(in.PayerName) == "" {
		return nil, validationErrorf("payer_name is required")
	}
	if !isDigits(in.PayerTaxID) || (len(in.PayerTaxID) != 11 && len(in.PayerTaxID) != 14) {
		return nil, validationErrorf("payer_tax_id must be a CPF or CNPJ")
	}

	tx, events := domain.NewBoletoTransaction(in.ExternalID, in.Amount, in.BankCode,
		in.DueDate, in.PayerName, in.PayerTaxID, in.Instructions)
	return s.createTransaction(ctx, tx, events)
}

type CreateCryptoInput struct {
	ExternalID    string          `json:"external_id"`
	AssetType     string          `json:"asset_type"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	BankCode      string          `json:"bank_code"`
}

// CreateCryptoSettlement initiates a crypto payout.
func (s *Service) CreateCryptoSettlement(ctx context.Context, in CreateCryptoInput) (*CreateResult, error) {
	if existing, err := s.lookupExisting(ctx, in.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateResult{Transaction: existing, Duplicate: true}, nil
	}

	if err := validateExternalID(in.ExternalID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.AssetType) == "" {
		return nil, validationErrorf("asset_type is required")
	}
	if strings.TrimSpace(in.WalletAddress) == "" {
		return nil, validationErrorf("wallet_address is required")
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}

	tx, events := domain.NewCryptoTransaction(in.ExternalID, in.AssetType,
		in.WalletAddress, in.Amount, in.BankCode)
	return s.createTransaction(ctx, tx, events)
}
