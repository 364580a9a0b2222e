// Package bank holds the outbound collaborators: settlement submission,
// statement retrieval, and the cached OAuth credential they share.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pagolivre/psp/internal/domain"
)

// Client submits payment instructions to the bank. Called best-effort from
// the command pipeline; the bank confirms asynchronously via webhook.
type Client struct {
	http    *http.Client
	baseURL string
	tokens  *TokenCache
}

func NewClient(baseURL string, tokens *TokenCache) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		tokens:  tokens,
	}
}

// SubmitSettlement sends the instruction for execution. A transport error or
// non-2xx status is returned as an error; the caller decides whether that is
// fatal (the pipeline treats it as informational).
func (c *Client) SubmitSettlement(ctx context.Context, tx *domain.Transaction) (*domain.SettlementResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"external_id":   tx.ExternalID,
		"type":          tx.Type,
		"amount":        domain.FormatAmount(tx.Amount),
		"currency":      tx.Currency,
		"bank_code":     tx.BankCode,
		"pix_key":       tx.PixKey,
		"branch":        tx.Branch,
		"account":       tx.AccountNumber,
		"payee_tax_id":  tx.PayeeTaxID,
		"due_date":      tx.DueDate,
		"payer_name":    tx.PayerName,
		"payer_tax_id":  tx.PayerTaxID,
		"instructions":  tx.Instructions,
		"asset_type":    tx.AssetType,
		"wallet":        tx.WalletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal settlement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/settlements", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit settlement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return nil, fmt.Errorf("bank rejected credentials (401)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank returned %d", resp.StatusCode)
	}

	var result domain.SettlementResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode settlement response: %w", err)
	}
	return &result, nil
}
