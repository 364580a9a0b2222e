package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/domain"
)

// StatementClient fetches the bank statement for a date range.
type StatementClient struct {
	http    *http.Client
	baseURL string
	tokens  *TokenCache
}

func NewStatementClient(baseURL string, tokens *TokenCache) *StatementClient {
	return &StatementClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		tokens:  tokens,
	}
}

type statementLine struct {
	TxID        string `json:"tx_id"`
	EndToEndID  string `json:"end_to_end_id"`
	NossoNumero string `json:"nosso_numero"`
	ExternalID  string `json:"external_id"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	ProcessedAt string `json:"processed_at"`
}

// FetchStatement returns the bank's entries for the window. Errors are
// returned as-is; the reconciliation engine degrades them to an empty
// statement rather than aborting the run.
func (c *StatementClient) FetchStatement(ctx context.Context, bankCode string, from, to time.Time) ([]domain.StatementEntry, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("bank_code", bankCode)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/statements?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch statement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("statement endpoint returned %d", resp.StatusCode)
	}

	var lines []statementLine
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}

	entries := make([]domain.StatementEntry, 0, len(lines))
	for i, line := range lines {
		amount, err := decimal.NewFromString(line.Amount)
		if err != nil {
			return nil, fmt.Errorf("statement line %d: bad amount %q: %w", i, line.Amount, err)
		}
		processedAt, err := time.Parse(time.RFC3339, line.ProcessedAt)
		if err != nil {
			return nil, fmt.Errorf("statement line %d: bad processed_at %q: %w", i, line.ProcessedAt, err)
		}
		entries = append(entries, domain.StatementEntry{
			TxID:        line.TxID,
			EndToEndID:  line.EndToEndID,
			NossoNumero: line.NossoNumero,
			ExternalID:  line.ExternalID,
			Amount:      amount,
			Type:        line.Type,
			Status:      line.Status,
			ProcessedAt: processedAt,
		})
	}
	return entries, nil
}
