package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pagolivre/psp/internal/domain"
)

// AccountInventoryClient reads a client's settlement accounts from the
// account service.
type AccountInventoryClient struct {
	http    *http.Client
	baseURL string
}

func NewAccountInventoryClient(baseURL string) *AccountInventoryClient {
	return &AccountInventoryClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

func (c *AccountInventoryClient) AccountsForClient(ctx context.Context, clientID string) ([]domain.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/clients/"+clientID+"/accounts", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("account inventory returned %d", resp.StatusCode)
	}

	var accounts []domain.Account
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// PriorityConfigClient reads a client's priority configuration. A 404 means
// no weighting is configured, which is a valid answer, not an error.
type PriorityConfigClient struct {
	http    *http.Client
	baseURL string
}

func NewPriorityConfigClient(baseURL string) *PriorityConfigClient {
	return &PriorityConfigClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

func (c *PriorityConfigClient) PriorityForClient(ctx context.Context, clientID string) (*domain.PriorityConfiguration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/clients/"+clientID+"/priority", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch priority config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("priority config returned %d", resp.StatusCode)
	}

	var cfg domain.PriorityConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode priority config: %w", err)
	}
	return &cfg, nil
}
