package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenFetcher obtains a fresh credential and its lifetime.
type TokenFetcher func(ctx context.Context) (token string, lifetime time.Duration, err error)

// TokenCache is the process-wide bank credential. Reads are lock-cheap; a
// refresh is guarded by its own mutex with a double-checked re-read so only
// one fetch is in flight under concurrent demand. The cached value is
// retired at 83% of its reported lifetime, ahead of real expiry.
type TokenCache struct {
	fetch TokenFetcher
	now   func() time.Time

	mu        sync.RWMutex
	token     string
	refreshAt time.Time

	refreshMu sync.Mutex
}

func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

// Token returns the cached credential, refreshing it first if it is absent
// or past its refresh deadline.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, refreshAt := c.token, c.refreshAt
	c.mu.RUnlock()
	if token != "" && c.now().Before(refreshAt) {
		return token, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	c.mu.RLock()
	token, refreshAt = c.token, c.refreshAt
	c.mu.RUnlock()
	if token != "" && c.now().Before(refreshAt) {
		return token, nil
	}

	fresh, lifetime, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh bank token: %w", err)
	}

	c.mu.Lock()
	c.token = fresh
	c.refreshAt = c.now().Add(lifetime * 83 / 100)
	c.mu.Unlock()

	return fresh, nil
}

// Invalidate drops the cached credential, forcing the next caller to fetch.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// OAuthTokenFetcher exchanges client credentials at the bank's token
// endpoint.
func OAuthTokenFetcher(client *http.Client, tokenURL, clientID, clientSecret string) TokenFetcher {
	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
			bytes.NewBufferString(form.Encode()))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", 0, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", 0, fmt.Errorf("decode token response: %w", err)
		}
		if strings.TrimSpace(body.AccessToken) == "" {
			return "", 0, fmt.Errorf("token endpoint returned empty access_token")
		}
		if body.ExpiresIn <= 0 {
			return "", 0, fmt.Errorf("token endpoint returned invalid expires_in %d", body.ExpiresIn)
		}
		return body.AccessToken, time.Duration(body.ExpiresIn) * time.Second, nil
	}
}
