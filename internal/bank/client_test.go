package bank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pagolivre/psp/internal/domain"
)

func staticTokens(token string) *TokenCache {
	return NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		return token, time.Hour, nil
	})
}

func TestSubmitSettlement(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/settlements", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"bank_transaction_id":"bk-1","status":"accepted"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticTokens("tok-1"))
	tx, _ := domain.NewPixTransaction("ext-1", "a@b.com", decimal.RequireFromString("10.00"), "341")

	result, err := client.SubmitSettlement(context.Background(), &tx)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "bk-1", result.BankTransactionID)
	require.Equal(t, "Bearer tok-1", gotAuth)
}

func TestSubmitSettlementInvalidatesTokenOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	fetches := 0
	tokens := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		fetches++
		return "tok", time.Hour, nil
	})
	client := NewClient(srv.URL, tokens)
	tx, _ := domain.NewPixTransaction("ext-1", "a@b.com", decimal.RequireFromString("10.00"), "341")

	_, err := client.SubmitSettlement(context.Background(), &tx)
	require.ErrorContains(t, err, "401")

	// The stale credential was dropped, so the retry fetches again.
	_, err = client.SubmitSettlement(context.Background(), &tx)
	require.Error(t, err)
	require.Equal(t, 2, fetches)
}

func TestFetchStatement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "341", r.URL.Query().Get("bank_code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"tx_id":"TX1","amount":"100.00","type":"pix","status":"settled","processed_at":"2026-08-28T10:00:00Z"},
			{"end_to_end_id":"E1","amount":"50.50","type":"pix","status":"settled","processed_at":"2026-08-28T11:00:00Z"}
		]`))
	}))
	defer srv.Close()

	client := NewStatementClient(srv.URL, staticTokens("tok"))
	from := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	entries, err := client.FetchStatement(context.Background(), "341", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "TX1", entries[0].TxID)
	require.True(t, entries[0].Amount.Equal(decimal.RequireFromString("100.00")))
	require.Equal(t, "E1", entries[1].EndToEndID)
}

func TestFetchStatementRejectsBadAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"tx_id":"TX1","amount":"not-a-number","processed_at":"2026-08-28T10:00:00Z"}]`))
	}))
	defer srv.Close()

	client := NewStatementClient(srv.URL, staticTokens("tok"))
	_, err := client.FetchStatement(context.Background(), "341", time.Now().Add(-time.Hour), time.Now())
	require.ErrorContains(t, err, "bad amount")
}

func TestFetchStatementNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewStatementClient(srv.URL, staticTokens("tok"))
	_, err := client.FetchStatement(context.Background(), "341", time.Now().Add(-time.Hour), time.Now())
	require.ErrorContains(t, err, "502")
}
