package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pagolivre/psp/internal/bus"
	"github.com/pagolivre/psp/internal/domain"
	"github.com/pagolivre/psp/internal/emv"
	"github.com/pagolivre/psp/internal/eventlog"
	"github.com/pagolivre/psp/internal/repository"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeBank stands in for the settlement client. It records submissions and
// can be told to fail or decline.
type fakeBank struct {
	mu        sync.Mutex
	submitted []string
	err       error
	decline   string
}

func (f *fakeBank) SubmitSettlement(_ context.Context, tx *domain.Transaction) (*domain.SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, tx.ID)
	if f.decline != "" {
		return &domain.SettlementResult{Success: false, ErrorMessage: f.decline}, nil
	}
	return &domain.SettlementResult{Success: true, BankTransactionID: "bank-" + tx.ID, Status: "accepted"}, nil
}

type testEnv struct {
	svc    *Service
	bank   *fakeBank
	db     *sql.DB
	txRepo *repository.TransactionRepo
	events *eventlog.Store
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	f, err := os.CreateTemp("", "psp-pipeline-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	f.Close()

	db, err := repository.InitDB(path)
	require.NoError(t, err)
	// Serialize writers at the pool so concurrent commands contend in the
	// application layer, not on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})

	txRepo := repository.NewTransactionRepo(db)
	qrRepo := repository.NewQRCodeRepo(db)
	events := eventlog.NewStore(db)
	bank := &fakeBank{}
	svc := NewService(txRepo, qrRepo, events, bus.NewInProcessBus(), bank, "PAGOLIVRE", "SAO PAULO")
	return &testEnv{svc: svc, bank: bank, db: db, txRepo: txRepo, events: events}
}

func TestCreatePixTransferIsIdempotent(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	in := CreatePixInput{
		ExternalID: "pix-1",
		PixKey:     "a@b.com",
		Amount:     decimal.RequireFromString("150.00"),
		BankCode:   "341",
	}

	first, err := env.svc.CreatePixTransfer(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, domain.StatusPending, first.Transaction.Status)

	second, err := env.svc.CreatePixTransfer(ctx, in)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Transaction.ID, second.Transaction.ID)

	count, err := env.txRepo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// The replay must not re-append the creation event.
	events, err := env.events.GetEvents(ctx, first.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventTransactionCreated, events[0].Type)
}

func TestCreatePixTransferValidation(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("10.00")

	cases := []struct {
		name string
		in   CreatePixInput
	}{
		{"missing external id", CreatePixInput{PixKey: "a@b.com", Amount: amount}},
		{"bad pix key", CreatePixInput{ExternalID: "x-1", PixKey: "not a key", Amount: amount}},
		{"short cpf key", CreatePixInput{ExternalID: "x-2", PixKey: "12345", Amount: amount}},
		{"zero amount", CreatePixInput{ExternalID: "x-3", PixKey: "a@b.com", Amount: decimal.Zero}},
		{"negative amount", CreatePixInput{ExternalID: "x-4", PixKey: "a@b.com", Amount: decimal.RequireFromString("-1")}},
		{"sub-cent amount", CreatePixInput{ExternalID: "x-5", PixKey: "a@b.com", Amount: decimal.RequireFromString("1.005")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreatePixTransfer(ctx, tc.in)
			require.Error(t, err)
			require.True(t, IsValidationError(err), "want validation error, got %v", err)
		})
	}

	// Nothing may have been persisted.
	count, err := env.txRepo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestCreateAcceptsAllPixKeyKinds(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	keys := []string{
		"12345678901",                          // CPF
		"12345678000195",                       // CNPJ
		"fulano@example.com",                   // email
		"+5511998765432",                       // phone
		"123e4567-e89b-12d3-a456-426614174000", // EVP
	}
	for i, key := range keys {
		_, err := env.svc.CreatePixTransfer(ctx, CreatePixInput{
			ExternalID: "key-" + string(rune('a'+i)),
			PixKey:     key,
			Amount:     decimal.RequireFromString("5.00"),
			BankCode:   "341",
		})
		require.NoError(t, err, "key %q", key)
	}
}

func TestBankFailureDoesNotFailCreation(t *testing.T) {
	env := newTestService(t)
	env.bank.err = errors.New("connection refused")
	ctx := context.Background()

	res, err := env.svc.CreateTedTransfer(ctx, CreateTedInput{
		ExternalID:    "ted-1",
		Branch:        "0001",
		AccountNumber: "12345-6",
		PayeeTaxID:    "12345678901",
		Amount:        decimal.RequireFromString("500.00"),
		BankCode:      "341",
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Contains(t, res.IntegrationNote, "bank submission failed")
	require.Equal(t, domain.StatusPending, res.Transaction.Status)

	// The record survives for the retry path.
	stored, err := env.txRepo.GetByExternalID(ctx, "ted-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, stored.Status)
}

func TestBankDeclineIsReportedAsNote(t *testing.T) {
	env := newTestService(t)
	env.bank.decline = "insufficient funds"
	ctx := context.Background()

	res, err := env.svc.CreateCryptoSettlement(ctx, CreateCryptoInput{
		ExternalID:    "crypto-1",
		AssetType:     "DEPIX",
		WalletAddress: "VJL7nYrApF3843x2rkAXBy9M1E2TzW8MsU6q",
		Amount:        decimal.RequireFromString("1000.00"),
		BankCode:      "341",
	})
	require.NoError(t, err)
	require.Contains(t, res.IntegrationNote, "insufficient funds")
}

func TestEmitBoletoRejectsPastDueDate(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.EmitBoleto(context.Background(), CreateBoletoInput{
		ExternalID: "boleto-1",
		Amount:     decimal.RequireFromString("250.00"),
		BankCode:   "237",
		DueDate:    time.Now().Add(-24 * time.Hour),
		PayerName:  "Maria Souza",
		PayerTaxID: "12345678901",
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestGenerateStaticQRIdempotent(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	in := StaticQRInput{ExternalID: "qr-1", PixKey: "a@b.com"}

	first, err := env.svc.GenerateStaticQR(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.True(t, emv.Validate(first.QRCode.Payload))
	require.Equal(t, domain.QRStatic, first.QRCode.Kind)
	require.NotEmpty(t, first.QRCode.ImageBase64)

	second, err := env.svc.GenerateStaticQR(ctx, in)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.QRCode.Payload, second.QRCode.Payload)
}

func TestGenerateDynamicQRCarriesAmount(t *testing.T) {
	env := newTestService(t)
	amount := decimal.RequireFromString("123.45")

	res, err := env.svc.GenerateDynamicQR(context.Background(), DynamicQRInput{
		ExternalID: "qr-2",
		PixKey:     "a@b.com",
		Amount:     amount,
		ExpiresIn:  3600,
		TxID:       "TX1234",
	})
	require.NoError(t, err)
	require.True(t, emv.Validate(res.QRCode.Payload))

	d, err := emv.Decode(res.QRCode.Payload)
	require.NoError(t, err)
	require.True(t, d.Dynamic())
	require.Equal(t, "123.45", d.Amount)
	require.Equal(t, "TX1234", d.TxID)
	require.True(t, strings.Contains(res.QRCode.Payload, "br.gov.bcb.pix"))
}

func TestChangeStatusFlow(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.CreatePixTransfer(ctx, CreatePixInput{
		ExternalID: "pix-status",
		PixKey:     "a@b.com",
		Amount:     decimal.RequireFromString("10.00"),
		BankCode:   "341",
	})
	require.NoError(t, err)

	res, err := env.svc.ChangeStatus(ctx, ChangeStatusInput{
		ExternalID: "pix-status",
		NewStatus:  domain.StatusProcessing,
		EndToEndID: "E34120260829001",
		Reason:     "accepted by bank",
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyApplied)
	require.Equal(t, domain.StatusProcessing, res.Transaction.Status)
	require.Equal(t, "E34120260829001", res.Transaction.EndToEndID)
	require.Equal(t, int64(2), res.Transaction.Version)

	// Redelivered notification with the same target status is a no-op.
	replay, err := env.svc.ChangeStatus(ctx, ChangeStatusInput{
		ExternalID: "pix-status",
		NewStatus:  domain.StatusProcessing,
	})
	require.NoError(t, err)
	require.True(t, replay.AlreadyApplied)

	// Resolution by bank reference instead of external id.
	confirmed, err := env.svc.ChangeStatus(ctx, ChangeStatusInput{
		EndToEndID: "E34120260829001",
		NewStatus:  domain.StatusConfirmed,
		Reason:     "settled",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, confirmed.Transaction.Status)

	events, err := env.events.GetEvents(ctx, created.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventStatusChanged, events[2].Type)
}

func TestChangeStatusRejectsInvalidTransition(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.CreatePixTransfer(ctx, CreatePixInput{
		ExternalID: "pix-final",
		PixKey:     "a@b.com",
		Amount:     decimal.RequireFromString("10.00"),
		BankCode:   "341",
	})
	require.NoError(t, err)

	_, err = env.svc.ChangeStatus(ctx, ChangeStatusInput{
		ExternalID: "pix-final",
		NewStatus:  domain.StatusCancelled,
	})
	require.NoError(t, err)

	// Cancelled is terminal.
	_, err = env.svc.ChangeStatus(ctx, ChangeStatusInput{
		ExternalID: "pix-final",
		NewStatus:  domain.StatusConfirmed,
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestChangeStatusConflictLeavesStateUntouched(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	created, err := env.svc.CreatePixTransfer(ctx, CreatePixInput{
		ExternalID: "pix-atomic",
		PixKey:     "a@b.com",
		Amount:     decimal.RequireFromString("10.00"),
		BankCode:   "341",
	})
	require.NoError(t, err)

	// Push the projection ahead of the stream, the state a stale redelivery
	// observes mid-race.
	_, err = env.db.Exec("UPDATE transactions SET version = 2 WHERE external_id = ?", "pix-atomic")
	require.NoError(t, err)

	_, err = env.svc.ChangeStatus(ctx, ChangeStatusInput{
		ExternalID: "pix-atomic",
		NewStatus:  domain.StatusProcessing,
	})
	require.ErrorIs(t, err, eventlog.ErrVersionConflict)

	// The aborted command rolls back as a unit: no event appended, no
	// projection change.
	events, err := env.events.GetEvents(ctx, created.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	stored, err := env.txRepo.GetByExternalID(ctx, "pix-atomic")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, stored.Status)
	require.Equal(t, int64(2), stored.Version)
}

func TestChangeStatusUnknownTransaction(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.ChangeStatus(context.Background(), ChangeStatusInput{
		ExternalID: "missing",
		EndToEndID: "E000",
		NewStatus:  domain.StatusConfirmed,
	})
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestConcurrentCreationSameExternalID(t *testing.T) {
	env := newTestService(t)
	in := CreatePixInput{
		ExternalID: "pix-race",
		PixKey:     "a@b.com",
		Amount:     decimal.RequireFromString("42.00"),
		BankCode:   "341",
	}

	const writers = 8
	results := make([]*CreateResult, writers)
	errs := make([]error, writers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.svc.CreatePixTransfer(context.Background(), in)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	var id string
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i], "writer %d", i)
		if !results[i].Duplicate {
			winners++
		}
		if id == "" {
			id = results[i].Transaction.ID
		}
		require.Equal(t, id, results[i].Transaction.ID, "writer %d resolved a different transaction", i)
	}
	require.Equal(t, 1, winners, "exactly one writer may create the record")

	count, err := env.txRepo.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	events, err := env.events.GetEvents(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
