package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagolivre/psp/internal/pipeline"
	"github.com/pagolivre/psp/internal/reconciliation"
	"github.com/pagolivre/psp/internal/repository"
	"github.com/pagolivre/psp/internal/routing"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	commands *pipeline.Service,
	selector *routing.Selector,
	reconSvc *reconciliation.Service,
	txnRepo *repository.TransactionRepo,
	reconRepo *repository.ReconciliationRepo,
) http.Handler {
	h := &Handlers{
		commands:  commands,
		selector:  selector,
		reconSvc:  reconSvc,
		txnRepo:   txnRepo,
		reconRepo: reconRepo,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Payment instructions.
		r.Post("/transactions/pix", h.CreatePix)
		r.Post("/transactions/ted", h.CreateTed)
		r.Post("/transactions/boleto", h.EmitBoleto)
		r.Post("/transactions/crypto", h.CreateCrypto)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{externalID}", h.GetTransaction)

		// PIX QR codes.
		r.Post("/qrcodes/static", h.GenerateStaticQR)
		r.Post("/qrcodes/dynamic", h.GenerateDynamicQR)

		// Bank notifications.
		r.Post("/webhooks/bank", h.BankWebhook)

		// Settlement routing.
		r.Get("/routing/accounts/{clientID}", h.GetAccountsWithPriority)
		r.Post("/routing/select", h.SelectAccount)

		// Reconciliation.
		r.Post("/reconciliation/run", h.RunReconciliation)
		r.Get("/reconciliation/batches", h.ListReconciliationBatches)
	})

	return r
}
