package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/pagolivre/psp/internal/api"
	"github.com/pagolivre/psp/internal/bank"
	"github.com/pagolivre/psp/internal/bus"
	"github.com/pagolivre/psp/internal/config"
	"github.com/pagolivre/psp/internal/domain"
	"github.com/pagolivre/psp/internal/eventlog"
	"github.com/pagolivre/psp/internal/pipeline"
	"github.com/pagolivre/psp/internal/reconciliation"
	"github.com/pagolivre/psp/internal/repository"
	"github.com/pagolivre/psp/internal/routing"
)

func main() {
	cfg := config.Load()

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Repositories and the event log.
	txnRepo := repository.NewTransactionRepo(db)
	qrRepo := repository.NewQRCodeRepo(db)
	reconRepo := repository.NewReconciliationRepo(db)
	events := eventlog.NewStore(db)

	// Message bus. Downstream services consume from here; locally we keep an
	// audit subscriber.
	eventBus := bus.NewInProcessBus()
	eventBus.Subscribe("*", func(_ context.Context, evt domain.Event) error {
		log.Printf("[events] %s v%d aggregate=%s", evt.Type, evt.Version, evt.AggregateID)
		return nil
	})

	// Bank collaborators share one cached credential.
	tokens := bank.NewTokenCache(bank.OAuthTokenFetcher(
		&http.Client{Timeout: 10 * time.Second},
		cfg.BankTokenURL, cfg.BankClientID, cfg.BankClientKey,
	))
	bankClient := bank.NewClient(cfg.BankAPIURL, tokens)
	statements := bank.NewStatementClient(cfg.StatementURL, tokens)

	// Services.
	commands := pipeline.NewService(txnRepo, qrRepo, events, eventBus, bankClient,
		cfg.MerchantName, cfg.MerchantCity)
	selector := routing.NewSelector(
		bank.NewAccountInventoryClient(cfg.AccountsAPIURL),
		bank.NewPriorityConfigClient(cfg.PrioritiesURL),
	)
	reconSvc := reconciliation.NewService(txnRepo, statements, reconRepo)

	go runReconciliationSchedule(reconSvc, cfg.DefaultBankCode, cfg.ReconIntervalHours)

	router := api.NewRouter(commands, selector, reconSvc, txnRepo, reconRepo)

	log.Printf("PagoLivre PSP Core")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/transactions/{pix,ted,boleto,crypto}")
	log.Printf("  GET    /api/v1/transactions")
	log.Printf("  POST   /api/v1/qrcodes/{static,dynamic}")
	log.Printf("  POST   /api/v1/webhooks/bank")
	log.Printf("  GET    /api/v1/routing/accounts/{clientID}")
	log.Printf("  POST   /api/v1/routing/select")
	log.Printf("  POST   /api/v1/reconciliation/run")
	log.Printf("  GET    /api/v1/reconciliation/batches")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// runReconciliationSchedule reconciles the previous interval on a fixed
// cadence. Each run is bounded so a hung statement fetch cannot stall the
// schedule.
func runReconciliationSchedule(svc *reconciliation.Service, bankCode string, intervalHours int) {
	interval := time.Duration(intervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		to := time.Now().UTC()
		from := to.Add(-interval)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if _, err := svc.Run(ctx, bankCode, from, to); err != nil {
			log.Printf("[main] WARNING: scheduled reconciliation failed: %v", err)
		}
		cancel()
	}
}
