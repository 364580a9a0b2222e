package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pagolivre/psp/internal/eventlog"
	"github.com/pagolivre/psp/internal/pipeline"
	"github.com/pagolivre/psp/internal/reconciliation"
	"github.com/pagolivre/psp/internal/repository"
	"github.com/pagolivre/psp/internal/routing"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	commands  *pipeline.Service
	selector  *routing.Selector
	reconSvc  *reconciliation.Service
	txnRepo   *repository.TransactionRepo
	reconRepo *repository.ReconciliationRepo
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCommandError maps the pipeline error taxonomy onto HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case pipeline.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pipeline.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, eventlog.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func createdStatus(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

// --- payment instructions ---

func (h *Handlers) CreatePix(w http.ResponseWriter, r *http.Request) {
	var in pipeline.CreatePixInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.CreatePixTransfer(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

func (h *Handlers) CreateTed(w http.ResponseWriter, r *http.Request) {
	var in pipeline.CreateTedInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.CreateTedTransfer(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

func (h *Handlers) EmitBoleto(w http.ResponseWriter, r *http.Request) {
	var in pipeline.CreateBoletoInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.EmitBoleto(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

func (h *Handlers) CreateCrypto(w http.ResponseWriter, r *http.Request) {
	var in pipeline.CreateCryptoInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.CreateCryptoSettlement(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		Type:     q.Get("type"),
		Status:   q.Get("status"),
		BankCode: q.Get("bank_code"),
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	txns, total, err := h.txnRepo.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	tx, err := h.txnRepo.GetByExternalID(r.Context(), externalID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- QR codes ---

func (h *Handlers) GenerateStaticQR(w http.ResponseWriter, r *http.Request) {
	var in pipeline.StaticQRInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.GenerateStaticQR(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

func (h *Handlers) GenerateDynamicQR(w http.ResponseWriter, r *http.Request) {
	var in pipeline.DynamicQRInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.GenerateDynamicQR(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, createdStatus(result.Duplicate), result)
}

// --- bank webhook ---

func (h *Handlers) BankWebhook(w http.ResponseWriter, r *http.Request) {
	var in pipeline.ChangeStatusInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.commands.ChangeStatus(r.Context(), in)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- routing ---

func (h *Handlers) GetAccountsWithPriority(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	accounts, err := h.selector.GetAccountsWithPriority(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

type selectAccountRequest struct {
	ClientID string          `json:"client_id"`
	BankCode string          `json:"bank_code"`
	Amount   decimal.Decimal `json:"amount"`
}

func (h *Handlers) SelectAccount(w http.ResponseWriter, r *http.Request) {
	var req selectAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	selected, err := h.selector.SelectAccountForTransaction(r.Context(), req.ClientID, req.BankCode, req.Amount)
	if errors.Is(err, routing.ErrNoAccountAvailable) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, selected)
}

// --- reconciliation ---

type runReconciliationRequest struct {
	BankCode string `json:"bank_code"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (h *Handlers) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req runReconciliationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from := parseTime(req.From)
	to := parseTime(req.To)
	if req.BankCode == "" || from == nil || to == nil {
		writeError(w, http.StatusBadRequest, "bank_code, from and to are required")
		return
	}

	batch, err := h.reconSvc.Run(r.Context(), req.BankCode, *from, *to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":               batch,
		"reconciliation_rate": batch.Rate(),
	})
}

func (h *Handlers) ListReconciliationBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := parseTime(q.Get("from"))
	to := parseTime(q.Get("to"))
	if from == nil {
		t := time.Now().AddDate(0, -1, 0)
		from = &t
	}
	if to == nil {
		t := time.Now()
		to = &t
	}

	batches, err := h.reconRepo.ListBatches(r.Context(), *from, *to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}
