package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"interest-bank/internal/errors"
	"interest-bank/internal/service"
)

type LedgerHandler struct {
	bankService *service.BankService
	codec       AmountCodec
}

func NewLedgerHandler(bankService *service.BankService, codec AmountCodec) *LedgerHandler {
	return &LedgerHandler{
		bankService: bankService,
		codec:       codec,
	}
}

type ActionRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type actionFunc func(context.Context, *service.ActionRequest) (*service.Result, error)

func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, true, h.bankService.Deposit)
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, true, h.bankService.Withdraw)
}

func (h *LedgerHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, true, h.bankService.Borrow)
}

func (h *LedgerHandler) Repay(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, false, h.bankService.Repay)
}

// act decodes an action request, runs it and writes the journal entry. New
// entries answer 201, idempotent replays 200.
func (h *LedgerHandler) act(w http.ResponseWriter, r *http.Request, needsAmount bool, run actionFunc) {
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body ActionRequest
	if err := decodeBody(r, &body, !needsAmount); err != nil {
		writeError(w, err)
		return
	}

	req := &service.ActionRequest{Address: address}
	if needsAmount {
		if req.Amount, err = h.codec.Parse(body.Amount); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.IdempotencyKey, err = idempotencyKey(r, body.IdempotencyKey); err != nil {
		writeError(w, err)
		return
	}

	result, err := run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, h.codec.transaction(result.Entry))
}

func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}

	acc, err := h.bankService.Account(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.codec.account(acc))
}

func (h *LedgerHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}

	quote, err := h.bankService.Loan(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.codec.loan(quote))
}

func (h *LedgerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bankService.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.codec.stats(stats))
}

func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid transaction id").WithDetails(err.Error()))
		return
	}

	entry, err := h.bankService.Entry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.codec.transaction(entry))
}
