package handler

import (
	"time"

	"github.com/holiman/uint256"

	"interest-bank/internal/domain"
)

type AccountResponse struct {
	Address          string `json:"address"`
	Balance          string `json:"balance"`
	BalanceBaseUnits string `json:"balance_base_units"`
	LastSettledBlock uint64 `json:"last_settled_block"`
}

type LoanResponse struct {
	Borrower   string `json:"borrower"`
	Principal  string `json:"principal"`
	StartBlock uint64 `json:"start_block"`
	Interest   string `json:"interest"`
	AmountDue  string `json:"amount_due"`
	Block      uint64 `json:"block"`
}

type TransactionResponse struct {
	TransactionID  string    `json:"transaction_id"`
	Kind           string    `json:"kind"`
	Address        string    `json:"address"`
	Amount         string    `json:"amount"`
	Interest       *string   `json:"interest,omitempty"`
	Balance        *string   `json:"balance,omitempty"`
	Block          uint64    `json:"block"`
	Status         string    `json:"status"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type StatsResponse struct {
	Block                uint64 `json:"block"`
	Liquidity            string `json:"liquidity"`
	TotalDeposits        string `json:"total_deposits"`
	OutstandingPrincipal string `json:"outstanding_principal"`
	OutstandingLoans     int    `json:"outstanding_loans"`
	Accounts             int    `json:"accounts"`
}

func (c AmountCodec) account(acc *domain.Account) AccountResponse {
	return AccountResponse{
		Address:          acc.Address.Hex(),
		Balance:          c.Format(acc.Balance),
		BalanceBaseUnits: acc.Balance.Dec(),
		LastSettledBlock: acc.LastSettledBlock,
	}
}

func (c AmountCodec) loan(r *domain.Repayment) LoanResponse {
	return LoanResponse{
		Borrower:   r.Loan.Borrower.Hex(),
		Principal:  c.Format(r.Loan.Principal),
		StartBlock: r.Loan.StartBlock,
		Interest:   c.Format(r.Interest),
		AmountDue:  c.Format(r.Total),
		Block:      r.Block,
	}
}

func (c AmountCodec) transaction(e *domain.Entry) TransactionResponse {
	resp := TransactionResponse{
		TransactionID: e.ID.String(),
		Kind:          string(e.Kind),
		Address:       e.Address.Hex(),
		Amount:        c.Format(e.Amount),
		Interest:      c.optional(e.Interest),
		Balance:       c.optional(e.Balance),
		Block:         e.Block,
		Status:        e.Status,
		ErrorCode:     e.ErrorCode,
		ErrorMessage:  e.ErrorMessage,
		CreatedAt:     e.CreatedAt,
	}
	if e.IdempotencyKey != nil {
		key := e.IdempotencyKey.String()
		resp.IdempotencyKey = &key
	}
	return resp
}

func (c AmountCodec) stats(s *domain.LedgerStats) StatsResponse {
	return StatsResponse{
		Block:                s.Block,
		Liquidity:            c.Format(s.Liquidity),
		TotalDeposits:        c.Format(s.TotalDeposits),
		OutstandingPrincipal: c.Format(s.OutstandingPrincipal),
		OutstandingLoans:     s.OutstandingLoans,
		Accounts:             s.Accounts,
	}
}

func (c AmountCodec) optional(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := c.Format(v)
	return &s
}
