package handler

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/service"
)

// UnlimitedAmount approves the maximum allowance, which transfers never
// decrement.
const UnlimitedAmount = "max"

type TokenHandler struct {
	tokenService *service.TokenService
	codec        AmountCodec
}

func NewTokenHandler(tokenService *service.TokenService, codec AmountCodec) *TokenHandler {
	return &TokenHandler{
		tokenService: tokenService,
		codec:        codec,
	}
}

type TokenResponse struct {
	TotalSupply    string `json:"total_supply"`
	Decimals       int32  `json:"decimals"`
	Custody        string `json:"custody"`
	CustodyBalance string `json:"custody_balance"`
}

type TokenBalanceResponse struct {
	Address          string `json:"address"`
	Balance          string `json:"balance"`
	BalanceBaseUnits string `json:"balance_base_units"`
}

type AllowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type FaucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type ApproveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	info, err := h.tokenService.Info(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		TotalSupply:    h.codec.Format(info.TotalSupply),
		Decimals:       info.Decimals,
		Custody:        info.Custody.Hex(),
		CustodyBalance: h.codec.Format(info.Liquidity),
	})
}

func (h *TokenHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}

	balance, err := h.tokenService.BalanceOf(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenBalanceResponse{
		Address:          address.Hex(),
		Balance:          h.codec.Format(balance),
		BalanceBaseUnits: balance.Dec(),
	})
}

func (h *TokenHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	address, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := h.codec.Parse(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	balance, err := h.tokenService.Faucet(r.Context(), address, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenBalanceResponse{
		Address:          address.Hex(),
		Balance:          h.codec.Format(balance),
		BalanceBaseUnits: balance.Dec(),
	})
}

// Approve sets an allowance. Without a spender the custody address is
// approved, which is what deposits and repayments draw on.
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	var spender *common.Address
	if req.Spender != "" {
		addr, err := parseAddress(req.Spender)
		if err != nil {
			writeError(w, err)
			return
		}
		spender = &addr
	}
	amount := new(uint256.Int).SetAllOne()
	if !strings.EqualFold(strings.TrimSpace(req.Amount), UnlimitedAmount) {
		if amount, err = h.codec.Parse(req.Amount); err != nil {
			writeError(w, err)
			return
		}
	}

	allowance, err := h.tokenService.Approve(r.Context(), owner, spender, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	target := h.tokenService.Custody()
	if spender != nil {
		target = *spender
	}
	writeJSON(w, http.StatusCreated, AllowanceResponse{
		Owner:     owner.Hex(),
		Spender:   target.Hex(),
		Allowance: h.codec.Format(allowance),
	})
}
