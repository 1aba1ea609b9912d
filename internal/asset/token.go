// Package asset implements the fungible token the ledger keeps in custody.
package asset

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/domain"
)

var (
	ErrInsufficientFunds     = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrSupplyOverflow        = errors.New("token: total supply overflow")
)

// Token is an ERC-20 style fungible asset.
type Token interface {
	BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	// Faucet mints amount to the recipient.
	Faucet(ctx context.Context, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from one holder to another on behalf of
	// spender. A holder spending its own funds needs no allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

type custody struct {
	token     Token
	custodian common.Address
}

// Custody binds token to the custodian so the ledger can pull deposits and
// repayments out of holders' allowances and pay out of its own balance.
func Custody(token Token, custodian common.Address) domain.AssetLedger {
	return &custody{token: token, custodian: custodian}
}

func (c *custody) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return c.token.TransferFrom(ctx, c.custodian, from, to, amount)
}

func (c *custody) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return c.token.BalanceOf(ctx, addr)
}

// EnsureSupply mints initial to owner when nothing has been minted yet.
func EnsureSupply(ctx context.Context, token Token, owner common.Address, initial *uint256.Int) (bool, error) {
	if initial == nil || initial.IsZero() {
		return false, nil
	}
	supply, err := token.TotalSupply(ctx)
	if err != nil {
		return false, err
	}
	if !supply.IsZero() {
		return false, nil
	}
	if err := token.Faucet(ctx, owner, initial); err != nil {
		return false, err
	}
	return true, nil
}

// spend applies ERC-20 allowance rules and returns the remaining allowance.
// The maximum value is treated as unlimited and never decremented.
func spend(allowance, amount *uint256.Int) (*uint256.Int, error) {
	if allowance.Lt(amount) {
		return nil, ErrInsufficientAllowance
	}
	if allowance.Eq(maxAllowance) {
		return allowance, nil
	}
	return new(uint256.Int).Sub(allowance, amount), nil
}

var maxAllowance = new(uint256.Int).SetAllOne()
