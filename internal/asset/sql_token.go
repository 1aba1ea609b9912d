package asset

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/repository"
)

// SQLToken keeps balances and allowances in Postgres. Every mutation runs in
// one database transaction with the touched rows locked.
type SQLToken struct {
	store *repository.Store
}

func NewSQLToken(store *repository.Store) *SQLToken {
	return &SQLToken{store: store}
}

func (t *SQLToken) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return t.store.Holdings().GetBalance(ctx, addr)
}

func (t *SQLToken) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return t.store.Holdings().TotalSupply(ctx)
}

func (t *SQLToken) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.store.Allowances().GetAllowance(ctx, owner, spender)
}

func (t *SQLToken) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.store.Allowances().SetAllowance(ctx, owner, spender, amount)
}

func (t *SQLToken) Faucet(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.store.WithTransaction(ctx, func(tx *repository.Store) error {
		holdings := tx.Holdings()

		supply, err := holdings.LockTotalSupply(ctx)
		if err != nil {
			return err
		}
		supply, overflow := new(uint256.Int).AddOverflow(supply, amount)
		if overflow {
			return ErrSupplyOverflow
		}
		balances, err := holdings.LockBalances(ctx, to)
		if err != nil {
			return err
		}

		if err := holdings.SetTotalSupply(ctx, supply); err != nil {
			return err
		}
		return holdings.SetBalance(ctx, to, new(uint256.Int).Add(balances[to], amount))
	})
}

func (t *SQLToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.store.WithTransaction(ctx, func(tx *repository.Store) error {
		allowances := tx.Allowances()
		holdings := tx.Holdings()

		var remaining *uint256.Int
		if spender != from {
			allowance, err := allowances.GetAllowanceForUpdate(ctx, from, spender)
			if err != nil {
				return err
			}
			if remaining, err = spend(allowance, amount); err != nil {
				return err
			}
		}

		balances, err := holdings.LockBalances(ctx, from, to)
		if err != nil {
			return err
		}
		if balances[from].Lt(amount) {
			return ErrInsufficientFunds
		}

		if remaining != nil {
			if err := allowances.SetAllowance(ctx, from, spender, remaining); err != nil {
				return err
			}
		}
		if from == to {
			return nil
		}
		if err := holdings.SetBalance(ctx, from, new(uint256.Int).Sub(balances[from], amount)); err != nil {
			return err
		}
		return holdings.SetBalance(ctx, to, new(uint256.Int).Add(balances[to], amount))
	})
}
