package asset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// MemoryToken keeps balances and allowances in process memory.
type MemoryToken struct {
	mu         sync.Mutex
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (t *MemoryToken) BalanceOf(_ context.Context, addr common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.balance(addr)), nil
}

func (t *MemoryToken) TotalSupply(context.Context) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.supply), nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.allowance(owner, spender)), nil
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = new(uint256.Int).Set(amount)
	return nil
}

func (t *MemoryToken) Faucet(_ context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	t.supply = supply
	t.balances[to] = new(uint256.Int).Add(t.balance(to), amount)
	return nil
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var remaining *uint256.Int
	if spender != from {
		var err error
		if remaining, err = spend(t.allowance(from, spender), amount); err != nil {
			return err
		}
	}
	fromBalance := t.balance(from)
	if fromBalance.Lt(amount) {
		return ErrInsufficientFunds
	}

	if remaining != nil {
		t.allowances[allowanceKey{from, spender}] = remaining
	}
	t.balances[from] = new(uint256.Int).Sub(fromBalance, amount)
	// Total supply bounds every balance, so the credit cannot overflow.
	t.balances[to] = new(uint256.Int).Add(t.balance(to), amount)
	return nil
}

func (t *MemoryToken) balance(addr common.Address) *uint256.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *MemoryToken) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(uint256.Int)
}
