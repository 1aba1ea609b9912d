package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is a depositor's settled position.
type Account struct {
	Address          common.Address `json:"address"`
	Balance          *uint256.Int   `json:"balance"`
	LastSettledBlock uint64         `json:"last_settled_block"`
}

// Clone returns a deep copy so callers never alias ledger-owned balances.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Address: a.Address, LastSettledBlock: a.LastSettledBlock}
	if a.Balance != nil {
		clone.Balance = new(uint256.Int).Set(a.Balance)
	} else {
		clone.Balance = new(uint256.Int)
	}
	return clone
}

// Loan is the single outstanding loan of a borrower.
type Loan struct {
	Borrower   common.Address `json:"borrower"`
	Principal  *uint256.Int   `json:"principal"`
	StartBlock uint64         `json:"start_block"`
}

func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	return &Loan{
		Borrower:   l.Borrower,
		Principal:  new(uint256.Int).Set(l.Principal),
		StartBlock: l.StartBlock,
	}
}

// Repayment describes a settled loan.
type Repayment struct {
	Loan     *Loan        `json:"loan"`
	Interest *uint256.Int `json:"interest"`
	Total    *uint256.Int `json:"total"`
	Block    uint64       `json:"block"`
}

// LedgerStats is a read-only view of the pool.
type LedgerStats struct {
	Block                uint64       `json:"block"`
	Liquidity            *uint256.Int `json:"liquidity"`
	TotalDeposits        *uint256.Int `json:"total_deposits"`
	OutstandingPrincipal *uint256.Int `json:"outstanding_principal"`
	OutstandingLoans     int          `json:"outstanding_loans"`
	Accounts             int          `json:"accounts"`
}

// AssetLedger moves the fungible asset held in custody by the ledger.
type AssetLedger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error)
}

// BlockClock reports the current block height.
type BlockClock interface {
	CurrentBlock() uint64
}
