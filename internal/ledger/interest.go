package ledger

import (
	"github.com/holiman/uint256"

	"interest-bank/internal/domain"
	apperrors "interest-bank/internal/errors"
)

const (
	// DepositRateDenom yields 1 basis point of the settled balance per block,
	// compounding across settlements.
	DepositRateDenom = 10_000
	// LoanRateDenom yields 0.1% of the original principal per block, simple
	// interest.
	LoanRateDenom = 1_000
)

var (
	depositRateDenom = uint256.NewInt(DepositRateDenom)
	loanRateDenom    = uint256.NewInt(LoanRateDenom)
)

// Settle folds the interest accrued since acc was last settled into a copy of
// acc and moves its marker to now. acc is not modified. A clock reading older
// than the marker accrues nothing and leaves the marker in place.
func Settle(acc *domain.Account, now uint64) (*domain.Account, error) {
	settled := acc.Clone()
	if now <= settled.LastSettledBlock {
		return settled, nil
	}
	elapsed := now - settled.LastSettledBlock

	interest, err := mulDiv(settled.Balance, elapsed, depositRateDenom)
	if err != nil {
		return nil, err
	}
	balance, err := checkedAdd(settled.Balance, interest)
	if err != nil {
		return nil, err
	}

	settled.Balance = balance
	settled.LastSettledBlock = now
	return settled, nil
}

// LoanInterest returns the simple interest owed on loan at block now.
func LoanInterest(loan *domain.Loan, now uint64) (*uint256.Int, error) {
	if now <= loan.StartBlock {
		return new(uint256.Int), nil
	}
	return mulDiv(loan.Principal, now-loan.StartBlock, loanRateDenom)
}

// Quote computes what repaying loan at block now costs.
func Quote(loan *domain.Loan, now uint64) (*domain.Repayment, error) {
	interest, err := LoanInterest(loan, now)
	if err != nil {
		return nil, err
	}
	total, err := checkedAdd(loan.Principal, interest)
	if err != nil {
		return nil, err
	}
	return &domain.Repayment{
		Loan:     loan.Clone(),
		Interest: interest,
		Total:    total,
		Block:    now,
	}, nil
}

// mulDiv computes floor(x*n/denom), failing instead of wrapping.
func mulDiv(x *uint256.Int, n uint64, denom *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(x, uint256.NewInt(n))
	if overflow {
		return nil, apperrors.ErrOverflow
	}
	return product.Div(product, denom), nil
}

func checkedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, apperrors.ErrOverflow
	}
	return sum, nil
}
