// Package ledger implements the interest-bearing custodial ledger: depositor
// balances that accrue per block, and at most one loan per borrower drawn
// from the pooled custody balance.
//
// Every action runs under a single mutex and follows the same discipline:
// settle, check, move the asset, then commit. Nothing is written before the
// external transfer succeeds, so a failed transfer leaves the ledger as it
// was.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/domain"
	apperrors "interest-bank/internal/errors"
)

var (
	errBankUnderfunded = apperrors.NewAppError(apperrors.InsufficientPoolLiquidity, "Not enough fund in the bank")
)

type Ledger struct {
	mu       sync.Mutex
	accounts map[common.Address]*domain.Account
	loans    map[common.Address]*domain.Loan

	asset   domain.AssetLedger
	clock   domain.BlockClock
	custody common.Address
	logger  *slog.Logger
}

// New creates an empty ledger whose pooled funds are held by custody on the
// given asset.
func New(asset domain.AssetLedger, clock domain.BlockClock, custody common.Address, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts: make(map[common.Address]*domain.Account),
		loans:    make(map[common.Address]*domain.Loan),
		asset:    asset,
		clock:    clock,
		custody:  custody,
		logger:   logger.With("component", "ledger"),
	}
}

// Custody returns the address holding the pooled asset.
func (l *Ledger) Custody() common.Address {
	return l.custody
}

// Deposit moves amount from caller into custody and credits it to the
// caller's settled balance, which is returned.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) (*domain.Account, error) {
	if err := l.validate(caller, amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.CurrentBlock()
	acc, err := l.settled(caller, now)
	if err != nil {
		return nil, err
	}
	balance, err := checkedAdd(acc.Balance, amount)
	if err != nil {
		return nil, err
	}

	if err := l.transfer(ctx, caller, l.custody, amount); err != nil {
		return nil, err
	}

	acc.Balance = balance
	l.accounts[caller] = acc
	l.logger.Debug("deposit committed", "address", caller.Hex(), "amount", amount.Dec(), "balance", balance.Dec(), "block", now)
	return acc.Clone(), nil
}

// Withdraw pays amount out of custody to caller. It fails when amount exceeds
// the caller's settled balance, or when custody does not actually hold amount
// because loans are outstanding.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) (*domain.Account, error) {
	if err := l.validate(caller, amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.CurrentBlock()
	acc, err := l.settled(caller, now)
	if err != nil {
		return nil, err
	}
	if amount.Gt(acc.Balance) {
		return nil, apperrors.ErrInsufficientAccountBalance.WithDetails(
			fmt.Sprintf("balance %s, requested %s", acc.Balance.Dec(), amount.Dec()))
	}

	liquidity, err := l.liquidity(ctx)
	if err != nil {
		return nil, err
	}
	if amount.Gt(liquidity) {
		return nil, apperrors.ErrInsufficientPoolLiquidity.WithDetails(
			fmt.Sprintf("liquidity %s, requested %s", liquidity.Dec(), amount.Dec()))
	}

	if err := l.transfer(ctx, l.custody, caller, amount); err != nil {
		return nil, err
	}

	acc.Balance = new(uint256.Int).Sub(acc.Balance, amount)
	l.accounts[caller] = acc
	l.logger.Debug("withdraw committed", "address", caller.Hex(), "amount", amount.Dec(), "balance", acc.Balance.Dec(), "block", now)
	return acc.Clone(), nil
}

// Borrow lends amount out of custody to borrower. Depositor accounts are not
// consulted; only the custody balance bounds the loan.
func (l *Ledger) Borrow(ctx context.Context, borrower common.Address, amount *uint256.Int) (*domain.Loan, error) {
	if err := l.validate(borrower, amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.loans[borrower]; ok {
		return nil, apperrors.ErrLoanAlreadyOutstanding
	}

	liquidity, err := l.liquidity(ctx)
	if err != nil {
		return nil, err
	}
	if amount.Gt(liquidity) {
		return nil, errBankUnderfunded.WithDetails(
			fmt.Sprintf("liquidity %s, requested %s", liquidity.Dec(), amount.Dec()))
	}

	now := l.clock.CurrentBlock()
	if err := l.transfer(ctx, l.custody, borrower, amount); err != nil {
		return nil, err
	}

	loan := &domain.Loan{
		Borrower:   borrower,
		Principal:  new(uint256.Int).Set(amount),
		StartBlock: now,
	}
	l.loans[borrower] = loan
	l.logger.Debug("loan opened", "address", borrower.Hex(), "principal", amount.Dec(), "block", now)
	return loan.Clone(), nil
}

// Repay returns the borrower's full principal plus interest to custody and
// clears the loan.
func (l *Ledger) Repay(ctx context.Context, borrower common.Address) (*domain.Repayment, error) {
	if err := l.validateActor(borrower); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[borrower]
	if !ok {
		return nil, apperrors.ErrNoOutstandingLoan
	}

	now := l.clock.CurrentBlock()
	receipt, err := Quote(loan, now)
	if err != nil {
		return nil, err
	}

	held, err := l.asset.BalanceOf(ctx, borrower)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalError, "asset balance unavailable", err)
	}
	if receipt.Total.Gt(held) {
		return nil, apperrors.ErrInsufficientRepaymentFunds.WithDetails(
			fmt.Sprintf("held %s, due %s", held.Dec(), receipt.Total.Dec()))
	}

	if err := l.transfer(ctx, borrower, l.custody, receipt.Total); err != nil {
		return nil, err
	}

	delete(l.loans, borrower)
	l.logger.Debug("loan repaid", "address", borrower.Hex(), "total", receipt.Total.Dec(), "interest", receipt.Interest.Dec(), "block", now)
	return receipt, nil
}

// BalanceOf returns addr's balance settled as of the current block without
// persisting the settlement.
func (l *Ledger) BalanceOf(addr common.Address) (*uint256.Int, error) {
	acc, err := l.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// Account returns a settled-as-of-now view of addr's account. Unknown
// addresses read as a zero balance.
func (l *Ledger) Account(addr common.Address) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.settled(addr, l.clock.CurrentBlock())
}

// Loan returns the outstanding loan of borrower, if any.
func (l *Ledger) Loan(borrower common.Address) (*domain.Loan, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[borrower]
	if !ok {
		return nil, false
	}
	return loan.Clone(), true
}

// AmountDue quotes what Repay would cost at the current block.
func (l *Ledger) AmountDue(borrower common.Address) (*domain.Repayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[borrower]
	if !ok {
		return nil, apperrors.ErrNoOutstandingLoan
	}
	return Quote(loan, l.clock.CurrentBlock())
}

// Stats reports liquidity next to what the ledger owes depositors, which is
// how a client can tell ahead of time whether a withdrawal would hit a bank
// run.
func (l *Ledger) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.CurrentBlock()
	liquidity, err := l.liquidity(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.LedgerStats{
		Block:                now,
		Liquidity:            liquidity,
		TotalDeposits:        new(uint256.Int),
		OutstandingPrincipal: new(uint256.Int),
		OutstandingLoans:     len(l.loans),
		Accounts:             len(l.accounts),
	}
	for _, acc := range l.accounts {
		settled, err := Settle(acc, now)
		if err != nil {
			return nil, err
		}
		if stats.TotalDeposits, err = checkedAdd(stats.TotalDeposits, settled.Balance); err != nil {
			return nil, err
		}
	}
	for _, loan := range l.loans {
		if stats.OutstandingPrincipal, err = checkedAdd(stats.OutstandingPrincipal, loan.Principal); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// settled returns a settled copy of addr's account. New accounts start at
// zero with their marker at now.
func (l *Ledger) settled(addr common.Address, now uint64) (*domain.Account, error) {
	acc, ok := l.accounts[addr]
	if !ok {
		return &domain.Account{
			Address:          addr,
			Balance:          new(uint256.Int),
			LastSettledBlock: now,
		}, nil
	}
	return Settle(acc, now)
}

func (l *Ledger) liquidity(ctx context.Context) (*uint256.Int, error) {
	held, err := l.asset.BalanceOf(ctx, l.custody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalError, "custody balance unavailable", err)
	}
	return held, nil
}

func (l *Ledger) transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	err := l.asset.Transfer(ctx, from, to, amount)
	if err == nil {
		return nil
	}
	// Storage faults behind the asset are not rejections of the movement.
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) && appErr.Code == apperrors.InternalError {
		l.logger.Error("asset transfer failed", "from", from.Hex(), "to", to.Hex(), "amount", amount.Dec(), "error", err)
		return err
	}
	l.logger.Warn("asset transfer rejected", "from", from.Hex(), "to", to.Hex(), "amount", amount.Dec(), "error", err)
	return apperrors.Wrap(apperrors.AssetTransferFailed, "asset transfer failed", err)
}

func (l *Ledger) validate(actor common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return apperrors.ErrInvalidAmount
	}
	return l.validateActor(actor)
}

func (l *Ledger) validateActor(actor common.Address) error {
	if actor == (common.Address{}) {
		return apperrors.ErrInvalidAddress.WithDetails("zero address")
	}
	if actor == l.custody {
		return apperrors.ErrInvalidAddress.WithDetails("custody address cannot act on its own ledger")
	}
	return nil
}
