package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interest-bank/internal/asset"
	"interest-bank/internal/chain"
	"interest-bank/internal/domain"
	apperrors "interest-bank/internal/errors"
)

var (
	custodyAddr = common.HexToAddress("0xBA2C")
	alice       = common.HexToAddress("0xA11CE")
	bob         = common.HexToAddress("0xB0B")
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

// frac returns floor(x*n/d).
func frac(x *uint256.Int, n, d uint64) *uint256.Int {
	return new(uint256.Int).Div(new(uint256.Int).Mul(x, uint256.NewInt(n)), uint256.NewInt(d))
}

func add(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Add(x, y) }
func sub(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(x, y) }

// flakyAsset fails every transfer while fail is set, or with fault when one
// is given.
type flakyAsset struct {
	domain.AssetLedger
	fail  bool
	fault error
}

func (a *flakyAsset) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if a.fault != nil {
		return a.fault
	}
	if a.fail {
		return errors.New("node unavailable")
	}
	return a.AssetLedger.Transfer(ctx, from, to, amount)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	token  *asset.MemoryToken
	asset  *flakyAsset
	chain  *chain.Chain
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	token := asset.NewMemoryToken()
	flaky := &flakyAsset{AssetLedger: asset.Custody(token, custodyAddr)}
	c := chain.New(true, 0, logger)
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		token:  token,
		asset:  flaky,
		chain:  c,
		ledger: New(flaky, c, custodyAddr, logger),
	}
}

// fund mints amount to addr and approves custody to pull it.
func (f *fixture) fund(addr common.Address, amount *uint256.Int) {
	f.t.Helper()
	if !amount.IsZero() {
		require.NoError(f.t, f.token.Faucet(f.ctx, addr, amount))
	}
	require.NoError(f.t, f.token.Approve(f.ctx, addr, custodyAddr, new(uint256.Int).SetAllOne()))
}

func (f *fixture) held(addr common.Address) *uint256.Int {
	f.t.Helper()
	b, err := f.token.BalanceOf(f.ctx, addr)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) balance(addr common.Address) *uint256.Int {
	f.t.Helper()
	b, err := f.ledger.BalanceOf(addr)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) deposit(addr common.Address, amount *uint256.Int) (acc *domain.Account, err error) {
	err = f.chain.Transact(func(uint64) error {
		acc, err = f.ledger.Deposit(f.ctx, addr, amount)
		return err
	})
	return acc, err
}

func (f *fixture) withdraw(addr common.Address, amount *uint256.Int) (acc *domain.Account, err error) {
	err = f.chain.Transact(func(uint64) error {
		acc, err = f.ledger.Withdraw(f.ctx, addr, amount)
		return err
	})
	return acc, err
}

func (f *fixture) borrow(addr common.Address, amount *uint256.Int) (loan *domain.Loan, err error) {
	err = f.chain.Transact(func(uint64) error {
		loan, err = f.ledger.Borrow(f.ctx, addr, amount)
		return err
	})
	return loan, err
}

func (f *fixture) repay(addr common.Address) (receipt *domain.Repayment, err error) {
	err = f.chain.Transact(func(uint64) error {
		receipt, err = f.ledger.Repay(f.ctx, addr)
		return err
	})
	return receipt, err
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	acc, err := f.deposit(alice, ether(10))
	require.NoError(t, err)

	assert.Equal(t, ether(10), acc.Balance)
	assert.Equal(t, f.chain.CurrentBlock(), acc.LastSettledBlock)
	assert.Equal(t, ether(10), f.held(custodyAddr))
	assert.Equal(t, ether(90), f.held(alice))
}

func TestDepositAccruesInterestBeforeCrediting(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(10))
	require.NoError(t, err)
	f.chain.Mine(10)
	_, err = f.deposit(alice, ether(10))
	require.NoError(t, err)

	want := add(add(ether(10), frac(ether(10), 11, 10_000)), ether(10))
	assert.Equal(t, want, f.balance(alice))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(7))
	require.NoError(t, err)
	f.chain.Mine(10)
	acc, err := f.withdraw(alice, ether(3))
	require.NoError(t, err)

	assert.Equal(t, ether(4), f.held(custodyAddr))
	assert.Equal(t, ether(96), f.held(alice))
	assert.Equal(t, sub(add(ether(7), frac(ether(7), 11, 10_000)), ether(3)), acc.Balance)
	assert.Equal(t, acc.Balance, f.balance(alice))
}

func TestWithdrawAllIncludingInterest(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, ether(100))

	start := f.chain.CurrentBlock()
	_, err := f.deposit(alice, ether(10))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(5))
	require.NoError(t, err)
	f.chain.Mine(10)
	_, err = f.repay(bob)
	require.NoError(t, err)

	elapsed := f.chain.CurrentBlock() - start
	require.Equal(t, uint64(13), elapsed)
	interest := frac(ether(10), elapsed, 10_000)

	_, err = f.withdraw(alice, add(ether(10), interest))
	require.NoError(t, err)

	assert.Equal(t, add(ether(100), interest), f.held(alice))
	assert.True(t, f.balance(alice).IsZero())
}

func TestWithdrawMoreThanDeposited(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(7))
	require.NoError(t, err)
	_, err = f.withdraw(alice, ether(8))

	require.ErrorIs(t, err, apperrors.ErrInsufficientAccountBalance)
	assert.Equal(t, "Withdraw amount more than deposited", apperrors.AsAppError(err).Message)
	assert.Equal(t, ether(7), f.held(custodyAddr))
}

func TestWithdrawBankRun(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, uint256.NewInt(0))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(25))
	require.NoError(t, err)

	before := f.balance(alice)
	_, err = f.withdraw(alice, ether(50))

	require.ErrorIs(t, err, apperrors.ErrInsufficientPoolLiquidity)
	assert.Equal(t, "Bank run!", apperrors.AsAppError(err).Message)
	assert.Equal(t, ether(25), f.held(custodyAddr))
	assert.True(t, f.balance(alice).Cmp(before) >= 0)
}

func TestWithdrawChecksAccountBeforeLiquidity(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(10))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(10))
	require.NoError(t, err)

	// Both checks fail; the account check wins.
	_, err = f.withdraw(alice, ether(20))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientAccountBalance)
}

func TestBorrow(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	loan, err := f.borrow(bob, ether(10))
	require.NoError(t, err)

	assert.Equal(t, bob, loan.Borrower)
	assert.Equal(t, ether(10), loan.Principal)
	assert.Equal(t, f.chain.CurrentBlock(), loan.StartBlock)
	assert.Equal(t, ether(40), f.held(custodyAddr))
	assert.Equal(t, ether(10), f.held(bob))

	stored, ok := f.ledger.Loan(bob)
	require.True(t, ok)
	assert.Equal(t, loan, stored)
	// Borrowing does not touch depositor accounts.
	assert.Equal(t, add(ether(50), frac(ether(50), 1, 10_000)), f.balance(alice))
}

func TestBorrowNotEnoughFund(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(60))

	require.ErrorIs(t, err, apperrors.ErrInsufficientPoolLiquidity)
	assert.Equal(t, "Not enough fund in the bank", apperrors.AsAppError(err).Message)
	_, ok := f.ledger.Loan(bob)
	assert.False(t, ok)
}

func TestBorrowAlreadyLoaned(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(10))
	require.NoError(t, err)

	// Already loaned is reported even when liquidity would also be short.
	_, err = f.borrow(bob, ether(1000))
	require.ErrorIs(t, err, apperrors.ErrLoanAlreadyOutstanding)
	assert.Equal(t, "Already loaned", apperrors.AsAppError(err).Message)
	assert.Equal(t, ether(40), f.held(custodyAddr))
}

func TestLoansAreScopedPerBorrower(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	carol := common.HexToAddress("0xCA201")

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(10))
	require.NoError(t, err)
	_, err = f.borrow(carol, ether(10))
	require.NoError(t, err)

	stats, err := f.ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OutstandingLoans)
	assert.Equal(t, ether(20), stats.OutstandingPrincipal)
}

func TestRepay(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, ether(100))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(20))
	require.NoError(t, err)
	f.chain.Mine(10)

	due, err := f.ledger.AmountDue(bob)
	require.NoError(t, err)
	assert.Equal(t, frac(ether(20), 10, 1000), due.Interest)

	receipt, err := f.repay(bob)
	require.NoError(t, err)

	interest := frac(ether(20), 11, 1000)
	assert.Equal(t, interest, receipt.Interest)
	assert.Equal(t, add(ether(20), interest), receipt.Total)
	assert.Equal(t, add(ether(50), interest), f.held(custodyAddr))
	assert.Equal(t, sub(ether(100), interest), f.held(bob))

	_, ok := f.ledger.Loan(bob)
	assert.False(t, ok)

	// The record is gone, so bob may borrow again.
	_, err = f.borrow(bob, ether(1))
	assert.NoError(t, err)
}

func TestRepayNotEnoughFund(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, uint256.NewInt(0))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(20))
	require.NoError(t, err)
	f.chain.Mine(10)

	_, err = f.repay(bob)
	require.ErrorIs(t, err, apperrors.ErrInsufficientRepaymentFunds)
	assert.Equal(t, "Not enough fund to return", apperrors.AsAppError(err).Message)

	_, ok := f.ledger.Loan(bob)
	assert.True(t, ok)
	assert.Equal(t, ether(20), f.held(bob))
}

func TestRepayWithoutLoan(t *testing.T) {
	f := newFixture(t)

	_, err := f.repay(bob)
	assert.ErrorIs(t, err, apperrors.ErrNoOutstandingLoan)

	_, err = f.ledger.AmountDue(bob)
	assert.ErrorIs(t, err, apperrors.ErrNoOutstandingLoan)
}

func TestFailedTransferLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, ether(100))

	_, err := f.deposit(alice, ether(50))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(10))
	require.NoError(t, err)
	f.chain.Mine(5)

	accBefore, err := f.ledger.Account(alice)
	require.NoError(t, err)
	f.asset.fail = true

	_, err = f.deposit(alice, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrAssetTransferFailed)
	_, err = f.withdraw(alice, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrAssetTransferFailed)
	_, err = f.borrow(alice, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrAssetTransferFailed)
	_, err = f.repay(bob)
	assert.ErrorIs(t, err, apperrors.ErrAssetTransferFailed)

	// The settled view moved with the clock but the stored position did not.
	stored := f.ledger.accounts[alice]
	assert.Equal(t, ether(50), stored.Balance)
	assert.Less(t, stored.LastSettledBlock, accBefore.LastSettledBlock)
	_, ok := f.ledger.Loan(alice)
	assert.False(t, ok)
	_, ok = f.ledger.Loan(bob)
	assert.True(t, ok)
	assert.Equal(t, ether(40), f.held(custodyAddr))
}

func TestRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	_, err := f.deposit(alice, uint256.NewInt(0))
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	_, err = f.withdraw(alice, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	_, err = f.borrow(alice, uint256.NewInt(0))
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = f.deposit(common.Address{}, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrInvalidAddress)
	_, err = f.borrow(custodyAddr, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrInvalidAddress)
	_, err = f.repay(custodyAddr)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAddress)
}

func TestUnknownAccountReadsZero(t *testing.T) {
	f := newFixture(t)

	acc, err := f.ledger.Account(bob)
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())

	stats, err := f.ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Accounts)
}

func TestAccountsPersistAtZeroBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(10))

	_, err := f.deposit(alice, uint256.NewInt(5))
	require.NoError(t, err)
	_, err = f.withdraw(alice, uint256.NewInt(5))
	require.NoError(t, err)

	stats, err := f.ledger.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.True(t, stats.TotalDeposits.IsZero())
}

func TestReadsDoNotSettle(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))

	acc, err := f.deposit(alice, ether(10))
	require.NoError(t, err)
	f.chain.Mine(3)

	first := f.balance(alice)
	second := f.balance(alice)
	assert.Equal(t, first, second)
	assert.Equal(t, add(ether(10), frac(ether(10), 3, 10_000)), first)
	assert.Equal(t, acc.LastSettledBlock, f.ledger.accounts[alice].LastSettledBlock)
}

func TestCustodyConservation(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	f.fund(bob, ether(100))

	_, err := f.deposit(alice, ether(30))
	require.NoError(t, err)
	_, err = f.deposit(bob, ether(20))
	require.NoError(t, err)
	_, err = f.borrow(bob, ether(15))
	require.NoError(t, err)
	f.chain.Mine(4)
	receipt, err := f.repay(bob)
	require.NoError(t, err)
	_, err = f.withdraw(alice, ether(12))
	require.NoError(t, err)

	want := sub(add(ether(50), receipt.Interest), ether(12))
	assert.Equal(t, want, f.held(custodyAddr))

	supply, err := f.token.TotalSupply(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ether(200), supply)
	total := add(add(f.held(alice), f.held(bob)), f.held(custodyAddr))
	assert.Equal(t, supply, total)
}

func TestConcurrentActions(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	_, err := f.deposit(alice, ether(100))
	require.NoError(t, err)

	const depositors = 20
	addrs := make([]common.Address, depositors)
	for i := range addrs {
		addrs[i] = common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
		f.fund(addrs[i], ether(1))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	borrowed := 0
	for i := range addrs {
		wg.Add(2)
		go func(addr common.Address) {
			defer wg.Done()
			_, err := f.deposit(addr, ether(1))
			assert.NoError(t, err)
		}(addrs[i])
		go func() {
			defer wg.Done()
			if _, err := f.borrow(bob, ether(1)); err == nil {
				mu.Lock()
				borrowed++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperrors.ErrLoanAlreadyOutstanding)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, borrowed)
	assert.Equal(t, ether(100+depositors-1), f.held(custodyAddr))
	for _, addr := range addrs {
		acc := f.ledger.accounts[addr]
		require.NotNil(t, acc)
		assert.Equal(t, ether(1), acc.Balance)
	}
}

func TestStorageFaultIsNotATransferRejection(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, ether(100))
	_, err := f.deposit(alice, ether(10))
	require.NoError(t, err)

	f.asset.fault = apperrors.ErrInternal.WithDetails("connection reset")

	_, err = f.deposit(alice, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.NotErrorIs(t, err, apperrors.ErrAssetTransferFailed)

	_, err = f.withdraw(alice, ether(1))
	assert.ErrorIs(t, err, apperrors.ErrInternal)

	f.asset.fault = nil
	assert.Equal(t, ether(10), f.ledger.accounts[alice].Balance)
}
