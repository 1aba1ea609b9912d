package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"interest-bank/internal/domain"
	"interest-bank/internal/errors"
	"interest-bank/internal/ledger"
	"interest-bank/internal/metrics"
)

// BlockProducer sequences actions into blocks.
type BlockProducer interface {
	CurrentBlock() uint64
	Mine(n uint64) uint64
	Transact(fn func(block uint64) error) error
}

type BankService struct {
	ledger  *ledger.Ledger
	chain   BlockProducer
	journal domain.JournalRepository
	metrics *metrics.Metrics
	logger  *slog.Logger

	// keyMu serialises requests that carry an idempotency key so a key is
	// looked up and recorded atomically.
	keyMu sync.Mutex
}

func NewBankService(
	l *ledger.Ledger,
	chain BlockProducer,
	journal domain.JournalRepository,
	m *metrics.Metrics,
	logger *slog.Logger,
) *BankService {
	return &BankService{
		ledger:  l,
		chain:   chain,
		journal: journal,
		metrics: m,
		logger:  logger,
	}
}

type ActionRequest struct {
	Address        common.Address
	Amount         *uint256.Int
	IdempotencyKey *uuid.UUID
}

// Result is the journal entry of an action. Replayed is set when the entry
// was recorded by an earlier request with the same idempotency key.
type Result struct {
	Entry    *domain.Entry
	Replayed bool
}

func (s *BankService) Deposit(ctx context.Context, req *ActionRequest) (*Result, error) {
	return s.execute(ctx, domain.KindDeposit, req, func(entry *domain.Entry) error {
		acc, err := s.ledger.Deposit(ctx, req.Address, req.Amount)
		if err != nil {
			return err
		}
		entry.Balance = acc.Balance
		return nil
	})
}

func (s *BankService) Withdraw(ctx context.Context, req *ActionRequest) (*Result, error) {
	return s.execute(ctx, domain.KindWithdraw, req, func(entry *domain.Entry) error {
		acc, err := s.ledger.Withdraw(ctx, req.Address, req.Amount)
		if err != nil {
			return err
		}
		entry.Balance = acc.Balance
		return nil
	})
}

func (s *BankService) Borrow(ctx context.Context, req *ActionRequest) (*Result, error) {
	return s.execute(ctx, domain.KindBorrow, req, func(*domain.Entry) error {
		_, err := s.ledger.Borrow(ctx, req.Address, req.Amount)
		return err
	})
}

// Repay ignores req.Amount; the full amount due is always returned.
func (s *BankService) Repay(ctx context.Context, req *ActionRequest) (*Result, error) {
	return s.execute(ctx, domain.KindRepay, req, func(entry *domain.Entry) error {
		receipt, err := s.ledger.Repay(ctx, req.Address)
		if err != nil {
			return err
		}
		entry.Amount = receipt.Total
		entry.Interest = receipt.Interest
		return nil
	})
}

func (s *BankService) execute(ctx context.Context, kind domain.EntryKind, req *ActionRequest, run func(*domain.Entry) error) (*Result, error) {
	s.logger.Info("Processing ledger action",
		"kind", kind,
		"address", req.Address.Hex(),
		"amount", amountString(req.Amount),
		"idempotency_key", req.IdempotencyKey)

	if req.IdempotencyKey != nil {
		s.keyMu.Lock()
		defer s.keyMu.Unlock()

		existing, err := s.journal.GetEntryByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(kind, req, existing)
		}
	}

	entry := &domain.Entry{
		ID:             uuid.New(),
		Kind:           kind,
		Address:        req.Address,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}
	if kind == domain.KindRepay {
		entry.Amount = nil
	}

	start := time.Now()
	err := s.chain.Transact(func(block uint64) error {
		entry.Block = block
		return run(entry)
	})
	s.metrics.Observe(kind, time.Since(start), err)

	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Code == errors.InternalError || appErr.Code == errors.Overflow {
			s.logger.Error("Ledger action failed", "kind", kind, "address", req.Address.Hex(), "error", err)
		} else {
			s.logger.Warn("Ledger action rejected", "kind", kind, "address", req.Address.Hex(), "code", appErr.Code, "details", appErr.Details)
		}
		if journaled(appErr.Code) {
			entry.Status = domain.StatusFailed
			entry.ErrorCode = string(appErr.Code)
			entry.ErrorMessage = appErr.Message
			if entry.Amount == nil {
				entry.Amount = new(uint256.Int)
			}
			s.record(ctx, entry)
		}
		return nil, err
	}

	entry.Status = domain.StatusCompleted
	s.record(ctx, entry)
	s.refreshStats(ctx)

	s.logger.Info("Ledger action completed",
		"transaction_id", entry.ID,
		"kind", kind,
		"address", req.Address.Hex(),
		"amount", entry.Amount.Dec(),
		"block", entry.Block)
	return &Result{Entry: entry}, nil
}

// replay answers a request whose idempotency key was already used.
func (s *BankService) replay(kind domain.EntryKind, req *ActionRequest, existing *domain.Entry) (*Result, error) {
	sameAmount := kind == domain.KindRepay ||
		(req.Amount != nil && existing.Amount != nil && existing.Amount.Eq(req.Amount))
	if existing.Kind != kind || existing.Address != req.Address || !sameAmount {
		s.logger.Warn("Idempotency key reused for a different request",
			"idempotency_key", req.IdempotencyKey,
			"transaction_id", existing.ID)
		return nil, errors.ErrIdempotencyConflict.WithDetails(fmt.Sprintf("key already used by transaction %s", existing.ID))
	}

	s.metrics.Replayed(kind)
	s.logger.Info("Returning existing ledger entry for idempotency key",
		"idempotency_key", req.IdempotencyKey,
		"transaction_id", existing.ID)

	if existing.Status == domain.StatusFailed {
		return nil, errors.NewAppError(errors.ErrorCode(existing.ErrorCode), existing.ErrorMessage).
			WithDetails(fmt.Sprintf("replayed from transaction %s", existing.ID))
	}
	return &Result{Entry: existing, Replayed: true}, nil
}

// record journals entry. The ledger has already committed, so a journal
// failure is logged rather than surfaced to the caller.
func (s *BankService) record(ctx context.Context, entry *domain.Entry) {
	if err := s.journal.CreateEntry(ctx, entry); err != nil {
		s.logger.Error("Failed to record ledger entry",
			"transaction_id", entry.ID,
			"kind", entry.Kind,
			"status", entry.Status,
			"error", err)
	}
}

func (s *BankService) refreshStats(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		s.logger.Warn("Failed to refresh pool metrics", "error", err)
		return
	}
	s.metrics.SetStats(stats)
}

// journaled reports whether a failure with code is recorded and replayed.
// Malformed requests never reach the ledger and infrastructure faults are
// worth retrying under the same key.
func journaled(code errors.ErrorCode) bool {
	switch code {
	case errors.InvalidInput, errors.InvalidAmount, errors.InvalidAddress, errors.InternalError:
		return false
	default:
		return true
	}
}

// Account returns addr's balance settled as of the current block.
func (s *BankService) Account(ctx context.Context, addr common.Address) (*domain.Account, error) {
	return s.ledger.Account(addr)
}

// Loan quotes the outstanding loan of addr at the current block.
func (s *BankService) Loan(ctx context.Context, addr common.Address) (*domain.Repayment, error) {
	return s.ledger.AmountDue(addr)
}

func (s *BankService) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetStats(stats)
	return stats, nil
}

func (s *BankService) Entry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	entry, err := s.journal.GetEntryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.ErrNotFound.WithDetails(fmt.Sprintf("transaction %s", id))
	}
	return entry, nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
