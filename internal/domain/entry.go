package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type EntryKind string

const (
	KindDeposit  EntryKind = "deposit"
	KindWithdraw EntryKind = "withdraw"
	KindBorrow   EntryKind = "borrow"
	KindRepay    EntryKind = "repay"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is the journal record of one ledger action. Amount is the value that
// moved (for repay, the total returned); Interest is only set for repay and
// Balance only for deposit and withdraw.
type Entry struct {
	ID             uuid.UUID      `json:"id"`
	Kind           EntryKind      `json:"kind"`
	Address        common.Address `json:"address"`
	Amount         *uint256.Int   `json:"amount"`
	Interest       *uint256.Int   `json:"interest,omitempty"`
	Balance        *uint256.Int   `json:"balance,omitempty"`
	Block          uint64         `json:"block"`
	Status         string         `json:"status"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	IdempotencyKey *uuid.UUID     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type JournalRepository interface {
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key uuid.UUID) (*Entry, error)
}
