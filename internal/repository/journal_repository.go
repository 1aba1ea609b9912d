package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"interest-bank/internal/domain"
	"interest-bank/internal/errors"
)

type journalRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewJournalRepository(db SQLExecutor, logger *slog.Logger) domain.JournalRepository {
	return &journalRepository{
		db:     db,
		logger: logger,
	}
}

const entryColumns = `id, kind, address, amount, interest, balance, block, status, error_code, error_message, idempotency_key, created_at`

func (r *journalRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var idempotencyKey interface{}
	if entry.IdempotencyKey != nil {
		idempotencyKey = *entry.IdempotencyKey
	}
	var errorCode, errorMessage interface{}
	if entry.ErrorCode != "" {
		errorCode = entry.ErrorCode
		errorMessage = entry.ErrorMessage
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.Address.Hex(),
		entry.Amount.Dec(),
		nullAmount(entry.Interest),
		nullAmount(entry.Balance),
		int64(entry.Block),
		entry.Status,
		errorCode,
		errorMessage,
		idempotencyKey,
		entry.CreatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "idx_ledger_entries_idempotency_key" {
				r.logger.Warn("Duplicate idempotency key", "idempotency_key", entry.IdempotencyKey)
				return errors.ErrDuplicateTransaction
			}
		}
		r.logger.Error("Failed to create ledger entry",
			"kind", entry.Kind,
			"address", entry.Address.Hex(),
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create ledger entry").WithDetails(err.Error())
	}

	r.logger.Info("Ledger entry recorded", "entry_id", entry.ID, "kind", entry.Kind, "status", entry.Status)
	return nil
}

func (r *journalRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	return r.scanEntry(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
}

func (r *journalRepository) GetEntryByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Entry, error) {
	return r.scanEntry(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
}

// scanEntry returns nil, nil when no row matches.
func (r *journalRepository) scanEntry(ctx context.Context, query string, arg interface{}) (*domain.Entry, error) {
	var (
		entry          domain.Entry
		kind, address  string
		amountStr      string
		interest       sql.NullString
		balance        sql.NullString
		block          int64
		errorCode      sql.NullString
		errorMessage   sql.NullString
		idempotencyKey uuid.NullUUID
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&entry.ID,
		&kind,
		&address,
		&amountStr,
		&interest,
		&balance,
		&block,
		&entry.Status,
		&errorCode,
		&errorMessage,
		&idempotencyKey,
		&entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get ledger entry", "arg", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get ledger entry").WithDetails(err.Error())
	}

	entry.Kind = domain.EntryKind(kind)
	entry.Address = common.HexToAddress(address)
	entry.Block = uint64(block)
	entry.ErrorCode = errorCode.String
	entry.ErrorMessage = errorMessage.String
	if idempotencyKey.Valid {
		key := idempotencyKey.UUID
		entry.IdempotencyKey = &key
	}
	if entry.Amount, err = parseAmount(amountStr); err != nil {
		return nil, err
	}
	if entry.Interest, err = parseNullAmount(interest); err != nil {
		return nil, err
	}
	if entry.Balance, err = parseNullAmount(balance); err != nil {
		return nil, err
	}
	return &entry, nil
}
