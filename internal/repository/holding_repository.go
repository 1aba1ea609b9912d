package repository

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lib/pq"

	"interest-bank/internal/errors"
)

// HoldingRepository stores token balances and the total supply.
type HoldingRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewHoldingRepository(db SQLExecutor, logger *slog.Logger) *HoldingRepository {
	return &HoldingRepository{
		db:     db,
		logger: logger,
	}
}

// GetBalance returns the balance of addr, zero when it never held tokens.
func (r *HoldingRepository) GetBalance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	var balanceStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT balance FROM holdings WHERE address = $1), 0)
	`, addr.Hex()).Scan(&balanceStr)
	if err != nil {
		r.logger.Error("Failed to get balance", "address", addr.Hex(), "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get balance").WithDetails(err.Error())
	}
	return parseAmount(balanceStr)
}

// LockBalances creates missing holdings for addrs, locks their rows in address
// order and returns their balances. It must run inside a transaction.
func (r *HoldingRepository) LockBalances(ctx context.Context, addrs ...common.Address) (map[common.Address]*uint256.Int, error) {
	keys := make([]string, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		if k := addr.Hex(); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO holdings (address, balance) VALUES ($1, 0)
			ON CONFLICT (address) DO NOTHING
		`, k); err != nil {
			r.logger.Error("Failed to create holding", "address", k, "error", err)
			return nil, errors.NewAppError(errors.InternalError, "failed to create holding").WithDetails(err.Error())
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT address, balance FROM holdings
		WHERE address = ANY($1)
		ORDER BY address
		FOR UPDATE
	`, pq.Array(keys))
	if err != nil {
		r.logger.Error("Failed to lock holdings", "addresses", keys, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to lock holdings").WithDetails(err.Error())
	}
	defer rows.Close()

	balances := make(map[common.Address]*uint256.Int, len(keys))
	for rows.Next() {
		var address, balanceStr string
		if err := rows.Scan(&address, &balanceStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan holding").WithDetails(err.Error())
		}
		balance, err := parseAmount(balanceStr)
		if err != nil {
			return nil, err
		}
		balances[common.HexToAddress(address)] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read holdings").WithDetails(err.Error())
	}
	return balances, nil
}

// SetBalance overwrites the balance of a holding locked by LockBalances.
func (r *HoldingRepository) SetBalance(ctx context.Context, addr common.Address, balance *uint256.Int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE holdings SET balance = $1, updated_at = $2 WHERE address = $3
	`, balance.Dec(), time.Now(), addr.Hex())
	if err != nil {
		r.logger.Error("Failed to update balance", "address", addr.Hex(), "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update balance").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("No holding found to update", "address", addr.Hex())
		return errors.ErrNotFound.WithDetails("holding " + addr.Hex())
	}
	return nil
}

// TotalSupply returns the minted total.
func (r *HoldingRepository) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return r.supply(ctx, `SELECT total FROM token_supply WHERE id`)
}

// LockTotalSupply returns the minted total and locks it for update.
func (r *HoldingRepository) LockTotalSupply(ctx context.Context) (*uint256.Int, error) {
	return r.supply(ctx, `SELECT total FROM token_supply WHERE id FOR UPDATE`)
}

func (r *HoldingRepository) SetTotalSupply(ctx context.Context, total *uint256.Int) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE token_supply SET total = $1, updated_at = $2 WHERE id
	`, total.Dec(), time.Now()); err != nil {
		r.logger.Error("Failed to update total supply", "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update total supply").WithDetails(err.Error())
	}
	return nil
}

func (r *HoldingRepository) supply(ctx context.Context, query string) (*uint256.Int, error) {
	var totalStr string
	if err := r.db.QueryRowContext(ctx, query).Scan(&totalStr); err != nil {
		r.logger.Error("Failed to get total supply", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get total supply").WithDetails(err.Error())
	}
	return parseAmount(totalStr)
}
