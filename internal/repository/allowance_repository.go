package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/errors"
)

// AllowanceRepository stores spending approvals.
type AllowanceRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAllowanceRepository(db SQLExecutor, logger *slog.Logger) *AllowanceRepository {
	return &AllowanceRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AllowanceRepository) GetAllowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return r.scanAllowance(ctx, `
		SELECT amount FROM allowances WHERE owner = $1 AND spender = $2
	`, owner, spender)
}

// GetAllowanceForUpdate reads the allowance and locks its row, if any.
func (r *AllowanceRepository) GetAllowanceForUpdate(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return r.scanAllowance(ctx, `
		SELECT amount FROM allowances WHERE owner = $1 AND spender = $2 FOR UPDATE
	`, owner, spender)
}

func (r *AllowanceRepository) scanAllowance(ctx context.Context, query string, owner, spender common.Address) (*uint256.Int, error) {
	var amountStr string
	err := r.db.QueryRowContext(ctx, query, owner.Hex(), spender.Hex()).Scan(&amountStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return new(uint256.Int), nil
		}
		r.logger.Error("Failed to get allowance", "owner", owner.Hex(), "spender", spender.Hex(), "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get allowance").WithDetails(err.Error())
	}
	return parseAmount(amountStr)
}

func (r *AllowanceRepository) SetAllowance(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO allowances (owner, spender, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
	`, owner.Hex(), spender.Hex(), amount.Dec(), time.Now())
	if err != nil {
		r.logger.Error("Failed to set allowance", "owner", owner.Hex(), "spender", spender.Hex(), "error", err)
		return errors.NewAppError(errors.InternalError, "failed to set allowance").WithDetails(err.Error())
	}
	return nil
}
