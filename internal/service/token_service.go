package service

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"interest-bank/internal/asset"
	"interest-bank/internal/errors"
)

// TokenInfo describes the custodied token.
type TokenInfo struct {
	TotalSupply *uint256.Int   `json:"total_supply"`
	Decimals    int32          `json:"decimals"`
	Custody     common.Address `json:"custody"`
	Liquidity   *uint256.Int   `json:"custody_balance"`
}

// TokenService exposes the token to clients. Mutations are sequenced into
// blocks like ledger actions.
type TokenService struct {
	token    asset.Token
	chain    BlockProducer
	custody  common.Address
	decimals int32
	logger   *slog.Logger
}

func NewTokenService(token asset.Token, chain BlockProducer, custody common.Address, decimals int32, logger *slog.Logger) *TokenService {
	return &TokenService{
		token:    token,
		chain:    chain,
		custody:  custody,
		decimals: decimals,
		logger:   logger,
	}
}

func (s *TokenService) Decimals() int32 {
	return s.decimals
}

func (s *TokenService) Custody() common.Address {
	return s.custody
}

func (s *TokenService) Info(ctx context.Context) (*TokenInfo, error) {
	supply, err := s.token.TotalSupply(ctx)
	if err != nil {
		return nil, tokenError(err)
	}
	held, err := s.token.BalanceOf(ctx, s.custody)
	if err != nil {
		return nil, tokenError(err)
	}
	return &TokenInfo{
		TotalSupply: supply,
		Decimals:    s.decimals,
		Custody:     s.custody,
		Liquidity:   held,
	}, nil
}

func (s *TokenService) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	balance, err := s.token.BalanceOf(ctx, addr)
	if err != nil {
		return nil, tokenError(err)
	}
	return balance, nil
}

func (s *TokenService) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	allowance, err := s.token.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, tokenError(err)
	}
	return allowance, nil
}

// Faucet mints amount to the recipient and returns its new balance.
func (s *TokenService) Faucet(ctx context.Context, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, errors.ErrInvalidAmount
	}
	if to == s.custody {
		return nil, errors.ErrInvalidAddress.WithDetails("custody cannot use the faucet")
	}

	err := s.chain.Transact(func(block uint64) error {
		if err := s.token.Faucet(ctx, to, amount); err != nil {
			return tokenError(err)
		}
		s.logger.Info("Faucet minted", "address", to.Hex(), "amount", amount.Dec(), "block", block)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.BalanceOf(ctx, to)
}

// Approve sets the amount spender may pull from owner. An unset spender means
// the custody address.
func (s *TokenService) Approve(ctx context.Context, owner common.Address, spender *common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return nil, errors.ErrInvalidAmount
	}
	target := s.custody
	if spender != nil {
		target = *spender
	}
	if owner == target {
		return nil, errors.ErrInvalidAddress.WithDetails("owner cannot approve itself")
	}

	err := s.chain.Transact(func(block uint64) error {
		if err := s.token.Approve(ctx, owner, target, amount); err != nil {
			return tokenError(err)
		}
		s.logger.Info("Allowance set", "owner", owner.Hex(), "spender", target.Hex(), "amount", amount.Dec(), "block", block)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Allowance(ctx, owner, target)
}

func tokenError(err error) error {
	switch {
	case stderrors.Is(err, asset.ErrZeroAddress):
		return errors.ErrInvalidAddress.WithDetails("zero address")
	case stderrors.Is(err, asset.ErrSupplyOverflow):
		return errors.ErrOverflow.WithDetails("total supply")
	case stderrors.Is(err, asset.ErrInsufficientFunds), stderrors.Is(err, asset.ErrInsufficientAllowance):
		return errors.Wrap(errors.AssetTransferFailed, "asset transfer failed", err)
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.Wrap(errors.InternalError, "token unavailable", err)
}
