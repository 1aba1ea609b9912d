package service

import (
	"fmt"
	"log/slog"

	"interest-bank/internal/errors"
	"interest-bank/internal/metrics"
)

// MaxMineCount bounds a single mine request.
const MaxMineCount = 1_000_000

type ChainService struct {
	chain   BlockProducer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewChainService(chain BlockProducer, m *metrics.Metrics, logger *slog.Logger) *ChainService {
	return &ChainService{
		chain:   chain,
		metrics: m,
		logger:  logger,
	}
}

func (s *ChainService) CurrentBlock() uint64 {
	return s.chain.CurrentBlock()
}

// Mine seals count empty blocks and returns the new height.
func (s *ChainService) Mine(count uint64) (uint64, error) {
	if count == 0 || count > MaxMineCount {
		return 0, errors.ErrInvalidInput.WithDetails(fmt.Sprintf("count must be between 1 and %d", MaxMineCount))
	}
	height := s.chain.Mine(count)
	s.metrics.SetBlock(height)
	s.logger.Info("Mined blocks", "count", count, "height", height)
	return height, nil
}
