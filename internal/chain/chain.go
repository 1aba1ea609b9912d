// Package chain provides the block clock the ledger reads its height from.
package chain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Chain is an in-process block producer. With automine every Transact call
// lands in its own freshly sealed block; otherwise blocks come from Mine or
// the interval producer started with Start.
type Chain struct {
	mu       sync.Mutex
	height   atomic.Uint64
	automine bool
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func New(automine bool, interval time.Duration, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		automine: automine,
		interval: interval,
		logger:   logger.With("component", "chain"),
	}
}

// CurrentBlock returns the latest sealed block height.
func (c *Chain) CurrentBlock() uint64 {
	return c.height.Load()
}

// Mine seals n empty blocks and returns the new height.
func (c *Chain) Mine(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := c.height.Add(n)
	c.logger.Debug("mined blocks", "count", n, "height", height)
	return height
}

// Transact runs fn as the single action of a block. No block is sealed while
// fn runs, so the height fn observes is stable for its whole duration.
func (c *Chain) Transact(fn func(block uint64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := c.height.Load()
	if c.automine {
		block = c.height.Add(1)
	}
	return fn(block)
}

// Start launches the interval producer. It is a no-op when no interval is
// configured or the producer is already running.
func (c *Chain) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interval <= 0 || c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.produce(ctx, c.stop, c.done)
	c.logger.Info("block producer started", "interval", c.interval)
}

// Stop halts the interval producer and waits for it to exit.
func (c *Chain) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	c.logger.Info("block producer stopped", "height", c.CurrentBlock())
}

func (c *Chain) produce(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.Mine(1)
		}
	}
}
