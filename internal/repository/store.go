package repository

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/lib/pq"

	"interest-bank/internal/domain"
	"interest-bank/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	db       DB
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// Holdings returns a HoldingRepository using the current executor
func (s *Store) Holdings() *HoldingRepository {
	return NewHoldingRepository(s.executor, s.logger)
}

// Allowances returns an AllowanceRepository using the current executor
func (s *Store) Allowances() *AllowanceRepository {
	return NewAllowanceRepository(s.executor, s.logger)
}

// Journal returns a JournalRepository using the current executor
func (s *Store) Journal() domain.JournalRepository {
	return NewJournalRepository(s.executor, s.logger)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	// Only the root store can begin transactions
	if _, ok := s.executor.(*sql.Tx); ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}

	txStore := &Store{
		db:       s.db,
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewAppError(errors.InternalError, "failed to commit transaction").WithDetails(err.Error())
	}
	return nil
}
