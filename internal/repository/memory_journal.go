package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"interest-bank/internal/domain"
	"interest-bank/internal/errors"
)

// MemoryJournal is a JournalRepository for the in-memory backend.
type MemoryJournal struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*domain.Entry
	byKey map[uuid.UUID]uuid.UUID
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		byID:  make(map[uuid.UUID]*domain.Entry),
		byKey: make(map[uuid.UUID]uuid.UUID),
	}
}

func (j *MemoryJournal) CreateEntry(_ context.Context, entry *domain.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.IdempotencyKey != nil {
		if _, ok := j.byKey[*entry.IdempotencyKey]; ok {
			return errors.ErrDuplicateTransaction
		}
	}
	if _, ok := j.byID[entry.ID]; ok {
		return errors.ErrDuplicateTransaction
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stored := *entry
	j.byID[entry.ID] = &stored
	if entry.IdempotencyKey != nil {
		j.byKey[*entry.IdempotencyKey] = entry.ID
	}
	return nil
}

func (j *MemoryJournal) GetEntryByID(_ context.Context, id uuid.UUID) (*domain.Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (j *MemoryJournal) GetEntryByIdempotencyKey(ctx context.Context, key uuid.UUID) (*domain.Entry, error) {
	j.mu.RLock()
	id, ok := j.byKey[key]
	j.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return j.GetEntryByID(ctx, id)
}
