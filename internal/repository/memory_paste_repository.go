package repository

import (
	"context"
	"sync"

	"github.com/zhejian/pastebin/internal/model"
)

// MemoryPasteRepository keeps pastes in process memory. It is meant for
// local development and tests; data does not survive a restart.
type MemoryPasteRepository struct {
	mu     sync.Mutex
	pastes map[string]model.Paste
}

// NewMemoryPasteRepository creates an empty in-memory store
func NewMemoryPasteRepository() *MemoryPasteRepository {
	return &MemoryPasteRepository{pastes: make(map[string]model.Paste)}
}

func (r *MemoryPasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pastes[paste.ID]; ok {
		return ErrIDConflict
	}
	r.pastes[paste.ID] = clonePaste(*paste)
	return nil
}

func (r *MemoryPasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pastes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clonePaste(p)
	return &out, nil
}

func (r *MemoryPasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pastes[id]
	if !ok {
		return nil, missingOrExhausted(maxViews)
	}
	if maxViews != nil && p.ViewCount >= *maxViews {
		return nil, ErrConditionFailed
	}
	p.ViewCount++
	r.pastes[id] = p
	out := clonePaste(p)
	return &out, nil
}

func (r *MemoryPasteRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryPasteRepository) Close() {}

// Len returns the number of stored pastes
func (r *MemoryPasteRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pastes)
}

// clonePaste copies the optional fields so callers never share pointers
// with the stored record.
func clonePaste(p model.Paste) model.Paste {
	p.TTLSeconds = cloneInt64(p.TTLSeconds)
	p.ExpiresAt = cloneInt64(p.ExpiresAt)
	p.MaxViews = cloneInt64(p.MaxViews)
	return p
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
