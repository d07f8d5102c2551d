package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zhejian/pastebin/internal/model"
)

const (
	notFoundSentinel = "__NOT_FOUND__"
	negativeCacheTTL = 30 * time.Second
)

// CachedPasteRepository adds a Redis cache-aside layer in front of a store.
// Cached records only feed the read pre-check; view counts are always
// incremented in the backing store, and a stale cached count can only lag
// behind the real one.
type CachedPasteRepository struct {
	db    PasteRepositoryInterface
	cache *redis.Client
	ttl   time.Duration
}

// NewCachedPasteRepository creates a cached repository. A nil cache client
// disables caching.
func NewCachedPasteRepository(db PasteRepositoryInterface, cache *redis.Client, ttl time.Duration) *CachedPasteRepository {
	return &CachedPasteRepository{
		db:    db,
		cache: cache,
		ttl:   ttl,
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("paste:%s", id)
}

// GetByID with cache-aside pattern
func (r *CachedPasteRepository) GetByID(ctx context.Context, id string) (*model.Paste, error) {
	key := cacheKey(id)

	// 1. Try cache first, falling through on any Redis error
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key).Result()
		if err == nil {
			if cached == notFoundSentinel {
				return nil, ErrNotFound
			}
			var paste model.Paste
			if jsonErr := json.Unmarshal([]byte(cached), &paste); jsonErr == nil {
				return &paste, nil
			}
		}
	}

	// 2. Query the backing store
	paste, err := r.db.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) && r.cache != nil {
			r.cache.Set(ctx, key, notFoundSentinel, r.negativeTTL())
		}
		return nil, err
	}

	// 3. Store in cache
	r.store(ctx, paste)
	return paste, nil
}

// Create: write through, replacing any negative entry for the id
func (r *CachedPasteRepository) Create(ctx context.Context, paste *model.Paste) error {
	if err := r.db.Create(ctx, paste); err != nil {
		return err
	}
	r.store(ctx, paste)
	return nil
}

// IncrementViewCount always hits the backing store. The fresh record is
// written through; a failed condition evicts the entry so the next
// pre-check sees the exhausted count.
func (r *CachedPasteRepository) IncrementViewCount(ctx context.Context, id string, maxViews *int64) (*model.Paste, error) {
	paste, err := r.db.IncrementViewCount(ctx, id, maxViews)
	if err != nil {
		if isDomainError(err) && r.cache != nil {
			r.cache.Del(ctx, cacheKey(id))
		}
		return nil, err
	}
	r.store(ctx, paste)
	return paste, nil
}

func (r *CachedPasteRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *CachedPasteRepository) Close() {
	r.db.Close()
}

func (r *CachedPasteRepository) store(ctx context.Context, paste *model.Paste) {
	if r.cache == nil {
		return
	}
	ttl := r.entryTTL(paste)
	if ttl < 0 {
		return
	}
	data, err := json.Marshal(paste)
	if err != nil {
		return
	}
	r.cache.Set(ctx, cacheKey(paste.ID), data, ttl)
}

// entryTTL caps the cache lifetime at the paste's remaining wall-clock
// lifetime. A negative result means the paste is not worth caching.
func (r *CachedPasteRepository) entryTTL(paste *model.Paste) time.Duration {
	ttl := r.ttl
	if paste.ExpiresAt != nil {
		remaining := time.Until(time.UnixMilli(*paste.ExpiresAt))
		if remaining <= 0 {
			return -1
		}
		if ttl == 0 || remaining < ttl {
			ttl = remaining
		}
	}
	if paste.IsExhausted() {
		ttl = r.negativeTTL()
	}
	return ttl
}

func (r *CachedPasteRepository) negativeTTL() time.Duration {
	if r.ttl > 0 && r.ttl < negativeCacheTTL {
		return r.ttl
	}
	return negativeCacheTTL
}
