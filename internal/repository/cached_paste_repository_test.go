package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/pastebin/internal/model"
)

func setupCachedRepo(t *testing.T) *CachedPasteRepository {
	t.Helper()
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
	return NewCachedPasteRepository(NewPasteRepository(testDB.Pool), testCache.Client, 5*time.Minute)
}

func TestCachedPasteRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("cache miss populates cache", func(t *testing.T) {
		repo := setupCachedRepo(t)
		require.NoError(t, NewPasteRepository(testDB.Pool).Create(ctx, newPaste("cachemiss1", nil)))

		_, ok := testCache.PasteEntry(ctx, "cachemiss1")
		require.False(t, ok)

		got, err := repo.GetByID(ctx, "cachemiss1")
		require.NoError(t, err)
		assert.Equal(t, "content of cachemiss1", got.Content)

		raw, ok := testCache.PasteEntry(ctx, "cachemiss1")
		require.True(t, ok)
		var cached model.Paste
		require.NoError(t, json.Unmarshal([]byte(raw), &cached))
		assert.Equal(t, got, &cached)
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		repo := setupCachedRepo(t)
		require.NoError(t, repo.Create(ctx, newPaste("cachehit01", nil)))

		// Remove the row; a hit must still be served from Redis
		_, err := testDB.Pool.Exec(ctx, "DELETE FROM pastes WHERE id = $1", "cachehit01")
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "cachehit01")
		require.NoError(t, err)
		assert.Equal(t, "cachehit01", got.ID)
	})

	t.Run("not found is negatively cached", func(t *testing.T) {
		repo := setupCachedRepo(t)

		_, err := repo.GetByID(ctx, "nothere001")
		assert.ErrorIs(t, err, ErrNotFound)

		raw, ok := testCache.PasteEntry(ctx, "nothere001")
		require.True(t, ok)
		assert.Equal(t, notFoundSentinel, raw)
		assert.LessOrEqual(t, testCache.PasteEntryTTL(ctx, "nothere001"), negativeCacheTTL)

		_, err = repo.GetByID(ctx, "nothere001")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create replaces a negative entry", func(t *testing.T) {
		repo := setupCachedRepo(t)

		_, err := repo.GetByID(ctx, "latecomer1")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.Create(ctx, newPaste("latecomer1", nil)))

		got, err := repo.GetByID(ctx, "latecomer1")
		require.NoError(t, err)
		assert.Equal(t, "latecomer1", got.ID)
	})

	t.Run("entry lifetime is capped by paste expiry", func(t *testing.T) {
		repo := setupCachedRepo(t)
		paste := newPaste("shortlived", nil)
		paste.ExpiresAt = int64Ptr(time.Now().Add(20 * time.Second).UnixMilli())
		require.NoError(t, repo.Create(ctx, paste))

		ttl := testCache.PasteEntryTTL(ctx, "shortlived")
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 20*time.Second)
	})

	t.Run("already expired paste is not cached", func(t *testing.T) {
		repo := setupCachedRepo(t)
		paste := newPaste("expired001", nil)
		paste.ExpiresAt = int64Ptr(time.Now().Add(-time.Second).UnixMilli())
		require.NoError(t, repo.Create(ctx, paste))

		_, ok := testCache.PasteEntry(ctx, "expired001")
		assert.False(t, ok)
	})
}

func TestCachedPasteRepository_IncrementViewCount(t *testing.T) {
	ctx := context.Background()

	t.Run("writes through the fresh count", func(t *testing.T) {
		repo := setupCachedRepo(t)
		require.NoError(t, repo.Create(ctx, newPaste("counter001", int64Ptr(3))))

		_, err := repo.IncrementViewCount(ctx, "counter001", int64Ptr(3))
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "counter001")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.ViewCount)
	})

	t.Run("failed condition evicts the entry", func(t *testing.T) {
		repo := setupCachedRepo(t)
		require.NoError(t, repo.Create(ctx, newPaste("onceonly01", int64Ptr(1))))

		// Bump the row behind the cache's back so the cached count is stale
		_, err := testDB.Pool.Exec(ctx, "UPDATE pastes SET view_count = 1 WHERE id = $1", "onceonly01")
		require.NoError(t, err)

		_, err = repo.IncrementViewCount(ctx, "onceonly01", int64Ptr(1))
		assert.ErrorIs(t, err, ErrConditionFailed)

		_, ok := testCache.PasteEntry(ctx, "onceonly01")
		assert.False(t, ok)

		got, err := repo.GetByID(ctx, "onceonly01")
		require.NoError(t, err)
		assert.True(t, got.IsExhausted())
	})
}

func TestCachedPasteRepository_NilCache(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	repo := NewCachedPasteRepository(NewPasteRepository(testDB.Pool), nil, time.Minute)

	require.NoError(t, repo.Create(ctx, newPaste("nocache001", nil)))

	got, err := repo.GetByID(ctx, "nocache001")
	require.NoError(t, err)
	assert.Equal(t, "nocache001", got.ID)

	_, err = repo.GetByID(ctx, "nocache002")
	assert.ErrorIs(t, err, ErrNotFound)
}
