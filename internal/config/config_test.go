package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.App.IDLength)
	assert.Equal(t, 3, cfg.App.IDRetries)
	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "paste.events", cfg.Events.Exchange)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_TYPE", "mongodb")
	t.Setenv("PASTE_ID_LENGTH", "12")
	t.Setenv("RDB_TTL", "90s")
	t.Setenv("RDB_ENABLED", "false")
	t.Setenv("TEST_MODE", "1")
	t.Setenv("BREAKER_CONSECUTIVE_FAILURES", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, StorageMongoDB, cfg.Storage.Type)
	assert.Equal(t, 12, cfg.App.IDLength)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.App.TestMode)
	assert.Equal(t, uint32(7), cfg.Breaker.ConsecutiveFailures)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("PASTE_ID_MAX_RETRIES", "lots")
	t.Setenv("RDB_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.App.IDRetries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoad_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "floppy")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestValidate_IDLength(t *testing.T) {
	cfg := &Config{
		App:     AppConfig{IDLength: 4, IDRetries: 3},
		Storage: StorageConfig{Type: StorageMemory},
	}
	assert.Error(t, cfg.Validate())

	cfg.App.IDLength = 10
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DynamoRequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "dynamodb")
	t.Setenv("S3_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")

	t.Setenv("S3_BUCKET", "paste-bodies")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "paste-bodies", cfg.Storage.S3Bucket)
	assert.Equal(t, "pastes/", cfg.Storage.S3Prefix)
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.ConnectionString())

	cache := CacheConfig{User: "", Password: "p", Host: "h", Port: "6379"}
	assert.Equal(t, "redis://:p@h:6379/0", cache.ConnectionString())
}
