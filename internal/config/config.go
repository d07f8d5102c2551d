package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Supported storage backends
const (
	StoragePostgres = "postgres"
	StorageMongoDB  = "mongodb"
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	App           AppConfig
	Cache         CacheConfig
	Storage       StorageConfig
	Events        EventsConfig
	Observability ObservabilityConfig
	Breaker       BreakerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string // empty disables migrations at startup
}

// Redis Caching Layer configuration
type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	TTL      time.Duration
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	BaseURL     string // Base URL for generating share links
	FrontendURL string // Allowed CORS origin
	Environment string
	IDLength    int
	IDRetries   int
	TestMode    bool // honour x-test-now-ms on reads
}

// StorageConfig selects and configures the paste store backend
type StorageConfig struct {
	Type          string
	MongoURI      string
	MongoDatabase string
	MongoColl     string
	DynamoTable   string
	DynamoRegion  string
	DynamoURL     string // endpoint override, e.g. DynamoDB Local
	S3Bucket      string // holds paste bodies too large for a DynamoDB item
	S3Prefix      string
	S3URL         string // endpoint override, e.g. LocalStack or MinIO
	PurgeAfter    time.Duration
	StoreTimeout  time.Duration
}

// EventsConfig holds RabbitMQ publishing configuration.
// An empty URL disables event publishing.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
	Queue    string
}

// ObservabilityConfig holds tracing configuration
type ObservabilityConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

// BreakerConfig tunes the store circuit breaker
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "zhejian"),
			Password:       getEnv("DB_PASSWORD", "zhejian_secret"),
			DBName:         getEnv("DB_NAME", "pastebin"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations/schema"),
		},
		Cache: CacheConfig{
			Enabled:  getEnvBool("RDB_ENABLED", true),
			Host:     getEnv("RDB_HOST", "localhost"),
			Port:     getEnv("RDB_PORT", "6379"),
			Password: getEnv("RDB_PASSWORD", "zhejian"),
			TTL:      getEnvDuration("RDB_TTL", 5*time.Minute),
		},
		App: AppConfig{
			BaseURL:     getEnv("BASE_URL", "http://localhost:3000"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
			Environment: getEnv("APP_ENV", "development"),
			IDLength:    getEnvInt("PASTE_ID_LENGTH", 10),
			IDRetries:   getEnvInt("PASTE_ID_MAX_RETRIES", 3),
			TestMode:    getEnv("TEST_MODE", "") == "1",
		},
		Storage: StorageConfig{
			Type:          getEnv("STORAGE_TYPE", StoragePostgres),
			MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("MONGODB_DATABASE", "pastebin"),
			MongoColl:     getEnv("MONGODB_COLLECTION", "pastes"),
			DynamoTable:   getEnv("DYNAMODB_TABLE", "pastes"),
			DynamoRegion:  getEnv("AWS_REGION", "us-east-1"),
			DynamoURL:     getEnv("DYNAMODB_ENDPOINT", ""),
			S3Bucket:      getEnv("S3_BUCKET", ""),
			S3Prefix:      getEnv("S3_PREFIX", "pastes/"),
			S3URL:         getEnv("S3_ENDPOINT", ""),
			PurgeAfter:    getEnvDuration("STORAGE_PURGE_AFTER", 7*24*time.Hour),
			StoreTimeout:  getEnvDuration("STORAGE_TIMEOUT", 5*time.Second),
		},
		Events: EventsConfig{
			AMQPURL:  getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "paste.events"),
			Queue:    getEnv("RABBITMQ_QUEUE", "paste.analytics"),
		},
		Observability: ObservabilityConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "pastebin"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Breaker: BreakerConfig{
			MaxRequests:         uint32(getEnvInt("BREAKER_MAX_REQUESTS", 1)),
			Interval:            getEnvDuration("BREAKER_INTERVAL", time.Minute),
			Timeout:             getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
			ConsecutiveFailures: uint32(getEnvInt("BREAKER_CONSECUTIVE_FAILURES", 5)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted sensibly
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StoragePostgres, StorageMongoDB, StorageDynamoDB, StorageMemory:
	default:
		return fmt.Errorf("unsupported storage type: %s (supported: postgres, mongodb, dynamodb, memory)", c.Storage.Type)
	}
	if c.Storage.Type == StorageDynamoDB && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required with dynamodb storage: large pastes exceed the DynamoDB item limit")
	}
	if c.App.IDLength < 6 || c.App.IDLength > 32 {
		return fmt.Errorf("PASTE_ID_LENGTH must be between 6 and 32, got %d", c.App.IDLength)
	}
	if c.App.IDRetries < 1 {
		return fmt.Errorf("PASTE_ID_MAX_RETRIES must be at least 1, got %d", c.App.IDRetries)
	}
	return nil
}

type ConnectionInterface interface {
	ConnectionString() string
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	connectionString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
	return connectionString
}

func (c *CacheConfig) ConnectionString() string {
	connectionString := fmt.Sprintf("redis://%s:%s@%s:%s/0", c.User, c.Password, c.Host, c.Port)
	return connectionString
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
