package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the vault router.
type Config struct {
	HTTPPort  string
	JWTSecret []byte
	Database  DatabaseConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Secrets   SecretsConfig
	Registry  RegistryConfig
	Routing   RoutingConfig
	Executor  ExecutorConfig
	Budget    BudgetConfig
	Audit     AuditConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	TokenCacheSize      int
	TokenCacheTTL       time.Duration
	CredentialCacheSize int
	CredentialCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SecretsConfig selects and tunes the secret store backend.
type SecretsConfig struct {
	// Backend is "redis" or "awssm".
	Backend       string
	EncryptionKey string // base64, redis backend only
	AWSRegion     string
	RetryAttempts int
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration
}

// RegistryConfig holds provider catalog settings.
type RegistryConfig struct {
	SeedFile       string // optional YAML catalog, loaded before the DB
	ReloadInterval time.Duration
}

// RoutingConfig holds scoring and selection parameters.
type RoutingConfig struct {
	SuccessWeight    float64
	LatencyWeight    float64
	CostWeight       float64
	OptimisticPrior  float64
	PreferredBonus   float64
	TopN             int
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
	EMAAlpha         float64
}

// ExecutorConfig holds request execution settings.
type ExecutorConfig struct {
	DefaultTimeout time.Duration
	RotationGrace  time.Duration
}

// BudgetConfig holds monthly spend tracking settings.
type BudgetConfig struct {
	SyncInterval time.Duration
}

// AuditConfig holds configuration for the S3-based audit sink
type AuditConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnvString("HTTP_PORT", "8080")
	jwtSecret := []byte(getEnvString("JWT_SECRET", "supersecretkey"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  port,
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			TokenCacheSize:      getEnvInt("CACHE_TOKEN_SIZE", 1000),
			TokenCacheTTL:       getEnvDuration("CACHE_TOKEN_TTL", 5*time.Minute),
			CredentialCacheSize: getEnvInt("CACHE_CREDENTIAL_SIZE", 1000),
			CredentialCacheTTL:  getEnvDuration("CACHE_CREDENTIAL_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Secrets: SecretsConfig{
			Backend:       getEnvString("SECRETS_BACKEND", "redis"),
			EncryptionKey: getEnvString("SECRETS_ENCRYPTION_KEY", ""),
			AWSRegion:     getEnvString("SECRETS_AWS_REGION", "us-east-1"),
			RetryAttempts: getEnvInt("SECRETS_RETRY_ATTEMPTS", 3),
			RetryBaseWait: getEnvDuration("SECRETS_RETRY_BASE_WAIT", 100*time.Millisecond),
			RetryMaxWait:  getEnvDuration("SECRETS_RETRY_MAX_WAIT", 2*time.Second),
		},
		Registry: RegistryConfig{
			SeedFile:       getEnvString("REGISTRY_SEED_FILE", ""),
			ReloadInterval: getEnvDuration("REGISTRY_RELOAD_INTERVAL", 5*time.Minute),
		},
		Routing: RoutingConfig{
			SuccessWeight:    getEnvFloat("ROUTING_SUCCESS_WEIGHT", 0.4),
			LatencyWeight:    getEnvFloat("ROUTING_LATENCY_WEIGHT", 0.3),
			CostWeight:       getEnvFloat("ROUTING_COST_WEIGHT", 0.3),
			OptimisticPrior:  getEnvFloat("ROUTING_OPTIMISTIC_PRIOR", 0.7),
			PreferredBonus:   getEnvFloat("ROUTING_PREFERRED_BONUS", 0.15),
			TopN:             getEnvInt("ROUTING_TOP_N", 3),
			BreakerThreshold: getEnvInt("ROUTING_BREAKER_THRESHOLD", 3),
			BreakerWindow:    getEnvDuration("ROUTING_BREAKER_WINDOW", 60*time.Second),
			BreakerCooldown:  getEnvDuration("ROUTING_BREAKER_COOLDOWN", 30*time.Second),
			EMAAlpha:         getEnvFloat("ROUTING_EMA_ALPHA", 0.1),
		},
		Executor: ExecutorConfig{
			DefaultTimeout: getEnvDuration("EXECUTOR_DEFAULT_TIMEOUT", 30*time.Second),
			RotationGrace:  getEnvDuration("CREDENTIAL_ROTATION_GRACE", 5*time.Minute),
		},
		Budget: BudgetConfig{
			SyncInterval: getEnvDuration("BUDGET_SYNC_INTERVAL", 1*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:       getEnvString("AUDIT_SINK_ENABLED", "false") == "true",
			BufferSize:    getEnvInt("AUDIT_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("AUDIT_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("AUDIT_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("AUDIT_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("AUDIT_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("AUDIT_SINK_S3_PREFIX", "audit/"),
			PodName:       getEnvString("POD_NAME", "vault-router-0"),
		},
	}

	return cfg, nil
}
