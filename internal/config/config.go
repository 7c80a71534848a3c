package config

import (
	"os"
	"strconv"
	"time"

	"docvault/internal/model"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StartupAttempts bounds the initial ping while Postgres is still starting.
	StartupAttempts int
}

// MinIOConfig holds object storage settings for MinIO.
// Each entity type has its own bucket; bucket names are part of the storage key contract.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Buckets   map[model.EntityType]string
}

// RedisConfig configures the optional distributed lineage lock.
// An empty URL disables it.
type RedisConfig struct {
	URL      string
	PoolSize int
	LockTTL  time.Duration
}

// LifecycleConfig controls deferred object deletion.
type LifecycleConfig struct {
	SoftDeleteRetention time.Duration
	PurgeInterval       time.Duration
	PurgeBatchSize      int
}

// RetryConfig bounds internal retries of conflicts and transient storage errors.
type RetryConfig struct {
	ConflictAttempts int
	StorageAttempts  int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level    string
	Timezone string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost   string
	Port      string
	Database  DatabaseConfig
	MinIO     MinIOConfig
	Redis     RedisConfig
	Lifecycle LifecycleConfig
	Retry     RetryConfig
	Log       LogConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", ""),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			ApplicationName: getEnv("DB_APPLICATION_NAME", "docvault"),
			ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
			StartupAttempts: getEnvInt("DB_STARTUP_ATTEMPTS", 5),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			Buckets: map[model.EntityType]string{
				model.EntityVivienda: getEnv("MINIO_BUCKET_VIVIENDA", "documentos-viviendas"),
				model.EntityProyecto: getEnv("MINIO_BUCKET_PROYECTO", "documentos-proyectos"),
				model.EntityCliente:  getEnv("MINIO_BUCKET_CLIENTE", "documentos-clientes"),
			},
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
			LockTTL:  getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Lifecycle: LifecycleConfig{
			SoftDeleteRetention: getEnvDuration("SOFT_DELETE_RETENTION", 30*24*time.Hour),
			PurgeInterval:       getEnvDuration("PURGE_INTERVAL", time.Hour),
			PurgeBatchSize:      getEnvInt("PURGE_BATCH_SIZE", 100),
		},
		Retry: RetryConfig{
			ConflictAttempts: getEnvInt("RETRY_CONFLICT_ATTEMPTS", 3),
			StorageAttempts:  getEnvInt("RETRY_STORAGE_ATTEMPTS", 4),
			InitialBackoff:   getEnvDuration("RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:       getEnvDuration("RETRY_MAX_BACKOFF", 2*time.Second),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Timezone: getEnv("LOG_TIMEZONE", "UTC"),
		},
	}
}

// Location resolves the configured log timezone, falling back to UTC.
func (c LogConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
