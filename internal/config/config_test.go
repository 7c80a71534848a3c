package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docvault/internal/model"
)

func TestLoad(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_MAX_OPEN_CONNS", "20")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MINIO_BUCKET_CLIENTE", "clientes-test")
	t.Setenv("SOFT_DELETE_RETENTION", "72h")

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "docvault", cfg.Database.ApplicationName)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, "clientes-test", cfg.MinIO.Buckets[model.EntityCliente])
	assert.Equal(t, "documentos-viviendas", cfg.MinIO.Buckets[model.EntityVivienda])
	assert.Equal(t, 72*time.Hour, cfg.Lifecycle.SoftDeleteRetention)
	assert.Equal(t, 3, cfg.Retry.ConflictAttempts)
	assert.Empty(t, cfg.Redis.URL)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "value")

	assert.Equal(t, "value", getEnv("TEST_ENV_VAR", "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	t.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	t.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	t.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	t.Setenv(key, "")
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	t.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	t.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	t.Setenv(key, "")
	assert.Equal(t, 10, getEnvInt(key, 10))
}

func TestGetEnvDuration(t *testing.T) {
	key := "TEST_DURATION_VAR"

	t.Setenv(key, "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvDuration(key, time.Second))

	t.Setenv(key, "soon")
	assert.Equal(t, time.Second, getEnvDuration(key, time.Second))
}

func TestLogConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, LogConfig{Timezone: "Nowhere/Invalid"}.Location())
	assert.Equal(t, "UTC", LogConfig{Timezone: "UTC"}.Location().String())
}
