//go:build integration

// Package dbtest starts a migrated Postgres for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"docvault/internal/database/migration"
	"docvault/internal/logging"
)

// Postgres starts a throwaway container, applies the schema and returns a connected pool.
// The container and pool are released when the test finishes.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("docvault"),
		tcpostgres.WithUsername("docvault"),
		tcpostgres.WithPassword("docvault"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migration.EnsureMigrated(ctx, db, logging.Nop(), "testcontainer"); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}
