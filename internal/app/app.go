// Package app builds the dependency graph shared by the API server and the repair CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	auditpg "docvault/internal/audit/postgres"
	"docvault/internal/config"
	"docvault/internal/database"
	"docvault/internal/database/migration"
	"docvault/internal/lock"
	"docvault/internal/logging"
	"docvault/internal/metrics"
	"docvault/internal/reconcile"
	repopg "docvault/internal/repository/postgres"
	"docvault/internal/retry"
	"docvault/internal/service"
	"docvault/internal/storage"
	"docvault/internal/versionstore"
)

// App owns every long-lived client. Close releases them in reverse order.
type App struct {
	Config   *config.AppConfig
	Log      zerolog.Logger
	DB       *sql.DB
	Redis    *redis.Client
	MinIO    *storage.MinIO
	Layout   *storage.Layout
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Service  service.DocumentService
}

// New connects to Postgres, MinIO and (optionally) Redis, applies migrations and wires the service.
func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	var err error
	a.DB, err = database.NewPostgres(ctx, cfg.Database, logging.Component(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := migration.EnsureMigrated(ctx, a.DB, log, cfg.Database.Host); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	a.MinIO, err = storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize object storage: %w", err)
	}
	a.Layout, err = storage.NewLayout(cfg.MinIO.Buckets)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Redis, err = lock.Dial(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	var locker lock.Locker = lock.Noop{}
	if a.Redis != nil {
		locker = lock.NewRedis(a.Redis, cfg.Redis.LockTTL)
	} else {
		log.Warn().Str("event", "lineage_lock_disabled").Msg("REDIS_URL not set; uploads are serialized by the database only")
	}

	storeRetry := retry.Config{
		MaxAttempts:    cfg.Retry.StorageAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
	store := storage.WithRetry(a.MinIO, storeRetry, logging.Component(log, "storage"))

	repo := repopg.NewDocumentPostgres(a.DB)
	recorder := auditpg.New(a.DB)
	versions := versionstore.New(repo, recorder)
	reconciler := reconcile.New(repo, versions, store, a.Layout, logging.Component(log, "reconcile"),
		reconcile.WithMetrics(a.Metrics))

	a.Service = service.NewDocumentService(service.Deps{
		Versions:   versions,
		Audit:      recorder,
		Repo:       repo,
		Store:      store,
		Layout:     a.Layout,
		Reconciler: reconciler,
		Locker:     locker,
		Metrics:    a.Metrics,
		Log:        logging.Component(log, "service"),
		Retry: retry.Config{
			MaxAttempts:    cfg.Retry.ConflictAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		Retention:  cfg.Lifecycle.SoftDeleteRetention,
		PurgeBatch: cfg.Lifecycle.PurgeBatchSize,
	})
	return a, nil
}

// StoragePing checks every document bucket; it is registered as a readiness check.
func (a *App) StoragePing(ctx context.Context) error {
	if a.MinIO == nil {
		return errors.New("object storage not initialized")
	}
	for _, b := range a.Layout.Buckets() {
		if err := a.MinIO.Ping(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// RunPurge calls PurgeDeleted every interval until ctx is done.
func (a *App) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logging.Component(a.Log, "purge")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Service.PurgeDeleted(ctx, PurgeActor); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("event", "purge_pass_failed").Msg("purge pass failed")
			}
		}
	}
}

// PurgeActor is recorded in the audit trail for scheduled purges.
const PurgeActor = "system:purge"

// Close releases every client that was opened.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
