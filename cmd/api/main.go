package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docvault/internal/app"
	"docvault/internal/config"
	handlers "docvault/internal/http/handler"
	"docvault/internal/http/middleware"
	"docvault/internal/logging"
	"docvault/internal/otel"
)

// @title Document Vault API
// @version 1.0
// @description Versioned document storage for viviendas, proyectos and clientes.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Location())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logging.Component(log, "otel"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	// Database, object storage, lineage lock and the document service
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.Close()

	promMW, err := middleware.NewPrometheusMiddleware(a.Registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register http metrics")
	}

	server := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	// RequestID first so every later middleware can read it
	server.Use(middleware.RequestID())
	server.Use(otelfiber.Middleware())
	server.Use(middleware.Logger(logging.Component(log, "http")))
	server.Use(promMW.Handler())

	handlers.RegisterRoutes(server, a.DB, a.Service, a.StoragePing)
	server.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	// Swagger UI with the host and scheme of each request
	server.Get("/swagger/*", handlers.Swagger())

	go a.RunPurge(ctx, cfg.Lifecycle.PurgeInterval)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("event", "server_started").Str("addr", addr).Msg("listening")
	if err := server.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Str("event", "server_stopped").Msg("shutdown complete")
}
