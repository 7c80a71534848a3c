// Command docrepair runs reconciliation and purge passes outside the API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"docvault/internal/app"
	"docvault/internal/config"
	"docvault/internal/logging"
	"docvault/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openApp).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// openApp wires the same dependency graph as the API server. Logs go to stderr so stdout stays JSON.
func openApp(ctx context.Context) (service.DocumentService, func() error, error) {
	cfg := config.Load()
	log := logging.Component(logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Location()), "docrepair")
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, a.Close, nil
}
