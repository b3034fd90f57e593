// Package app wires the server components together and owns their
// lifecycle: storage, registries, the delivery core, the call relay,
// the HTTP surface and the retention runner.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatrelay/pkg/banner"
	"chatrelay/pkg/call"
	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/migrate"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/state"
	"chatrelay/pkg/store"
	"chatrelay/pkg/validation"
	"chatrelay/pkg/ws"

	"chatrelay/internal/retention"
)

// schemaVersion marks the current storage layout; bumping it triggers
// migrate.Sync on startup.
const schemaVersion = "1"

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	source  string
	version string

	registry *presence.Registry
	relay    *call.Relay
	gateway  *ws.Gateway

	srv *http.Server
}

// New initializes everything that does not need a running context: the
// on-disk layout, the store and the in-memory component graph. Call Run
// to start serving.
func New(cfg *config.Config, source, version string) (*App, error) {
	_ = godotenv.Load(".env")

	dbPath := cfg.Server.DBPath
	if dbPath == "" {
		return nil, fmt.Errorf("storage path not configured")
	}
	if err := state.Init(dbPath); err != nil {
		return nil, fmt.Errorf("state layout: %w", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	if _, err := migrate.Run(context.Background(), schemaVersion); err != nil {
		return nil, fmt.Errorf("migration: %w", err)
	}

	validation.SetMaxBodyBytes(cfg.Chat.MaxBodyBytes())

	registry := presence.NewRegistry()
	sum := delivery.NewSynchronizer(registry, cfg.Chat.DeletedPreview)
	pipe := delivery.NewPipeline(registry, sum)
	prop := delivery.NewPropagator(registry, sum)
	relay := call.NewRelay(registry, cfg.Chat.RingTimeoutDuration())

	gateway := ws.NewGateway(registry, pipe, prop, sum, relay, ws.GatewayOptions{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		HistoryLimit:   cfg.Chat.HistoryLimit,
		EventRate:      cfg.Security.RateLimit.RPS,
		EventBurst:     cfg.Security.RateLimit.Burst,
	})

	return &App{
		cfg:      cfg,
		source:   source,
		version:  version,
		registry: registry,
		relay:    relay,
		gateway:  gateway,
	}, nil
}

// Run starts the retention runner and the HTTP server, then blocks
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer stopRetention()

	banner.Print(a.cfg, a.source, a.version)

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// shutdown drains the HTTP server and closes the store. Live websocket
// sessions are torn down by the server close; clients reconnect and
// replay from their mailboxes.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err.Error())
			_ = a.srv.Close()
		}
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err.Error())
	}
	logger.Info("server_stopped")
}
