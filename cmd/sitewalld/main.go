package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/sitewall/internal/block/common/clock"
	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/config"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
	"github.com/haukened/sitewall/internal/block/repos/statstore"
	"github.com/haukened/sitewall/internal/block/services/reconciler"
	"github.com/haukened/sitewall/internal/block/services/rules"
	"github.com/haukened/sitewall/internal/block/services/settings"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "sitewalld"

	defaultBoltTimeout = 5 * time.Second
)

// Application holds all the components of the blocking daemon
type Application struct {
	config     *config.AppConfig
	db         *bbolt.DB
	engine     *dnr.MemEngine
	manager    *rules.Manager
	settings   *settings.Service
	reconciler *reconciler.Service
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":            version,
		"env":                cfg.Env,
		"log_level":          cfg.LogLevel,
		"store_path":         cfg.StorePath,
		"blocked_page_url":   cfg.BlockedPageURL,
		"reconcile_interval": cfg.ReconcileInterval,
		"verdict_cache_size": cfg.VerdictCacheSize,
	}, "Starting sitewall daemon")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}
	defer app.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, "sitewall daemon stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	// Open the shared bolt database. Rule records and settings live in the
	// "sync" bucket, statistics in "local".
	db, err := bbolt.Open(cfg.StorePath, 0o600, &bbolt.Options{Timeout: defaultBoltTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.StorePath, err)
	}

	store, err := rulestore.NewBolt(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rule store: %w", err)
	}

	stats, err := statstore.NewBolt(db, clk, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stat store: %w", err)
	}

	engine, err := dnr.NewMemEngine(cfg.BlockedPageURL, cfg.VerdictCacheSize, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create filtering engine: %w", err)
	}
	engine.SetRecorder(stats)

	recon := reconciler.New(reconciler.Options{
		Store:          store,
		Engine:         engine,
		Clock:          clk,
		Logger:         logger,
		BlockedPageURL: cfg.BlockedPageURL,
		Interval:       time.Duration(cfg.ReconcileInterval) * time.Second,
	})

	// Rule mutations notify the reconciler so schedule convergence does not
	// wait for the next tick.
	manager := rules.NewManager(rules.ManagerOptions{
		Store:          store,
		Engine:         engine,
		Notifier:       recon,
		Clock:          clk,
		Logger:         logger,
		BlockedPageURL: cfg.BlockedPageURL,
	})

	settingsSvc := settings.New(store, logger)

	return &Application{
		config:     cfg,
		db:         db,
		engine:     engine,
		manager:    manager,
		settings:   settingsSvc,
		reconciler: recon,
	}, nil
}

// Run migrates stored rules, then drives the reconcile loop and the delayed
// integrity sweep until the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	result, err := app.manager.MigrateRules(ctx)
	if err != nil {
		return fmt.Errorf("rule migration failed: %w", err)
	}
	if result.Migrated {
		log.Info(map[string]any{"rules": len(result.Rules)}, "Migrated stored rules")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.reconciler.Run(gctx)
	})

	g.Go(func() error {
		delay := time.Duration(app.config.IntegrityDelay) * time.Second
		return app.reconciler.IntegritySweep(gctx, delay)
	})

	log.Info(map[string]any{
		"interval_seconds": app.config.ReconcileInterval,
	}, "Reconcile loop started")

	// Cancellation is the normal shutdown path, not a failure.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the engine and the bolt database.
func (app *Application) Close() {
	if err := app.engine.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing filtering engine")
	}
	if err := app.db.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing store")
	}
}
