// Harrier - Alert detection for suspicious financial activity.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/sweep"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Seed default alert definitions for bootstrap projects
	if envProjects := os.Getenv("HARRIER_SEED_PROJECTS"); envProjects != "" {
		for _, projectID := range strings.Split(envProjects, ",") {
			projectID = strings.TrimSpace(projectID)
			if projectID == "" {
				continue
			}
			if err := seedDefaultDefinitions(ctx, repo, projectID); err != nil {
				slog.Error("failed to seed definitions", "project_id", projectID, "error", err)
				os.Exit(1)
			}
		}
	}

	// Initialize Sweeper
	sweeper := sweep.NewSweeper(repo, cacheImpl, busImpl, cfg.Sweep)
	slog.Info("sweeper initialized",
		"max_workers", cfg.Sweep.MaxWorkers,
		"lookback_days", cfg.Sweep.DefaultLookbackDays,
	)

	// Initialize Monitoring Resolver
	resolver := monitoring.NewResolver(repo, cacheImpl)

	// Initialize Alert Service
	alertService := alerts.NewService(repo)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, resolver)

		// Get project IDs to process (from environment or default)
		projectIDs := []string{}
		if envProjects := os.Getenv("HARRIER_PROJECTS"); envProjects != "" {
			for _, projectID := range strings.Split(envProjects, ",") {
				if projectID = strings.TrimSpace(projectID); projectID != "" {
					projectIDs = append(projectIDs, projectID)
				}
			}
		}

		workerCfg := worker.Config{
			ProjectIDs: projectIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "project_count", len(projectIDs))
		}
	}

	// Optional in-process sweep scheduler
	if interval := os.Getenv("HARRIER_SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			slog.Error("invalid HARRIER_SWEEP_INTERVAL", "value", interval, "error", err)
			os.Exit(1)
		}
		go runSweepLoop(ctx, sweeper, d)
		slog.Info("sweep scheduler started", "interval", d.String())
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, sweeper, resolver, alertService, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// seedDefaultDefinitions installs the built-in transaction and
// merchant-monitoring definitions for a project. Existing definitions
// with the same name are left untouched.
func seedDefaultDefinitions(ctx context.Context, repo domain.Repository, projectID string) error {
	existing, err := repo.ListAlertDefinitions(ctx, projectID, "")
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, def := range existing {
		known[def.Name] = true
	}

	defs := rules.DefaultTransactionDefinitions(projectID)
	defs = append(defs, rules.DefaultMonitoringDefinitions(projectID)...)

	seeded := 0
	for _, def := range defs {
		if known[def.Name] {
			continue
		}
		if err := repo.SaveAlertDefinition(ctx, projectID, def); err != nil {
			return err
		}
		seeded++
	}

	slog.Info("default definitions seeded",
		"project_id", projectID,
		"seeded", seeded,
		"existing", len(existing),
	)
	return nil
}

// runSweepLoop triggers the full sweep on a fixed interval until the
// context is cancelled.
func runSweepLoop(ctx context.Context, sweeper *sweep.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := sweeper.CheckAllAlerts(ctx)
			if err != nil {
				slog.Error("scheduled sweep failed", "error", err)
				continue
			}
			slog.Info("scheduled sweep completed",
				"run", report.RunNumber,
				"alerts_created", report.AlertsCreated,
				"deduplicated", report.Deduplicated,
				"duration_ms", report.DurationMs,
			)
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║       Alert Detection Engine              ║")
	fmt.Println("  ║    Low passes over every ledger.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /sweep                   - Run the full alert sweep")
	fmt.Println("    POST  /monitoring/check        - Run the ongoing-monitoring check")
	fmt.Println("    GET   /alerts                  - List alerts")
	fmt.Println("    PATCH /alerts/assign           - Bulk assign alerts")
	fmt.Println("    PATCH /alerts/decision         - Bulk decide alerts")
	fmt.Println("    GET   /alerts/{id}/definition  - Resolve an alert's definition")
	fmt.Println("    GET   /definitions             - List alert definitions")
	fmt.Println("    POST  /definitions             - Create an alert definition")
	fmt.Println("    POST  /transactions            - Ingest a transaction")
	fmt.Println("    POST  /reports                 - Ingest a business report")
	fmt.Println("    GET   /health                  - Health check")
	fmt.Println("    GET   /metrics                 - Prometheus metrics")
	fmt.Println()
}
