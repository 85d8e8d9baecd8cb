// Kestrel - Credit-risk feature engineering from raw transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/serving"
	"github.com/opensource-finance/kestrel/internal/worker"
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
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"labeling", cfg.Labeling,
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

	// Initialize training orchestrator
	fitter := serving.NewFitter(repo)

	// Initialize async Worker for labeling runs
	var asyncWorker *worker.Worker
	if cfg.Labeling == domain.LabelingAsync || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, fitter)

		// Comma-separated tenant list; empty means tenants subscribe
		// lazily on their first labeling request.
		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg, repo, cacheImpl, busImpl, fitter, asyncWorker, Version)

	// Restore the scoring service from persisted artifacts, if any.
	// Without a bundle and classifier the server still ingests and labels,
	// it just refuses POST /score until a model is uploaded.
	if tenantID := os.Getenv("KESTREL_TENANT"); tenantID != "" {
		if svc, err := loadServing(ctx, repo, fitter, tenantID); err != nil {
			slog.Warn("no scoring service restored",
				"tenant_id", tenantID,
				"error", err,
			)
		} else {
			srv.Handler().SetService(svc)
			slog.Info("scoring service restored",
				"tenant_id", tenantID,
				"bundle_version", svc.BundleVersion(),
			)
		}
	}

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
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

	slog.Info("kestrel shutdown complete")
}

// loadServing rebuilds the scoring service from the tenant's latest
// persisted bundle and classifier artifacts. All-or-nothing: a missing or
// incompatible artifact leaves the server in unscored mode.
func loadServing(ctx context.Context, repo domain.Repository, fitter *serving.Fitter, tenantID string) (*serving.Service, error) {
	b, err := fitter.Bundles().Latest(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("no pipeline bundle: %w", err)
	}

	artifact, err := repo.GetLatestArtifact(ctx, tenantID, domain.ArtifactClassifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.New("no classifier artifact, upload one via POST /model")
		}
		return nil, err
	}
	clf, err := model.LoadLogistic(artifact)
	if err != nil {
		return nil, err
	}

	return serving.NewService(b, clf)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Credit-Risk Feature Engineering        ║")
	fmt.Println("  ║     From raw rows to risk scores.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions                - Ingest transactions (single or batch)")
	fmt.Println("    GET  /transactions/{id}           - Get transaction by ID")
	fmt.Println("    POST /score                       - Score one raw record")
	fmt.Println("    POST /labels/run                  - Run RFM labeling")
	fmt.Println("    GET  /labels/{customerID}         - Get a customer's risk label")
	fmt.Println("    GET  /customers/{customerID}/profile - Get behavioral profile")
	fmt.Println("    GET  /bundle                      - Active bundle metadata")
	fmt.Println("    GET  /dataset                     - Supervised training table")
	fmt.Println("    POST /model                       - Upload classifier coefficients")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
