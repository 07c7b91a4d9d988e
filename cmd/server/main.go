package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/gambit/internal"
	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/handler"
	"github.com/DukeRupert/gambit/internal/metrics"
	"github.com/DukeRupert/gambit/internal/middleware"
	"github.com/DukeRupert/gambit/internal/repository"
	"github.com/DukeRupert/gambit/internal/service"
	"github.com/DukeRupert/gambit/internal/sweeper"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := internal.OpenDatabase(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := internal.RunMigrations(db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository and ledger
	repo := repository.New(db)
	clock := quartz.NewReal()

	usage, closeLedger, err := internal.OpenLedger(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("ledger initialization failed: %w", err)
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.Warn("ledger close failed", "error", err)
		}
	}()

	// Initialize services
	tiers := service.NewTierResolver(repo, clock, cfg.TierCacheTTL, logger)
	if err := tiers.Preload(ctx, domain.TierFree, domain.TierPro, domain.TierEnterprise); err != nil {
		// Lookups retry lazily; the free-tier fallback covers an empty catalog.
		logger.Warn("tier preload failed", "error", err)
	}
	accounts := service.NewAccountDirectory(repo)
	quotaService := service.NewQuotaService(tiers, accounts, usage, cfg.QuotaConfig(), clock, logger)
	claimService := service.NewClaimService(service.NewPostgresClaimStore(db), accounts, usage, logger)

	// Optional in-process retention sweeper
	var sw *sweeper.Sweeper
	if cfg.SweeperEnabled {
		archive, err := internal.OpenArchive(cfg, logger)
		if err != nil {
			return fmt.Errorf("archive initialization failed: %w", err)
		}
		sw, err = sweeper.New(usage, archive, clock, cfg.SweeperConfig(), logger)
		if err != nil {
			return fmt.Errorf("sweeper initialization failed: %w", err)
		}
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	identityMw := middleware.NewIdentityMiddleware(logger, cfg.TrustedProxies)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	headersMw := middleware.NewAPIHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(quotaService, clock, logger)
	claimHandler := handler.NewClaimHandler(claimService, logger)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.PingFunc(db.PingContext),
		"ledger":   usage,
	}, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	quotaHandler.RegisterRoutes(mux)
	claimHandler.RegisterRoutes(mux)
	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Identity runs before logging so request logs carry it.
	root := middleware.Stack(
		metrics.Middleware(mux),
		headersMw.Handler,
		identityMw.Handler,
		loggingMw.Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if sw != nil {
		sw.Start(ctx)
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "ledger", cfg.LedgerBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if sw != nil {
		sw.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
