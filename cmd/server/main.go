package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"comfy-cockpit/backend/internal/api"
	"comfy-cockpit/backend/internal/comfy"
	"comfy-cockpit/backend/internal/config"
	"comfy-cockpit/backend/internal/events"
	"comfy-cockpit/backend/internal/logging"
	"comfy-cockpit/backend/internal/mcp"
	"comfy-cockpit/backend/internal/repository"
	"comfy-cockpit/backend/internal/services"
	"comfy-cockpit/backend/internal/storage"
	"comfy-cockpit/backend/internal/workflow"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to config directory")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Starting Comfy Cockpit backend (comfy at %s)", cfg.Comfy.URL)

	// Initialize persistence. A reachable postgres gets jobs and assets that
	// survive restarts; without one the cockpit still runs on an in-memory
	// store.
	store, dbPool := initStore(ctx, cfg, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}

	// Workflow registry
	registry := workflow.NewRegistry(cfg.Paths.WorkflowsDir, logger)
	for _, f := range registry.Failures() {
		logger.Warn("workflow %q failed to load: %v", f.ID, f.Err)
	}

	// Asset storage
	assets, err := storage.NewAssetStore(filepath.Join(cfg.Paths.DataDir, "assets"))
	if err != nil {
		logger.Error("Failed to initialize asset storage: %v", err)
		log.Fatalf("Asset storage initialization failed: %v", err)
	}

	// Service layer
	comfyClient := comfy.NewClient(cfg.Comfy.URL)
	hub := events.NewHub(logger)
	jobService := services.NewJobService(
		store, registry, comfyClient, assets, hub, logger,
		cfg.Jobs.PersistUnknownParams,
	)

	// Background watcher translating backend execution events into job state
	go jobService.Watch(ctx)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("comfy-cockpit"))

	// Mount REST API handlers and the event websocket
	server := api.NewServer(cfg, jobService, registry, comfyClient, hub, assets, logger)
	server.RegisterRoutes(e)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(jobService, registry)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: e,
		// no WriteTimeout: the event websocket is long-lived
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

// initStore connects to postgres and falls back to the in-memory store when
// the database is unreachable.
func initStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.JobStore, *pgxpool.Pool) {
	pool, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Warn("Database unavailable (%v); jobs will not survive restarts", err)
		return repository.NewMemoryJobStore(), nil
	}

	store := repository.NewPostgresJobStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn("Schema setup failed (%v); falling back to in-memory store", err)
		pool.Close()
		return repository.NewMemoryJobStore(), nil
	}

	logger.Info("Database connected")
	return store, pool
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
