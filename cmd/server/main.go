package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenNSW/edibridge/internal/api"
	"github.com/OpenNSW/edibridge/internal/app"
	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/database"
	"github.com/OpenNSW/edibridge/internal/logging"
	"github.com/OpenNSW/edibridge/internal/metrics"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logging.Init(cfg.Log.Level)

	slog.Info("configuration loaded successfully",
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
	)

	slog.Info("CORS configuration",
		"allowed_origins", cfg.CORS.AllowedOrigins,
		"allowed_methods", cfg.CORS.AllowedMethods,
		"allowed_headers", cfg.CORS.AllowedHeaders,
		"allow_credentials", cfg.CORS.AllowCredentials,
		"max_age", cfg.CORS.MaxAge,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
		"max_upload_bytes", cfg.Server.MaxUploadBytes,
	)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize ingestion pipeline: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Drain files left in the inbox by a previous run
	pendingCtx, cancelPending := context.WithCancel(context.Background())
	pendingDone := make(chan struct{})
	go func() {
		defer close(pendingDone)
		results, err := a.Runner.ProcessPending(pendingCtx, cfg.Ingest.Workers)
		if err != nil {
			slog.Error("failed to process pending files", "error", err)
		}
		slog.Info("pending files processed", "count", len(results))
	}()

	health := func() error { return database.HealthCheck(a.DB) }
	handler := api.NewHandler(a.Runner, a.Records, health, cfg.Server.MaxUploadBytes)
	router := api.NewRouter(&cfg.CORS, cfg.Server.APIToken, handler, metrics.Handler(a.Registry))

	// Set up graceful shutdown
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown of HTTP server
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("waiting for pending file processing...")
	cancelPending()
	select {
	case <-pendingDone:
	case <-ctx.Done():
		slog.Warn("pending file processing did not stop before the shutdown deadline")
	}

	slog.Info("server stopped")
}
