// Package app assembles the ingestion pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/OpenNSW/edibridge/internal/audit"
	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/database"
	"github.com/OpenNSW/edibridge/internal/ingest"
	"github.com/OpenNSW/edibridge/internal/lock"
	"github.com/OpenNSW/edibridge/internal/metrics"
	"github.com/OpenNSW/edibridge/internal/notify"
	"github.com/OpenNSW/edibridge/internal/records"
	"github.com/OpenNSW/edibridge/internal/reference"
	"github.com/OpenNSW/edibridge/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

const directoryCacheTTL = 10 * time.Minute

// App holds the wired components shared by the server and the CLI.
type App struct {
	DB        *gorm.DB
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Processor *ingest.Processor
	Inbox     *storage.Inbox
	Runner    *ingest.Runner
	Records   *records.Service
}

// New connects to the database, migrates it, makes sure the partner's
// importer and destination country exist and wires the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.New(&cfg.Database, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.HealthCheck(db); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}

	a, err := wire(ctx, cfg, db)
	if err != nil {
		database.Close(db)
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	directory := reference.NewDirectory(db, directoryCacheTTL)
	importer, err := directory.EnsureImporter(ctx, cfg.Partner.SystemCode, cfg.Partner.SystemCode)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure importer %s: %w", cfg.Partner.SystemCode, err)
	}
	if _, err := directory.EnsureCountry(ctx, cfg.Partner.DestinationCountry); err != nil {
		return nil, fmt.Errorf("failed to ensure country %s: %w", cfg.Partner.DestinationCountry, err)
	}
	for _, code := range slices.Sorted(maps.Keys(cfg.Partner.Ports)) {
		if _, err := directory.EnsurePort(ctx, code, cfg.Partner.Ports[code]); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	rows := lock.NewRowLocker(cfg.Locking.MaxAttempts, cfg.Locking.Backoff)
	rows.OnRetry = func(int, error) { m.LockRetry("row") }

	deps := ingest.Deps{
		DB:        db,
		Named:     namedLocker(cfg.Locking.Mode),
		Rows:      rows,
		Directory: directory,
		Audit:     audit.NewWriter(),
		Partner:   cfg.Partner,
	}
	processor := ingest.NewProcessor(deps, notify.New(cfg.Notify), m)

	driver, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	inbox := storage.NewInbox(driver)

	slog.Info("ingestion pipeline ready",
		"partner", cfg.Partner.SystemCode,
		"prefix", cfg.Partner.Prefix,
		"lockMode", cfg.Locking.Mode,
		"storage", cfg.Storage.Type,
	)

	return &App{
		DB:        db,
		Registry:  registry,
		Metrics:   m,
		Processor: processor,
		Inbox:     inbox,
		Runner:    ingest.NewRunner(processor, inbox, m),
		Records:   records.NewService(db, importer.ID),
	}, nil
}

func namedLocker(mode string) lock.NamedLocker {
	if mode == "local" {
		return lock.NewLocalLocker()
	}
	return lock.NewAdvisoryLocker()
}

// Close releases the database.
func (a *App) Close() error {
	return database.Close(a.DB)
}
