package main

import (
	"context"
	"fmt"

	"github.com/jonathan/storm-crm/internal/config"
	"github.com/jonathan/storm-crm/internal/db"
	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/logger"
	"github.com/jonathan/storm-crm/internal/memstore"
	"github.com/jonathan/storm-crm/internal/records"
)

// openStore opens the store named by cfg. Tests replace it to share one in-memory store
// across commands.
var openStore = func(ctx context.Context, cfg *config.Config) (records.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverPostgres:
		return db.Connect(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// loadConfig resolves the effective configuration, applying the root flags last.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadWith(configPath, func(c *config.Config) {
		if storeDriver != "" {
			c.StoreDriver = storeDriver
		}
		if override != nil {
			override(c)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// pipelineConfig maps the service configuration onto the intake tunables.
func pipelineConfig(cfg *config.Config) intake.Config {
	return intake.Config{
		Timeout:             cfg.IngestTimeout.Std(),
		ManualMaxRows:       cfg.ManualMaxRows,
		ManualMaxAge:        cfg.ManualMaxAge.Std(),
		DefaultSourceSystem: cfg.DefaultSourceSystem,
	}
}

// env bundles what every data command needs.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store records.Store
}

func (e *env) Close() {
	e.store.Close()
	e.log.Sync()
}

// setup loads config, builds the logger and opens the store.
func setup(ctx context.Context) (*env, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	return &env{cfg: cfg, log: log, store: store}, nil
}
