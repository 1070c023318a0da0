package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/storm-crm/internal/config"
	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/logger"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/server"
)

const storePingInterval = 30 * time.Second

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes the contact intake and query endpoints.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT, default 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(func(c *config.Config) {
		if servePort != 0 {
			c.Port = servePort
		}
	})
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	defer store.Close()

	pipeline := intake.New(store, pipelineConfig(cfg), log)
	srv := server.New(server.Config{
		Port:          cfg.Port,
		AllowedOrigin: cfg.AllowedOrigin,
	}, store, pipeline, log)

	log.Info("starting storm_crm", "store", cfg.StoreDriver, "port", cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return watchStore(gctx, store, log, storePingInterval)
	})
	return g.Wait()
}

// watchStore pings the store until ctx ends, logging when it becomes unreachable and when
// it recovers.
func watchStore(ctx context.Context, store records.Store, log *logger.Logger, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, every/2)
		err := store.Ping(pingCtx)
		cancel()
		switch {
		case err != nil && healthy:
			log.Warn("store unreachable", "error", err)
		case err == nil && !healthy:
			log.Info("store reachable again")
		}
		healthy = err == nil
	}
}
