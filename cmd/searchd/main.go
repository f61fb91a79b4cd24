// Searchd is a multi-tenant connector ingestion and semantic search
// daemon.
//
// It exposes an HTTP API for managing organisations, installing
// connector apps and linking sources, and searching ingested documents
// by vector similarity. Installation events fan out over the event bus
// to the ingestion orchestrator, which crawls linked sources under
// per-connector rate limits and writes embedded documents into the
// tenant-partitioned vector index.
//
// Usage:
//
//	# Start with defaults (chromem index, in-memory bus)
//	searchd serve
//
//	# Start with a config file
//	searchd serve --config /etc/searchd/config.yaml
//
// Configuration is read from YAML and overridden by environment
// variables, e.g. SERVER_HTTP_PORT=9190 VECTORINDEX_BACKEND=qdrant.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/config"
	searchdhttp "github.com/fyrsmithlabs/searchd/internal/http"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/services"
	"github.com/fyrsmithlabs/searchd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "searchd",
	Short:   "Connector ingestion and semantic search daemon",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the searchd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/searchd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting searchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("events_backend", cfg.Events.Backend),
		zap.String("vectorindex_backend", cfg.VectorIndex.Backend),
	)

	tel, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
		ServiceVersion: version,
	})
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without exporters", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}()
	}

	registry, err := services.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer registry.Close()

	if err := registry.Start(); err != nil {
		return fmt.Errorf("starting ingestion: %w", err)
	}

	srv, err := searchdhttp.NewServer(
		registry.Organisation(),
		registry.Index(),
		registry.Embedder(),
		logger,
		searchdhttp.Config{Port: cfg.Server.Port},
	)
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
