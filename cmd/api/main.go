package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"resourceapi/internal/config"
	"resourceapi/internal/logging"
	"resourceapi/internal/model"
	"resourceapi/internal/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "resourceapi",
		Short:        "REST resources over pluggable storage backends",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

// setup loads and validates configuration and builds the process logger.
func setup() (*config.AppConfig, *slog.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log := logging.New(os.Stdout, cfg.LogLevel, logging.Location(cfg.Timezone))
	slog.SetDefault(log)
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	var (
		seedPath    string
		skipMigrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, seedPath, skipMigrate)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "JSON file of entities keyed by resource plural, created at startup")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not create missing tables on relational backends")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of every resource and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.close()
			return b.migrate(ctx, log, declarations())
		},
	}
}

func serve(parent context.Context, cfg *config.AppConfig, log *slog.Logger, seedPath string, skipMigrate bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", "component", "otel", "error_message", err.Error())
		}
	}()

	decls := declarations()
	var seeds map[string][]model.Entity
	if seedPath != "" {
		if seeds, err = readSeed(seedPath, decls); err != nil {
			return err
		}
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	if !skipMigrate {
		if err := b.migrate(ctx, log, decls); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := newService(cfg, log, b, reg, decls)
	if err != nil {
		return err
	}
	if seeds != nil {
		if err := seed(ctx, log, svc.repos, seeds); err != nil {
			return err
		}
	}
	if err := svc.resumeSequences(ctx); err != nil {
		return err
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() { errCh <- svc.app.Listen(addr) }()
	log.Info("server listening",
		"component", "http",
		"event", "server_start",
		"addr", addr,
		"backend", b.kind,
		"resources", len(decls),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "component", "http", "event", "server_stop")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.app.ShutdownWithContext(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
