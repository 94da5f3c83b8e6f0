package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveWithWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and real-time relay",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.IntVar(&cfg.HTTP.Port, "port", cfg.HTTP.Port, "HTTP port (env PORT)")
	flags.StringVar(&cfg.HTTP.StaticDir, "static-dir", cfg.HTTP.StaticDir, "Directory of static files served for unknown paths")
	flags.BoolVar(&serveWithWorkers, "with-workers", false, "Also run the pipeline workers in this process")
	flags.StringVar(&cfg.Bus.Type, "bus", cfg.Bus.Type, "Relay transport: store or rabbitmq")
	flags.StringVar(&cfg.Bus.RabbitMQURI, "rabbitmq-url", cfg.Bus.RabbitMQURI, "RabbitMQ URI for --bus rabbitmq (env RABBITMQ_URL)")
	flags.BoolVar(&cfg.RateLimit.Enabled, "rate-limit", cfg.RateLimit.Enabled, "Gate HTTP requests with the shared fixed window")
	flags.Int64Var(&cfg.RateLimit.Limit, "rate-limit-max", cfg.RateLimit.Limit, "Requests allowed per window across all instances")
	flags.DurationVar(&cfg.RateLimit.Window, "rate-limit-window", cfg.RateLimit.Window, "Rate limit window")
	flags.DurationVar(&cfg.Cache.TTL, "cache-ttl", cfg.Cache.TTL, "TTL of the cached page total (0 never expires)")
	flags.StringVar(&cfg.Catalog.BaseURL, "catalog-url", cfg.Catalog.BaseURL, "Books catalog endpoint")
	flags.IntVar(&cfg.Catalog.MaxPages, "catalog-max-pages", cfg.Catalog.MaxPages, "Catalog pages summed for the total (0 reads all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	if serveWithWorkers {
		if err := a.registerWorkers(); err != nil {
			return err
		}
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	defer a.engine.Stop()

	f, err := a.newFrontend(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	slog.Info("Starting relayq server",
		"addr", cfg.HTTP.Addr(),
		"memory", cfg.Memory,
		"bus", cfg.Bus.Type,
		"workers", serveWithWorkers,
		"rate_limit", cfg.RateLimit.Enabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := f.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return f.server.Shutdown(shutdownCtx)
}
