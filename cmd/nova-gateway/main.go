// Command nova-gateway serves the Nova verification pipeline over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/run-bigpig/nova-gateway/pkg/config"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nova-gateway: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(
		logging.WithLevel(cfg.Logging.Level),
		logging.WithJSON(cfg.Logging.JSON),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(context.Background(), "Gateway stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := server.NewHTTPServer(cfg.Server.Addr, a.handler, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Nova gateway listening", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "Shutting down", nil)
	case err := <-errCh:
		_ = a.Close(context.Background())
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// drain in-flight requests before flushing sinks and exporters
	shutdownErr := srv.Shutdown(shutdownCtx)
	return errors.Join(shutdownErr, a.Close(shutdownCtx))
}
