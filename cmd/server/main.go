// Command server runs one instance of the chain service.
//
// Several instances are normally deployed side by side (app-a, app-b, app-c)
// and point their TARGET_ONE_HOST and TARGET_TWO_HOST at each other, so that
// a call to /chain on one of them produces a single trace spanning all three.
//
// Environment Variables:
//   - SERVICE_APP_NAME: Service name (required)
//   - TARGET_ONE_HOST, TARGET_TWO_HOST: Downstream instances for /chain
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector (e.g. "otel-collector:4317")
//   - HTTP_PORT, METRICS_PORT: Main and exposition listeners (5000, 8000)
//
// See internal/config for the complete list.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	observability "github.com/gath-stack/chainapp"
	"github.com/gath-stack/chainapp/internal/app"
	"github.com/gath-stack/chainapp/internal/config"
	"github.com/gath-stack/chainapp/internal/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ========================================
	// 1. Configuration and logger
	// ========================================
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logs.NewLogger(logs.Options{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "logger sync error: %v\n", err)
		}
	}()

	// ========================================
	// 2. Observability stack
	// ========================================
	stack, err := observability.InitWithConfig(context.Background(), cfg, log, nil)
	if err != nil {
		log.Error("Failed to initialize observability", zap.Error(err))
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := stack.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shutdown observability", zap.Error(err))
		}
	}()

	if cfg.LogsEnabled {
		log = stack.EnableLogsExport(log)
		log.Info("Logs export is active", zap.String("endpoint", cfg.OTLPEndpoint))
	}

	// ========================================
	// 3. Servers
	// ========================================
	application := app.New(log, stack, cfg)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           application.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	servers := []*http.Server{server}
	if cfg.MetricsPort != 0 {
		if ms := stack.MetricsServer(":" + strconv.Itoa(cfg.MetricsPort)); ms != nil {
			servers = append(servers, ms)
		}
	}

	serverErrors := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("HTTP server starting",
				zap.String("addr", srv.Addr),
				zap.String("service", cfg.ServiceName),
				zap.String("version", cfg.ServiceVersion),
				zap.String("target_one", cfg.TargetOneURL),
				zap.String("target_two", cfg.TargetTwoURL))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// ========================================
	// 4. Wait for shutdown signal
	// ========================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErrors:
		log.Error("HTTP server failed", zap.Error(runErr))
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	// ========================================
	// 5. Graceful shutdown
	// ========================================
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.String("addr", srv.Addr), zap.Error(err))
			_ = srv.Close()
		}
	}

	log.Info("Server exited gracefully")
	return runErr
}
