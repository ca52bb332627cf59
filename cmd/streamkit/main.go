// Package main implements the streamkit daemon: it connects the telemetry
// stream manager to a NATS or WebSocket transport, subscribes the streams
// named in the configuration, and serves prometheus metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/streamkit/config"
	"github.com/c360/streamkit/manager"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/transport"
	"github.com/c360/streamkit/transport/natstransport"
	"github.com/c360/streamkit/transport/wstransport"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streamkit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (%s)\n", appName, Version, runtime.Version())
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	registry := metric.NewRegistry()

	factory, err := transportFactory(cfg, logger)
	if err != nil {
		return err
	}

	mgr, err := manager.New(cfg.Manager, factory,
		manager.WithLogger(logger),
		manager.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = newMetricsServer(cfg.Metrics.Addr, registry)
		g.Go(func() error {
			logger.Info("metrics endpoint", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	// drain the event surface into the log; a real deployment replaces
	// this consumer with its display or egress layer
	events, eventsID := mgr.Events()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				logger.Debug("event", "type", fmt.Sprintf("%T", ev), "stream_id", ev.Stream())
			}
		}
	})

	logger.Info("started",
		"transport", cfg.Transport.Kind,
		"url", cfg.Transport.URL,
		"metrics", cfg.Metrics.Enabled,
	)

	<-gctx.Done()
	logger.Info("shutting down", "timeout", cliCfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()

	mgr.Unlisten(eventsID)
	if err := mgr.Destroy(); err != nil {
		logger.Warn("manager destroy", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// transportFactory selects the wire transport from configuration.
func transportFactory(cfg *config.Config, logger *slog.Logger) (manager.TransportFactory, error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		return func(h transport.Handlers) transport.Transport {
			return natstransport.New(natstransport.Config{
				URL:            cfg.Transport.URL,
				Prefix:         cfg.Transport.SubjectPrefix,
				Name:           appName,
				ConnectTimeout: cfg.Transport.Timeout,
				Logger:         logger,
			}, h)
		}, nil
	case config.TransportWebSocket:
		return func(h transport.Handlers) transport.Transport {
			return wstransport.New(wstransport.Config{
				URL:    cfg.Transport.URL,
				Logger: logger,
			}, h)
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func newMetricsServer(addr string, registry *metric.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
