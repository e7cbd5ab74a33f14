package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/AKD-MA/twr-wireshark/internal/config"
	"github.com/AKD-MA/twr-wireshark/internal/logging"
	"github.com/AKD-MA/twr-wireshark/internal/metrics"
	"github.com/AKD-MA/twr-wireshark/internal/server"
	"github.com/AKD-MA/twr-wireshark/internal/sink"
	"github.com/AKD-MA/twr-wireshark/internal/tracker"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "twrd"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Int("queue_size", cfg.Server.QueueSize),
		slog.Int("device_timeout", cfg.Tracker.DeviceTimeout),
		slog.String("output_path", cfg.Output.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	devices, err := tracker.NewManager(logger, tracker.Config{
		Timeout:         cfg.Tracker.GetDeviceTimeoutDuration(),
		CleanupInterval: cfg.Tracker.GetCleanupIntervalDuration(),
		OnExpire: func(info tracker.DeviceInfo) {
			appMetrics.RecordDeviceExpired(info.DeviceID)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create device tracker: %w", err)
	}
	defer devices.Stop()

	output, closeOutput, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	defer closeOutput()

	udpServer := server.NewUDPServer(&cfg.Server, logger, devices, appMetrics, output)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}, logger, cfg, devices, udpServer, appMetrics, prometheus.DefaultGatherer)
	}

	if err := udpServer.Start(); err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			_ = udpServer.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	eg.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-ctx.Done():
		}
		return context.Canceled
	})

	if httpServer != nil {
		eg.Go(func() error {
			select {
			case err, ok := <-httpServer.Errors():
				if ok {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
				return nil
			}
		})
	}

	// Active device gauge follows the tracker, including idle expiry
	eg.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				appMetrics.SetActiveDevices(devices.Count())
			}
		}
	})

	runErr := eg.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("unknown_messages", stats.UnknownMessages),
		slog.Uint64("active_devices", stats.ActiveDevices),
	)

	return runErr
}

// openOutput returns the JSONL sink for cfg, or nil when output is disabled
func openOutput(cfg config.OutputConfig) (*sink.Writer, func(), error) {
	opts := sink.Options{
		IncludeRaw:     cfg.IncludeRaw,
		IncludeUnknown: cfg.IncludeUnknown,
	}

	var w io.Writer
	closeFn := func() {}
	switch cfg.Path {
	case "":
		return nil, closeFn, nil
	case "-":
		w = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to open output %s: %w", cfg.Path, err)
		}
		w = file
		closeFn = func() { _ = file.Close() }
	}

	return sink.NewJSONLWriter(w, opts), closeFn, nil
}
