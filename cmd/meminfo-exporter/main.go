package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsaarni/meminfo/internal/config"
	"github.com/tsaarni/meminfo/internal/exporter"
	"github.com/tsaarni/meminfo/internal/finder"
	"github.com/tsaarni/meminfo/internal/metrics"
)

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(999) // Higher than any defined level.
	default:
		slog.Warn("Unknown log level, defaulting to info", "log-level", level)
		return slog.LevelInfo
	}
}

func newFinder(cfg *config.Config) (finder.Finder, error) {
	if cfg.Mode == config.ModeLocal {
		f, err := finder.NewProcFinder(cfg.ProcPath)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	// Check that containerd socket exists.
	if _, err := os.Stat(cfg.ContainerdSocket); os.IsNotExist(err) {
		slog.Error("The specified containerd socket does not exist", "containerdSocket", cfg.ContainerdSocket)
		return nil, err
	}
	f, err := finder.NewKubernetesFinder(cfg.ContainerdSocket, cfg.ProcPath)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetLogLoggerLevel(parseLogLevel(cfg.LogLevel))

	// Check that /proc path exists.
	if _, err := os.Stat(cfg.ProcPath); os.IsNotExist(err) {
		slog.Error("The specified /proc path does not exist", "procPath", cfg.ProcPath)
		os.Exit(1)
	}

	f, err := newFinder(cfg)
	if err != nil {
		slog.Error("Failed to initialize PID finder", "mode", cfg.Mode, "error", err)
		os.Exit(1)
	}

	e, err := exporter.New(cfg, f, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		slog.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting meminfo-exporter", "listenAddr", cfg.ListenAddr, "procPath", cfg.ProcPath,
		"sysPath", cfg.SysPath, "mode", cfg.Mode, "filter", cfg.Filter, "scrapeInterval", cfg.ScrapeInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Run(ctx); err != nil {
			slog.Error("Collection loop stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.RedirectHandler("/metrics", http.StatusFound))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Stopped meminfo-exporter")
}
