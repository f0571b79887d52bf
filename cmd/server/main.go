package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetquery/internal/config"
	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/logging"
	"github.com/JonMunkholm/sheetquery/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"engine", cfg.Engine.Provider,
		"history", cfg.History.Driver,
		"query_max_concurrent", cfg.Query.MaxConcurrent,
		"session_ttl", cfg.Session.TTL,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()

	hist, err := history.Open(ctx, history.Options{
		Driver:          cfg.History.Driver,
		SQLitePath:      cfg.History.SQLitePath,
		PostgresURL:     cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to open history store", "driver", cfg.History.Driver, "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	eng, err := engine.New(engine.Config{
		Provider:    cfg.Engine.Provider,
		APIKey:      cfg.Engine.APIKey(),
		Model:       cfg.Engine.Model,
		ChartsDir:   cfg.Engine.ChartsDir,
		Verbose:     cfg.Engine.Verbose,
		MaxTokens:   cfg.Engine.MaxTokens,
		ContextRows: cfg.Engine.ContextRows,
		Timeout:     cfg.Engine.Timeout,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(eng, hist, core.Options{
		UploadDir:            cfg.Storage.UploadDir,
		MaxFileSize:          cfg.Storage.MaxFileSize,
		SessionTTL:           cfg.Session.TTL,
		RequireData:          cfg.Query.RequireData,
		MaxConcurrentQueries: cfg.Query.MaxConcurrent,
		QueryWait:            cfg.Query.MaxWaitTime,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Cancelling jobCtx stops the session reaper.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if err := service.StartReaper(jobCtx, cfg.Session.ReapSchedule); err != nil {
		slog.Error("failed to start session reaper", "error", err)
		os.Exit(1)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		cancelJobs()
		service.StopReaper()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight engine calls finish before closing connections
		if status := service.QueryLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for queries to complete", "active", status.Active)
			if err := service.WaitForQueries(shutdownCtx); err != nil {
				slog.Warn("queries did not complete in time", "error", err)
			} else {
				slog.Info("all queries completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
