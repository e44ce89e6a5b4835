package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rpggio/tasksync/internal/config"
	"github.com/rpggio/tasksync/internal/control"
	"github.com/rpggio/tasksync/internal/coordinator"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/metrics"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/sqlstore"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync client and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(parent context.Context, cfg config.Config) error {
	logWriter := io.Writer(os.Stderr)
	if logPath := os.Getenv("TASKSYNC_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.DSN); err != nil {
		return fmt.Errorf("prepare database path: %w", err)
	}
	db, err := sqlstore.Open(cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var scope *protocol.Scope
	if cfg.Sync.TeamID != "" || cfg.Sync.ProjectID != "" {
		scope = &protocol.Scope{TeamID: cfg.Sync.TeamID, ProjectID: cfg.Sync.ProjectID}
	}
	coord := coordinator.New(coordinator.Options{
		URL:                 cfg.Sync.ServerURL,
		ActorID:             cfg.Sync.ActorID,
		ClientID:            cfg.Sync.ClientID,
		Scope:               scope,
		HeartbeatInterval:   cfg.Sync.HeartbeatInterval,
		ReconnectInterval:   cfg.Sync.ReconnectInterval,
		ReconnectAttempts:   cfg.Sync.ReconnectAttempts,
		ReconnectMultiplier: cfg.Sync.ReconnectMultiplier,
		DialTimeout:         cfg.Sync.DialTimeout,
		WriteTimeout:        cfg.Sync.WriteTimeout,
		MaxMessageSize:      cfg.Sync.MaxMessageSize,
		FlushInterval:       cfg.Sync.FlushInterval,
		BatchSize:           cfg.Sync.BatchSize,
		MaxRetries:          cfg.Sync.MaxRetries,
		MaxSyncErrors:       cfg.Sync.MaxSyncErrors,
		ConflictWindow:      cfg.Sync.ConflictWindow,
		QueueRepo:           sqlstore.NewQueueRepository(db),
		ConflictRepo:        sqlstore.NewConflictRepository(db),
		Activity:            activity.NewService(sqlstore.NewActivityRepository(db), logger),
		Metrics:             metrics.New(reg),
		Logger:              logger,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	defer coord.Stop()

	coord.OnSyncStateChange(func(s coordinator.SyncState) {
		logger.Debug("sync state changed",
			"online", s.IsOnline,
			"syncing", s.IsSyncing,
			"queue_size", s.QueueSize,
			"conflicts", s.ConflictCount,
			"sync_errors", len(s.SyncErrors))
	})

	addr := cfg.ControlAddr()
	httpServer := &http.Server{
		Addr: addr,
		Handler: control.NewServer(control.Config{
			Handler:  control.NewHandler(coord),
			Gatherer: reg,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

// ensureDBDir creates the parent directory of a file-backed sqlite DSN.
func ensureDBDir(dsn string) error {
	path := dsn
	switch {
	case path == "" || path == ":memory:" || strings.Contains(path, "://") && !strings.HasPrefix(path, "sqlite"):
		return nil
	case strings.HasPrefix(path, "sqlite://"):
		path = strings.TrimPrefix(path, "sqlite://")
	case strings.HasPrefix(path, "sqlite3://"):
		path = strings.TrimPrefix(path, "sqlite3://")
	case strings.HasPrefix(path, "file:"):
		path = strings.TrimPrefix(path, "file:")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
