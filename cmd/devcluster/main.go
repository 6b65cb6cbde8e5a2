// Package main is the entry point for the dev cluster binary. It opens an
// in-memory DuckDB, generates a sample logs table and serves the SQL, PPL
// and async-query plugin routes over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/pflag"

	"query-enhancements/internal/config"
	"query-enhancements/internal/devcluster"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadClusterConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.MaxMemoryGB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET max_memory='%dGB'", cfg.MaxMemoryGB)); err != nil {
			return fmt.Errorf("set max_memory: %w", err)
		}
		logger.Info("memory limit set", "max_memory_gb", cfg.MaxMemoryGB)
	}

	if !cfg.SkipSampling {
		if err := devcluster.SeedSampleData(ctx, db, cfg.SampleRows); err != nil {
			return fmt.Errorf("seed sample data: %w", err)
		}
		logger.Info("sample data generated", "table", devcluster.SampleTable, "rows", cfg.SampleRows)
	}

	handler := devcluster.NewHandler(devcluster.HandlerConfig{
		DB:        db,
		Username:  cfg.Username,
		Password:  cfg.Password,
		StartTime: time.Now(),
		JobDelay:  cfg.JobDelay,
		JobTTL:    cfg.JobTTL,
		Logger:    logger,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down dev cluster")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dev cluster listening", "addr", cfg.ListenAddr, "auth", cfg.Username != "", "version", devcluster.Version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
