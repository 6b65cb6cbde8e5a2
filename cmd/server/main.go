package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"query-enhancements/internal/app"
	"query-enhancements/internal/config"
	internaldb "query-enhancements/internal/db"
)

// readPoolSize is the number of concurrent read connections to the metadata store.
const readPoolSize = 8

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools, err := internaldb.OpenPools(cfg.MetaDBPath, readPoolSize)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer pools.Close() //nolint:errcheck

	if err := internaldb.Migrate(ctx, pools.Write, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	application, err := app.New(ctx, app.Deps{
		Cfg:     cfg,
		WriteDB: pools.Write,
		ReadDB:  pools.Read,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer application.Close()
	if err := application.Start(); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("query enhancements server listening",
		"addr", cfg.ListenAddr,
		"cluster", cfg.Cluster.URL,
		"async", cfg.Search.AsyncEnabled,
		"auth", cfg.Auth.Enabled,
	)
	logger.Info(searchHint(cfg.ListenAddr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// searchHint is the startup log line showing a first query against the
// server.
func searchHint(listenAddr string) string {
	return fmt.Sprintf(`try: curl -X POST http://%s/api/enhancements/search/sql -d '{"query":{"query":"SELECT 1","language":"SQL"}}'`,
		curlHostForListenAddr(listenAddr))
}

// curlHostForListenAddr turns a listen address into a host:port usable from
// a local shell. Wildcard and empty hosts become localhost.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
