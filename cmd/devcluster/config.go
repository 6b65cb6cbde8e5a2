package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// ClusterConfig holds configuration for the dev cluster. Values come from
// environment variables and may be overridden by flags.
type ClusterConfig struct {
	ListenAddr   string
	Username     string
	Password     string
	MaxMemoryGB  int
	SampleRows   int
	JobDelay     time.Duration
	JobTTL       time.Duration
	LogLevel     string
	SkipSampling bool
}

func loadClusterConfig(args []string) (*ClusterConfig, error) {
	cfg := &ClusterConfig{
		ListenAddr: envOr("DEVCLUSTER_LISTEN_ADDR", ":9200"),
		Username:   os.Getenv("DEVCLUSTER_USERNAME"),
		Password:   os.Getenv("DEVCLUSTER_PASSWORD"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		SampleRows: 1000,
		JobTTL:     30 * time.Minute,
	}
	if v := os.Getenv("MAX_MEMORY_GB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_MEMORY_GB: %w", err)
		}
		cfg.MaxMemoryGB = n
	}
	if v := os.Getenv("DEVCLUSTER_SAMPLE_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVCLUSTER_SAMPLE_ROWS: %w", err)
		}
		cfg.SampleRows = n
	}
	if v := os.Getenv("DEVCLUSTER_JOB_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVCLUSTER_JOB_DELAY: %w", err)
		}
		cfg.JobDelay = d
	}
	if v := os.Getenv("DEVCLUSTER_JOB_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVCLUSTER_JOB_TTL: %w", err)
		}
		cfg.JobTTL = d
	}

	fs := pflag.NewFlagSet("devcluster", pflag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "basic auth user (empty disables auth)")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "basic auth password")
	fs.IntVar(&cfg.MaxMemoryGB, "max-memory-gb", cfg.MaxMemoryGB, "DuckDB memory limit in GB (0 for the DuckDB default)")
	fs.IntVar(&cfg.SampleRows, "sample-rows", cfg.SampleRows, "rows generated into the logs table")
	fs.BoolVar(&cfg.SkipSampling, "no-sample", false, "start with an empty database")
	fs.DurationVar(&cfg.JobDelay, "job-delay", cfg.JobDelay, "delay before an async query starts running")
	fs.DurationVar(&cfg.JobTTL, "job-ttl", cfg.JobTTL, "how long finished async queries stay visible")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Password != "" && cfg.Username == "" {
		return nil, fmt.Errorf("--password requires --username")
	}
	if !cfg.SkipSampling && cfg.SampleRows <= 0 {
		return nil, fmt.Errorf("--sample-rows must be positive, got %d", cfg.SampleRows)
	}
	if cfg.JobDelay < 0 {
		return nil, fmt.Errorf("--job-delay must not be negative")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
