// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const insecureEncryptionKey = "0000000000000000000000000000000000000000000000000000000000000000"

// AuthConfig holds authentication and identity provider configuration.
type AuthConfig struct {
	Enabled   bool   // require a bearer token on /api routes
	IssuerURL string // OIDC issuer URL (discovery + JWKS)
	JWTSecret string // HS256 shared secret for local/dev JWT auth
	Audience  string // Required JWT audience claim
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != ""
}

// Validate checks that the auth configuration is internally consistent.
func (a *AuthConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.IssuerURL == "" && a.JWTSecret == "" {
		return fmt.Errorf("AUTH_ENABLED requires AUTH_ISSUER_URL or JWT_SECRET")
	}
	if a.IssuerURL != "" && a.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	return nil
}

// ClusterConfig describes the default (local) search cluster.
type ClusterConfig struct {
	URL      string // base URL of the cluster (default http://localhost:9200)
	Username string // internal user for calls made without caller credentials
	Password string
}

// SearchConfig is the strategy-facing part of the configuration.
type SearchConfig struct {
	CancelTimeout     time.Duration // bound on a cancel call fired from an abort signal
	PromQLDefaultStep time.Duration // zero derives the step from the query range
	AsyncEnabled      bool          // register the async SQL/PPL strategies
}

// Config holds the configuration for the HTTP API server.
type Config struct {
	MetaDBPath    string // path to SQLite metadata file (data-source store)
	ListenAddr    string // HTTP listen address (default ":8080")
	EncryptionKey string // 64-char hex string (32-byte AES key) for encrypting stored credentials
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"

	Cluster ClusterConfig
	Search  SearchConfig

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Auth holds identity provider and authentication configuration.
	Auth AuthConfig

	// Data-source maintenance.
	HealthSchedule string // cron spec for connection checks; empty disables
	SeedFile       string // optional YAML file of data sources loaded into an empty store

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to an slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:     os.Getenv("META_DB_PATH"),
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		HealthSchedule: "@every 5m",
		SeedFile:       os.Getenv("DATASOURCE_SEED_FILE"),
		Cluster: ClusterConfig{
			URL:      os.Getenv("CLUSTER_URL"),
			Username: os.Getenv("CLUSTER_USERNAME"),
			Password: os.Getenv("CLUSTER_PASSWORD"),
		},
		Search: SearchConfig{
			CancelTimeout: 10 * time.Second,
			AsyncEnabled:  parseBoolEnvDefault("FEATURE_ASYNC_QUERY", true),
		},
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// Search timing
	if v := os.Getenv("CANCEL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid CANCEL_TIMEOUT %q", v)
		}
		cfg.Search.CancelTimeout = d
	}
	if v := os.Getenv("PROMQL_DEFAULT_STEP"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid PROMQL_DEFAULT_STEP %q", v)
		}
		cfg.Search.PromQLDefaultStep = d
	}
	if v, ok := os.LookupEnv("DATASOURCE_HEALTH_SCHEDULE"); ok {
		cfg.HealthSchedule = strings.TrimSpace(v)
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Auth config
	cfg.Auth = AuthConfig{
		Enabled:   parseBoolEnvDefault("AUTH_ENABLED", false),
		IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		Audience:  os.Getenv("AUTH_AUDIENCE"),
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "query_enhancements.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Cluster.URL == "" {
		cfg.Cluster.URL = "http://localhost:9200"
	}
	if !cfg.Auth.Enabled {
		cfg.Warnings = append(cfg.Warnings, "authentication is disabled; set AUTH_ENABLED=true to require bearer tokens")
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = insecureEncryptionKey
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set, using insecure default. Set ENCRYPTION_KEY in production!")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.EncryptionKey == insecureEncryptionKey {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
