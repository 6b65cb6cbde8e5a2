// Package app wires repositories, backend clients, strategies and handlers
// into a ready-to-serve API.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"query-enhancements/internal/api"
	"query-enhancements/internal/config"
	"query-enhancements/internal/datasource"
	"query-enhancements/internal/db/crypto"
	"query-enhancements/internal/db/repository"
	"query-enhancements/internal/middleware"
	"query-enhancements/internal/search"
	"query-enhancements/internal/transport"
)

// backendTimeout bounds a single call to a search backend.
const backendTimeout = 2 * time.Minute

// Deps holds the external dependencies needed to build the application.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
	// HTTPClient is used for every backend call. Nil builds one with
	// backendTimeout.
	HTTPClient *http.Client
}

// App holds the wired components.
type App struct {
	Strategies  *search.Registry
	Usage       *search.UsageTracker
	DataSources *datasource.Service
	Resolver    *transport.Resolver
	Health      *datasource.HealthMonitor // nil when no schedule is configured
	Handler     *api.APIHandler

	cfg         *config.Config
	rateLimiter *middleware.RateLimiter
	validator   middleware.TokenValidator
	logger      *slog.Logger
}

// New creates the application. It seeds data sources from the configured
// file but does not start the health monitor; call Start for that.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := deps.HTTPClient
	if hc == nil {
		hc = transport.NewHTTPClient(backendTimeout)
	}

	// === Data sources ===
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	repo := repository.NewDataSourceRepo(deps.WriteDB, deps.ReadDB, encryptor)
	cache := transport.NewClientCache(hc)
	dsSvc := datasource.NewService(repo, cache, datasource.HTTPConnectionTester{HTTP: hc},
		logger.With("component", "datasource"))

	if cfg.SeedFile != "" {
		n, err := dsSvc.Seed(ctx, cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("seed data sources: %w", err)
		}
		logger.Info("data sources seeded", "file", cfg.SeedFile, "created", n)
	}

	var health *datasource.HealthMonitor
	if cfg.HealthSchedule != "" {
		health = datasource.NewHealthMonitor(dsSvc, cfg.HealthSchedule, logger.With("component", "health"))
	}

	// === Backends ===
	cluster := transport.NewClusterClient(cfg.Cluster.URL, cfg.Cluster.Username, cfg.Cluster.Password, hc)
	resolver := transport.NewResolver(cluster, dsSvc, cache, logger.With("component", "resolver"))

	// === Strategies ===
	usage := search.NewUsageTracker()
	scfg := search.Config{
		CancelTimeout:     cfg.Search.CancelTimeout,
		PromQLDefaultStep: cfg.Search.PromQLDefaultStep,
	}
	strategies := []search.Strategy{
		search.NewSQLStrategy(scfg, logger, resolver, usage),
		search.NewPPLStrategy(scfg, logger, resolver, usage),
		search.NewPromQLStrategy(scfg, logger, resolver, usage),
	}
	if cfg.Search.AsyncEnabled {
		strategies = append(strategies,
			search.NewSQLAsyncStrategy(scfg, logger, resolver, usage),
			search.NewPPLAsyncStrategy(scfg, logger, resolver, usage),
		)
	}
	registry := search.NewRegistry(strategies...)
	logger.Info("search strategies registered", "strategies", registry.IDs())

	// === Auth ===
	var validator middleware.TokenValidator
	if cfg.Auth.Enabled {
		if cfg.Auth.OIDCEnabled() {
			validator, err = middleware.NewOIDCValidator(ctx, cfg.Auth.IssuerURL, cfg.Auth.Audience)
		} else {
			validator, err = middleware.NewHS256Validator(cfg.Auth.JWTSecret, cfg.Auth.Audience)
		}
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	return &App{
		Strategies:  registry,
		Usage:       usage,
		DataSources: dsSvc,
		Resolver:    resolver,
		Health:      health,
		Handler:     api.NewHandler(registry, usage, dsSvc, logger.With("component", "api")),
		cfg:         cfg,
		rateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}),
		validator: validator,
		logger:    logger,
	}, nil
}

// Router returns the HTTP handler with the full middleware chain.
func (a *App) Router() http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RequestLogger(a.logger.With("component", "http")),
		chimw.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   a.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		a.rateLimiter.Middleware,
	}
	if a.validator != nil {
		mws = append(mws, middleware.Authenticate(a.validator, a.logger.With("component", "auth")))
	}
	mws = append(mws, middleware.ForwardCredentials)
	return api.NewRouter(a.Handler, mws...)
}

// Start starts background maintenance.
func (a *App) Start() error {
	if a.Health == nil {
		return nil
	}
	return a.Health.Start()
}

// Close stops background work.
func (a *App) Close() {
	if a.Health != nil {
		a.Health.Stop()
	}
	a.rateLimiter.Close()
}
