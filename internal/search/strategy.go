// Package search implements the search strategies: synchronous and
// asynchronous SQL/PPL, PromQL, and the cancellation of backend jobs.
package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/facet"
	"query-enhancements/internal/transport"
)

// Strategy ids, used as the {strategy} route segment.
const (
	StrategySQL      = "sql"
	StrategyPPL      = "ppl"
	StrategySQLAsync = "sqlasync"
	StrategyPPLAsync = "pplasync"
	StrategyPromQL   = "promql"
)

// DefaultCancelTimeout bounds a cancel call fired by an abort signal.
const DefaultCancelTimeout = 10 * time.Second

// Strategy runs one kind of search.
type Strategy interface {
	// ID is the route id of the strategy.
	ID() string
	// Name prefixes every log line the strategy writes.
	Name() string
	Search(ctx context.Context, req *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error)
}

// Canceler is implemented by strategies that own cancellable backend jobs.
type Canceler interface {
	Cancel(ctx context.Context, queryID string) error
	// CancelOnDataSource cancels a job that runs on a named data source.
	// An empty dataSourceID is the default cluster.
	CancelOnDataSource(ctx context.Context, queryID, dataSourceID string) error
}

// Backend resolves backend clients for strategies. An empty data source id
// routes to the default cluster.
type Backend interface {
	facet.Router
}

// Config is the strategy-facing configuration.
type Config struct {
	CancelTimeout     time.Duration
	PromQLDefaultStep time.Duration
}

func (c Config) cancelTimeout() time.Duration {
	if c.CancelTimeout <= 0 {
		return DefaultCancelTimeout
	}
	return c.CancelTimeout
}

// describer is the facet surface strategies depend on.
type describer interface {
	DescribeQuery(ctx context.Context, req *domain.SearchRequest) (*facet.Response, error)
}

type noopUsage struct{}

func (noopUsage) TrackSuccess(int64) {}
func (noopUsage) TrackError()        {}

// base holds what every strategy shares.
type base struct {
	id     string
	name   string
	config Config
	logger *slog.Logger
	usage  domain.SearchUsage
}

func newBase(id, name string, cfg Config, logger *slog.Logger, usage domain.SearchUsage) base {
	if logger == nil {
		logger = slog.Default()
	}
	if usage == nil {
		usage = noopUsage{}
	}
	return base{id: id, name: name, config: cfg, logger: logger, usage: usage}
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }

// fail logs err under the strategy name, records one error and returns err.
func (b *base) fail(err error) error {
	b.logger.Error(b.name + ": " + err.Error())
	b.usage.TrackError()
	return err
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// throwFacetError turns a failed facet response into an error carrying the
// backend-supplied message.
func throwFacetError(resp *facet.Response) error {
	msg := resp.Message()
	if msg == "" {
		msg = "search failed"
	}
	return &domain.BackendError{Message: msg, Payload: resp.Err}
}

// errorDetails returns the raw backend error body for in-band error responses.
func errorDetails(resp *facet.Response) any {
	var respErr *transport.ResponseError
	if errors.As(resp.Err, &respErr) && len(respErr.Body) > 0 {
		return respErr.Body
	}
	return nil
}

// cloneRequest returns a shallow copy the strategy may annotate without
// touching the caller's request.
func cloneRequest(req *domain.SearchRequest) *domain.SearchRequest {
	c := *req
	return &c
}
