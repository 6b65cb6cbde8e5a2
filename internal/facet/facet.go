// Package facet dispatches one search request to the right backend client and
// wraps the outcome in a uniform success/failure result.
package facet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/transport"
)

// FormatJDBC is the default response format of the SQL and PPL plugins.
const FormatJDBC = "jdbc"

// Router selects a backend client by data source id.
type Router interface {
	Route(ctx context.Context, dataSourceID string) (transport.Client, error)
}

// Config configures a Facet.
type Config struct {
	Router       Router
	Logger       *slog.Logger
	Endpoint     string
	UseJobs      bool // poll a job by id instead of submitting a query
	ShimResponse bool // normalise successful payloads by request format
	// BuildParams replaces the default fetch body for endpoints that take a
	// different request shape.
	BuildParams func(req *domain.SearchRequest) transport.Params
}

// Response is the outcome of one facet call. On success Data holds the raw
// (possibly shimmed) backend payload; otherwise Err holds the failure.
type Response struct {
	Success bool
	Data    json.RawMessage
	Err     error
}

// Message returns the backend-supplied text of a failed response.
func (r *Response) Message() string {
	if r.Err == nil {
		return ""
	}
	var respErr *transport.ResponseError
	if errors.As(r.Err, &respErr) {
		return respErr.Reason()
	}
	return r.Err.Error()
}

// Facet issues requests for one logical endpoint.
type Facet struct {
	router       Router
	logger       *slog.Logger
	endpoint     string
	useJobs      bool
	shimResponse bool
	buildParams  func(req *domain.SearchRequest) transport.Params
}

// New creates a Facet.
func New(cfg Config) *Facet {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facet{
		router:       cfg.Router,
		logger:       logger,
		endpoint:     cfg.Endpoint,
		useJobs:      cfg.UseJobs,
		shimResponse: cfg.ShimResponse,
		buildParams:  cfg.BuildParams,
	}
}

// DescribeQuery sends req to the backend. Backend and transport failures are
// reported as Success=false and never returned as an error; the error return
// is reserved for a cancelled or expired caller context.
func (f *Facet) DescribeQuery(ctx context.Context, req *domain.SearchRequest) (*Response, error) {
	var (
		raw json.RawMessage
		err error
	)
	if f.useJobs {
		raw, err = f.fetchJobs(ctx, req)
	} else {
		raw, err = f.fetch(ctx, req)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Error("Facet fetch: " + f.endpoint + ": " + err.Error())
		return &Response{Success: false, Err: err}, nil
	}

	if f.shimResponse {
		raw = Shim(req.Format, raw)
	}
	return &Response{Success: true, Data: raw}, nil
}

func (f *Facet) fetch(ctx context.Context, req *domain.SearchRequest) (json.RawMessage, error) {
	client, err := f.router.Route(ctx, req.Query.DataSourceID())
	if err != nil {
		return nil, err
	}
	if f.buildParams != nil {
		return client.Call(ctx, f.endpoint, f.buildParams(req))
	}

	body := map[string]any{"query": req.Query.Query}
	if title := req.Query.DataSourceTitle(); title != "" {
		body["datasource"] = title
	}
	if req.Lang != "" {
		body["lang"] = req.Lang
	}
	if req.SessionID != "" {
		body["sessionId"] = req.SessionID
	}

	params := transport.Params{Body: body}
	if req.Format != "" && req.Format != FormatJDBC {
		params.Query = url.Values{"format": {req.Format}}
	}
	return client.Call(ctx, f.endpoint, params)
}

func (f *Facet) fetchJobs(ctx context.Context, req *domain.SearchRequest) (json.RawMessage, error) {
	client, err := f.router.Route(ctx, transport.RoutingKey(req.DataSourceID, req.MetaDataSourceID()))
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, f.endpoint, transport.Params{
		PathParams: map[string]string{"queryId": req.InProgressQueryID()},
	})
}
