package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/facet"
	"query-enhancements/internal/transport"
)

// Backend job states compared after upper-casing.
const (
	jobStatusSuccess = "SUCCESS"
	jobStatusFailed  = "FAILED"
)

var (
	_ Strategy = (*AsyncStrategy)(nil)
	_ Canceler = (*AsyncStrategy)(nil)
)

// AsyncStrategy drives a long-running backend job. A request without a job id
// submits the query; a request carrying one polls the job's status.
type AsyncStrategy struct {
	base
	lang      domain.Language
	backend   Backend
	facet     describer // submit
	jobsFacet describer // status poll
}

// NewSQLAsyncStrategy creates the asynchronous SQL strategy.
func NewSQLAsyncStrategy(cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *AsyncStrategy {
	return newAsyncStrategy(StrategySQLAsync, "sqlAsyncSearchStrategy", domain.LanguageSQL, cfg, logger, backend, usage)
}

// NewPPLAsyncStrategy creates the asynchronous PPL strategy.
func NewPPLAsyncStrategy(cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *AsyncStrategy {
	return newAsyncStrategy(StrategyPPLAsync, "pplAsyncSearchStrategy", domain.LanguagePPL, cfg, logger, backend, usage)
}

func newAsyncStrategy(id, name string, lang domain.Language, cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *AsyncStrategy {
	b := newBase(id, name, cfg, logger, usage)
	return &AsyncStrategy{
		base:    b,
		lang:    lang,
		backend: backend,
		facet: facet.New(facet.Config{
			Router:   backend,
			Logger:   b.logger,
			Endpoint: transport.EndpointDirectQuery,
		}),
		jobsFacet: facet.New(facet.Config{
			Router:   backend,
			Logger:   b.logger,
			Endpoint: transport.EndpointJobStatus,
			UseJobs:  true,
		}),
	}
}

// submitResult is the async-query plugin's answer to a submit call.
type submitResult struct {
	QueryID   string `json:"queryId"`
	SessionID string `json:"sessionId"`
}

// Search submits or polls depending on whether req carries a job id.
//
// Failures are asymmetric: a facet failure on submit or poll is returned as
// an error, while a job the backend reports as FAILED is a normal polling
// response with status "failed". Callers rely on inspecting the status for
// job failures.
func (s *AsyncStrategy) Search(ctx context.Context, req *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error) {
	start := time.Now()

	var (
		resp *domain.Response
		err  error
	)
	if queryID := req.InProgressQueryID(); queryID == "" {
		// An aborted caller would never learn the id of a job submitted now.
		if opts.AbortSignal != nil && opts.AbortSignal.Aborted() {
			return nil, s.fail(context.Canceled)
		}
		resp, err = s.submit(ctx, req)
	} else {
		resp, err = s.poll(ctx, req, queryID, opts)
	}
	if err != nil {
		return nil, s.fail(err)
	}

	if resp.Status == domain.PollingStatusFailed {
		s.usage.TrackError()
	} else {
		s.usage.TrackSuccess(elapsedMs(start))
	}
	return resp, nil
}

func (s *AsyncStrategy) submit(ctx context.Context, req *domain.SearchRequest) (*domain.Response, error) {
	call := cloneRequest(req)
	call.Lang = s.lang.Lang()

	resp, err := s.facet.DescribeQuery(ctx, call)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, throwFacetError(resp)
	}

	var submitted submitResult
	if err := json.Unmarshal(resp.Data, &submitted); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	if submitted.QueryID == "" {
		return nil, fmt.Errorf("backend accepted the query without returning a query id")
	}

	return domain.NewPollingStarted(&domain.QueryStatusConfig{
		QueryID:        submitted.QueryID,
		SessionID:      submitted.SessionID,
		DataSourceName: req.Query.DataSourceTitle(),
		DataSourceID:   req.Query.DataSourceID(),
	}), nil
}

func (s *AsyncStrategy) poll(ctx context.Context, req *domain.SearchRequest, queryID string, opts domain.SearchOptions) (*domain.Response, error) {
	call := cloneRequest(req)
	if call.DataSourceID == "" {
		call.DataSourceID = req.Query.DataSourceID()
	}

	resp, err := s.jobsFacet.DescribeQuery(ctx, call)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, throwFacetError(resp)
	}

	// The job id is known from here on, so an abort can cancel it on the
	// same backend the poll went to.
	routingKey := transport.RoutingKey(call.DataSourceID, req.MetaDataSourceID())
	if opts.AbortSignal != nil {
		opts.AbortSignal.AddListener(NewQueryCancellationHandler(
			queryID, req.Query, routingKey, s.backend, s.logger, s.lang, s.config.cancelTimeout(),
		))
	}

	result, err := decodeTabular(resp.Data)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(result.Status) {
	case jobStatusSuccess:
		df := result.frame(req.Query.DatasetID())
		df.Meta = &domain.FrameMeta{QueryConfig: &domain.QueryStatusConfig{
			QueryID:        queryID,
			SessionID:      req.PollQueryResultsParams.SessionID,
			DataSourceName: req.Query.DataSourceTitle(),
			DataSourceID:   routingKey,
		}}
		return domain.NewPollingSuccess(df), nil
	case jobStatusFailed:
		return domain.NewPollingFailed(fmt.Sprintf("JOB: %s failed: %s", queryID, result.errorText())), nil
	default:
		return domain.NewPollingPending(result.Status), nil
	}
}

// Cancel asks the default cluster to stop queryID. Errors are logged and
// returned.
func (s *AsyncStrategy) Cancel(ctx context.Context, queryID string) error {
	return s.CancelOnDataSource(ctx, queryID, "")
}

// CancelOnDataSource asks the backend of dataSourceID to stop queryID.
func (s *AsyncStrategy) CancelOnDataSource(ctx context.Context, queryID, dataSourceID string) error {
	s.logger.Info(s.name + ": Cancelling backend query " + queryID)
	client, err := s.backend.Route(ctx, dataSourceID)
	if err == nil {
		err = CancelQueryByDataSource(ctx, queryID, "", client, s.logger, s.lang)
	}
	if err != nil {
		s.logger.Error(s.name + ": Failed to cancel backend query " + queryID + ": " + err.Error())
		return err
	}
	s.logger.Info(s.name + ": Successfully cancelled backend query " + queryID)
	return nil
}
