package search

import (
	"context"
	"log/slog"
	"time"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/facet"
	"query-enhancements/internal/transport"
)

var _ Strategy = (*SyncStrategy)(nil)

// SyncStrategy runs a SQL or PPL query in a single backend round trip.
type SyncStrategy struct {
	base
	lang  domain.Language
	facet describer
}

// NewSQLStrategy creates the synchronous SQL strategy.
func NewSQLStrategy(cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *SyncStrategy {
	return newSyncStrategy(StrategySQL, "sqlSearchStrategy", domain.LanguageSQL, transport.EndpointSQLQuery, cfg, logger, backend, usage)
}

// NewPPLStrategy creates the synchronous PPL strategy.
func NewPPLStrategy(cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *SyncStrategy {
	return newSyncStrategy(StrategyPPL, "pplSearchStrategy", domain.LanguagePPL, transport.EndpointPPLQuery, cfg, logger, backend, usage)
}

func newSyncStrategy(id, name string, lang domain.Language, endpoint string, cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *SyncStrategy {
	b := newBase(id, name, cfg, logger, usage)
	return &SyncStrategy{
		base: b,
		lang: lang,
		facet: facet.New(facet.Config{
			Router:       backend,
			Logger:       b.logger,
			Endpoint:     endpoint,
			ShimResponse: true,
		}),
	}
}

// Search runs the query. A backend failure is returned in-band as a default
// response with an error body; only transport-level failures are returned as
// errors.
func (s *SyncStrategy) Search(ctx context.Context, req *domain.SearchRequest, _ domain.SearchOptions) (*domain.Response, error) {
	start := time.Now()

	call := cloneRequest(req)
	if call.Format == "" {
		call.Format = facet.FormatJDBC
	}
	call.Lang = s.lang.Lang()

	resp, err := s.facet.DescribeQuery(ctx, call)
	if err != nil {
		return nil, s.fail(err)
	}
	if !resp.Success {
		s.logger.Error(s.name + ": " + resp.Message())
		s.usage.TrackError()
		return domain.NewDefaultErrorResponse(domain.ErrorBody{
			Error:   resp.Message(),
			Details: errorDetails(resp),
		}), nil
	}

	result, err := decodeTabular(resp.Data)
	if err != nil {
		return nil, s.fail(err)
	}
	df := result.frame(req.Query.DatasetID())

	took := elapsedMs(start)
	s.usage.TrackSuccess(took)
	return domain.NewDefaultResponse(df, took), nil
}
