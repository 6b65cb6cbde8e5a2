package transport

import (
	"context"
	"fmt"
	"log/slog"

	"query-enhancements/internal/domain"
)

// DataSourceGetter loads a stored data source by id.
type DataSourceGetter interface {
	Get(ctx context.Context, id string) (*domain.DataSource, error)
}

// Resolver picks the backend client for a call: the default cluster client
// when no data source is named, otherwise the cached client of that data
// source.
type Resolver struct {
	defaultClient Client
	dataSources   DataSourceGetter
	cache         *ClientCache
	logger        *slog.Logger
}

// NewResolver creates a resolver. dataSources and cache may be nil, in which
// case any named data source fails to resolve.
func NewResolver(defaultClient Client, dataSources DataSourceGetter, cache *ClientCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		defaultClient: defaultClient,
		dataSources:   dataSources,
		cache:         cache,
		logger:        logger,
	}
}

// Route maps a data source id to a client. An empty id selects the default
// client.
func (r *Resolver) Route(ctx context.Context, dataSourceID string) (Client, error) {
	if dataSourceID == "" {
		return r.defaultClient, nil
	}
	if r.dataSources == nil || r.cache == nil {
		return nil, fmt.Errorf("data source %q requested but no data source store is configured", dataSourceID)
	}

	ds, err := r.dataSources.Get(ctx, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve data source %q: %w", dataSourceID, err)
	}
	r.logger.Debug("routing to data source", "data_source_id", ds.ID, "title", ds.Title)
	return r.cache.GetOrCreate(ds), nil
}

// Invalidate forgets the cached client of a data source after it changed.
func (r *Resolver) Invalidate(dataSourceID string) {
	if r.cache != nil {
		r.cache.Invalidate(dataSourceID)
	}
}

// RoutingKey returns the data source id a call should be routed by: the
// dataset's own data source, else the one recorded in a previous frame's
// polling config. An empty result means the default cluster.
func RoutingKey(datasetDataSourceID, metaDataSourceID string) string {
	if datasetDataSourceID != "" {
		return datasetDataSourceID
	}
	return metaDataSourceID
}
