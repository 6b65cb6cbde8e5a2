package search

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/transport"
)

// cancelPath is the async-query plugin's cancel route.
const cancelPath = "/_plugins/_async_query/cancel/"

// CancelQueryByDataSource issues the cancel call for queryID using the route
// that matches the dataset type. Client errors are returned to the caller.
func CancelQueryByDataSource(
	ctx context.Context,
	queryID string,
	datasetType domain.DatasetType,
	client transport.Client,
	logger *slog.Logger,
	lang domain.Language,
) error {
	prefix := string(lang) + "AsyncSearchStrategy: "

	switch datasetType {
	case domain.DatasetTypeS3:
		if err := cancelViaAsyncQueryAPI(ctx, client, queryID); err != nil {
			return err
		}
		logger.Info(prefix + "Cancelled S3 backend query " + queryID)
	default:
		if err := cancelViaAsyncQueryAPI(ctx, client, queryID); err != nil {
			return err
		}
		logger.Info(prefix + "Cancelled backend query " + queryID + " (default API)")
	}
	return nil
}

func cancelViaAsyncQueryAPI(ctx context.Context, client transport.Client, queryID string) error {
	_, err := client.Call(ctx, transport.EndpointRawRequest, transport.Params{
		Method: http.MethodPost,
		Path:   cancelPath + queryID,
	})
	return err
}

// NewQueryCancellationHandler returns a listener for an abort signal that
// cancels queryID on the backend of dataSourceID, empty meaning the default
// cluster. The query's dataset type picks the cancel route. The listener
// never fails: a cancellation error is logged and dropped. An empty queryID
// yields a no-op.
//
// The cancel call runs on its own context bounded by timeout because the
// request that attached the listener is usually already gone when it fires.
func NewQueryCancellationHandler(
	queryID string,
	query domain.Query,
	dataSourceID string,
	backend Backend,
	logger *slog.Logger,
	lang domain.Language,
	timeout time.Duration,
) func() {
	return func() {
		if queryID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		client, err := backend.Route(ctx, dataSourceID)
		if err != nil {
			logger.Error(string(lang) + "AsyncSearchStrategy: Failed to cancel query " + queryID + ": " + err.Error())
			return
		}
		if err := CancelQueryByDataSource(ctx, queryID, query.DatasetType(), client, logger, lang); err != nil {
			logger.Error(string(lang) + "AsyncSearchStrategy: Failed to cancel query " + queryID + ": " + err.Error())
		}
	}
}
