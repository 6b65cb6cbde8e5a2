package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/testutil"
	"query-enhancements/internal/transport"
)

func TestCancelQueryByDataSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		datasetType domain.DatasetType
		lang        domain.Language
		wantLog     string
	}{
		{
			name:        "s3",
			datasetType: domain.DatasetTypeS3,
			lang:        domain.LanguageSQL,
			wantLog:     "SQLAsyncSearchStrategy: Cancelled S3 backend query q1",
		},
		{
			name:        "default",
			datasetType: domain.DatasetTypeIndex,
			lang:        domain.LanguagePPL,
			wantLog:     "PPLAsyncSearchStrategy: Cancelled backend query q1 (default API)",
		},
		{
			name:    "untyped",
			lang:    domain.LanguageSQL,
			wantLog: "SQLAsyncSearchStrategy: Cancelled backend query q1 (default API)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := replying(`{}`)
			rec, logger := testutil.NewLogRecorder()

			err := CancelQueryByDataSource(context.Background(), "q1", tc.datasetType, client, logger, tc.lang)
			require.NoError(t, err)

			calls := client.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, transport.EndpointRawRequest, calls[0].endpoint)
			assert.Equal(t, http.MethodPost, calls[0].params.Method)
			assert.Equal(t, "/_plugins/_async_query/cancel/q1", calls[0].params.Path)
			assert.Equal(t, []string{tc.wantLog}, rec.Messages(slog.LevelInfo))
		})
	}
}

func TestCancelQueryByDataSource_PropagatesError(t *testing.T) {
	t.Parallel()

	rec, logger := testutil.NewLogRecorder()
	client := failing(&transport.ResponseError{StatusCode: http.StatusNotFound, Body: json.RawMessage(`{"error":"no such query"}`)})

	err := CancelQueryByDataSource(context.Background(), "q1", domain.DatasetTypeS3, client, logger, domain.LanguageSQL)
	require.EqualError(t, err, "no such query")
	assert.Equal(t, 0, rec.Len(), "failures are reported to the caller, not logged here")
}

func TestQueryCancellationHandler_EmptyIDIsNoop(t *testing.T) {
	t.Parallel()

	rec, logger := testutil.NewLogRecorder()
	client := &mockClient{}
	backend := backendWith(client)

	handler := NewQueryCancellationHandler("", s3Query(), "ds-1", backend, logger, domain.LanguageSQL, time.Second)
	handler()

	assert.Empty(t, client.Calls())
	assert.Empty(t, backend.routed)
	assert.Equal(t, 0, rec.Len())
}

func TestQueryCancellationHandler_RoutesByDataSource(t *testing.T) {
	t.Parallel()

	rec, logger := testutil.NewLogRecorder()
	def := &mockClient{}
	dsClient := &mockClient{callFn: func(ctx context.Context, _ string, _ transport.Params) (json.RawMessage, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "cancel runs under its own deadline")
		return json.RawMessage(`{}`), nil
	}}
	backend := &mockBackend{routes: map[string]transport.Client{"": def, "ds-1": dsClient}}

	handler := NewQueryCancellationHandler("q1", s3Query(), "ds-1", backend, logger, domain.LanguageSQL, time.Second)
	handler()

	assert.Empty(t, def.Calls())
	require.Len(t, dsClient.Calls(), 1)
	assert.Equal(t, []string{"ds-1"}, backend.routed)
	assert.Equal(t, []string{"SQLAsyncSearchStrategy: Cancelled S3 backend query q1"}, rec.Messages(slog.LevelInfo))
}

func TestQueryCancellationHandler_SwallowsErrors(t *testing.T) {
	t.Parallel()

	t.Run("cancel call fails", func(t *testing.T) {
		t.Parallel()
		rec, logger := testutil.NewLogRecorder()
		client := failing(errors.New("timeout"))
		backend := &mockBackend{routes: map[string]transport.Client{"ds-1": client}}

		handler := NewQueryCancellationHandler("q1", s3Query(), "ds-1", backend, logger, domain.LanguageSQL, time.Second)
		assert.NotPanics(t, handler)
		assert.Equal(t, []string{"SQLAsyncSearchStrategy: Failed to cancel query q1: timeout"}, rec.Messages(slog.LevelError))
	})

	t.Run("data source lookup fails", func(t *testing.T) {
		t.Parallel()
		rec, logger := testutil.NewLogRecorder()
		backend := &mockBackend{routes: map[string]transport.Client{}}

		handler := NewQueryCancellationHandler("q1", s3Query(), "ds-1", backend, logger, domain.LanguagePPL, time.Second)
		handler()
		require.Len(t, rec.Messages(slog.LevelError), 1)
		assert.Contains(t, rec.Messages(slog.LevelError)[0], "PPLAsyncSearchStrategy: Failed to cancel query q1: ")
	})
}

func TestQueryCancellationHandler_IndependentHandlers(t *testing.T) {
	t.Parallel()

	_, logger := testutil.NewLogRecorder()
	client := replying(`{}`)
	backend := backendWith(client)
	query := domain.Query{Query: "SELECT 1"}

	first := NewQueryCancellationHandler("q1", query, "", backend, logger, domain.LanguageSQL, time.Second)
	second := NewQueryCancellationHandler("q2", query, "", backend, logger, domain.LanguageSQL, time.Second)
	second()
	first()

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/_plugins/_async_query/cancel/q2", calls[0].params.Path)
	assert.Equal(t, "/_plugins/_async_query/cancel/q1", calls[1].params.Path)
}

func TestQueryCancellationHandler_AbortAfterFire(t *testing.T) {
	t.Parallel()

	_, logger := testutil.NewLogRecorder()
	client := replying(`{}`)
	ctrl := domain.NewAbortController()
	ctrl.Abort()

	ctrl.Signal().AddListener(NewQueryCancellationHandler("q1", domain.Query{}, "", backendWith(client), logger, domain.LanguageSQL, time.Second))
	ctrl.Abort()

	assert.Len(t, client.Calls(), 1, "a late listener runs once immediately")
}
