package facet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/testutil"
	"query-enhancements/internal/transport"
)

type call struct {
	endpoint string
	params   transport.Params
}

type mockClient struct {
	calls  []call
	callFn func(ctx context.Context, endpoint string, params transport.Params) (json.RawMessage, error)
}

func (m *mockClient) Call(ctx context.Context, endpoint string, params transport.Params) (json.RawMessage, error) {
	m.calls = append(m.calls, call{endpoint: endpoint, params: params})
	if m.callFn != nil {
		return m.callFn(ctx, endpoint, params)
	}
	panic("unexpected call to Call")
}

type mockRouter struct {
	routed []string
	routes map[string]transport.Client
}

func (m *mockRouter) Route(_ context.Context, id string) (transport.Client, error) {
	m.routed = append(m.routed, id)
	c, ok := m.routes[id]
	if !ok {
		return nil, domain.ErrNotFound("data source %q not found", id)
	}
	return c, nil
}

func okClient(body string) *mockClient {
	return &mockClient{callFn: func(context.Context, string, transport.Params) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func TestDescribeQuery_FetchDefaultClient(t *testing.T) {
	t.Parallel()

	def := okClient(`{"schema":[],"datarows":[]}`)
	router := &mockRouter{routes: map[string]transport.Client{"": def}}
	f := New(Config{Router: router, Endpoint: transport.EndpointSQLQuery})

	resp, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{
		Query:  domain.Query{Query: "SELECT 1", Dataset: &domain.Dataset{ID: "ds"}},
		Lang:   "sql",
		Format: "jdbc",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.JSONEq(t, `{"schema":[],"datarows":[]}`, string(resp.Data))

	assert.Equal(t, []string{""}, router.routed)
	require.Len(t, def.calls, 1)
	assert.Equal(t, transport.EndpointSQLQuery, def.calls[0].endpoint)
	assert.Equal(t, map[string]any{"query": "SELECT 1", "lang": "sql"}, def.calls[0].params.Body)
	assert.Nil(t, def.calls[0].params.Query, "jdbc is the backend default and is not sent")
}

func TestDescribeQuery_FetchDataSourceClient(t *testing.T) {
	t.Parallel()

	remote := okClient(`{"queryId":"q1","sessionId":"s1"}`)
	router := &mockRouter{routes: map[string]transport.Client{"ds-1": remote}}
	f := New(Config{Router: router, Endpoint: transport.EndpointDirectQuery})

	resp, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{
		Query: domain.Query{
			Query: "SELECT * FROM s3.db.t",
			Dataset: &domain.Dataset{
				ID:         "ds-1::s3.db.t",
				Type:       domain.DatasetTypeS3,
				DataSource: &domain.DataSourceRef{ID: "ds-1", Title: "mys3"},
			},
		},
		Lang:      "sql",
		SessionID: "s0",
		Format:    FormatViz,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	assert.Equal(t, []string{"ds-1"}, router.routed)
	require.Len(t, remote.calls, 1)
	assert.Equal(t, map[string]any{
		"query":      "SELECT * FROM s3.db.t",
		"datasource": "mys3",
		"lang":       "sql",
		"sessionId":  "s0",
	}, remote.calls[0].params.Body)
	assert.Equal(t, "viz", remote.calls[0].params.Query.Get("format"))
}

func TestDescribeQuery_FetchJobs(t *testing.T) {
	t.Parallel()

	t.Run("routes by body data source id", func(t *testing.T) {
		t.Parallel()
		remote := okClient(`{"status":"RUNNING"}`)
		router := &mockRouter{routes: map[string]transport.Client{"ds-1": remote}}
		f := New(Config{Router: router, Endpoint: transport.EndpointJobStatus, UseJobs: true})

		resp, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{
			DataSourceID:           "ds-1",
			PollQueryResultsParams: &domain.PollParams{QueryID: "q-123"},
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		require.Len(t, remote.calls, 1)
		assert.Equal(t, map[string]string{"queryId": "q-123"}, remote.calls[0].params.PathParams)
		assert.Nil(t, remote.calls[0].params.Body)
	})

	t.Run("falls back to frame meta data source id", func(t *testing.T) {
		t.Parallel()
		remote := okClient(`{"status":"RUNNING"}`)
		router := &mockRouter{routes: map[string]transport.Client{"ds-meta": remote}}
		f := New(Config{Router: router, Endpoint: transport.EndpointJobStatus, UseJobs: true})

		_, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{
			PollQueryResultsParams: &domain.PollParams{QueryID: "q-123"},
			DF: &domain.DataFrame{Meta: &domain.FrameMeta{
				QueryConfig: &domain.QueryStatusConfig{QueryID: "q-123", DataSourceID: "ds-meta"},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ds-meta"}, router.routed)
	})
}

func TestDescribeQuery_FailureIsInBand(t *testing.T) {
	t.Parallel()

	rec, logger := testutil.NewLogRecorder()
	failing := &mockClient{callFn: func(context.Context, string, transport.Params) (json.RawMessage, error) {
		return nil, &transport.ResponseError{StatusCode: http.StatusBadRequest, Body: json.RawMessage(`{"error":{"reason":"bad syntax"}}`)}
	}}
	router := &mockRouter{routes: map[string]transport.Client{"": failing}}
	f := New(Config{Router: router, Logger: logger, Endpoint: transport.EndpointPPLQuery})

	resp, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{Query: domain.Query{Query: "source=t"}})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "bad syntax", resp.Message())
	assert.Equal(t, []string{"Facet fetch: enhancements.pplQuery: bad syntax"}, rec.Messages(slog.LevelError))
}

func TestDescribeQuery_RoutingFailureIsInBand(t *testing.T) {
	t.Parallel()

	rec, logger := testutil.NewLogRecorder()
	router := &mockRouter{routes: map[string]transport.Client{}}
	f := New(Config{Router: router, Logger: logger, Endpoint: transport.EndpointSQLQuery})

	resp, err := f.DescribeQuery(context.Background(), &domain.SearchRequest{Query: domain.Query{
		Query:   "SELECT 1",
		Dataset: &domain.Dataset{DataSource: &domain.DataSourceRef{ID: "gone"}},
	}})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	var notFound *domain.NotFoundError
	assert.True(t, errors.As(resp.Err, &notFound))
	assert.Equal(t, 1, rec.Len())
}

func TestDescribeQuery_CancelledContextIsReturned(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := &mockClient{callFn: func(ctx context.Context, _ string, _ transport.Params) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	}}
	router := &mockRouter{routes: map[string]transport.Client{"": client}}
	f := New(Config{Router: router, Endpoint: transport.EndpointSQLQuery})

	resp, err := f.DescribeQuery(ctx, &domain.SearchRequest{Query: domain.Query{Query: "SELECT 1"}})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribeQuery_ShimByFormat(t *testing.T) {
	t.Parallel()

	client := okClient(`{"schema":[{"name":"a","type":"integer"}],"datarows":[[1]],"total":1,"size":1}`)
	router := &mockRouter{routes: map[string]transport.Client{"": client}}

	shimmed := New(Config{Router: router, Endpoint: transport.EndpointSQLQuery, ShimResponse: true})
	resp, err := shimmed.DescribeQuery(context.Background(), &domain.SearchRequest{Query: domain.Query{Query: "q"}, Format: FormatJDBC})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Data), `"jsonData":[{"a":1}]`)

	plain := New(Config{Router: router, Endpoint: transport.EndpointSQLQuery})
	resp, err = plain.DescribeQuery(context.Background(), &domain.SearchRequest{Query: domain.Query{Query: "q"}, Format: FormatJDBC})
	require.NoError(t, err)
	assert.NotContains(t, string(resp.Data), "jsonData")
}
