package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/search"
)

func sampleFrame() *domain.DataFrame {
	return domain.NewDataFrame("logs",
		[]domain.SchemaField{{Name: "level", Type: "string"}},
		[][]any{{"error"}, {"info"}},
	)
}

func sampleDataSource() *domain.DataSource {
	return &domain.DataSource{
		ID:          "ds-1",
		Title:       "prod",
		Endpoint:    "https://prod.example.com:9200",
		Type:        "OpenSearch",
		AuthType:    domain.AuthTypeUsernamePassword,
		Credentials: domain.Credentials{Username: "admin", Password: "hunter2"},
		Health:      domain.HealthStatus{Status: domain.HealthStatusHealthy},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func newTestRouter(strategies Strategies, dataSources DataSourceService) http.Handler {
	h := NewHandler(strategies, fakeUsage{stats: domain.UsageStats{Successes: 3, Errors: 1, TotalTookMs: 40, AverageTook: 10}}, dataSources, nil)
	return NewRouter(h)
}

func doRequest(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// === Search routes ===

func TestSearch_RunsNamedStrategy(t *testing.T) {
	t.Parallel()

	var got *domain.SearchRequest
	sql := &fakeStrategy{id: search.StrategySQL, searchFn: func(_ context.Context, req *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error) {
		got = req
		assert.NotNil(t, opts.AbortSignal)
		return domain.NewDefaultResponse(sampleFrame(), 7), nil
	}}
	router := newTestRouter(newTestRegistry(sql), nil)

	w := doRequest(t, router, http.MethodPost, "/api/enhancements/search/sql", `{"query":{"query":"SELECT level FROM logs","language":"SQL"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NotNil(t, got)
	assert.Equal(t, "SELECT level FROM logs", got.Query.Query)

	var resp domain.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ResponseTypeDefault, resp.Type)
	assert.EqualValues(t, 7, resp.Took)
	require.NotNil(t, resp.Frame)
	assert.Equal(t, 2, resp.Frame.Size)
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()

	failing := &fakeStrategy{id: search.StrategySQLAsync, searchFn: func(context.Context, *domain.SearchRequest, domain.SearchOptions) (*domain.Response, error) {
		return nil, &domain.BackendError{Message: "index not found"}
	}}
	crashing := &fakeStrategy{id: search.StrategyPPL, searchFn: func(context.Context, *domain.SearchRequest, domain.SearchOptions) (*domain.Response, error) {
		return nil, errors.New("decode: unexpected token")
	}}
	router := newTestRouter(newTestRegistry(failing, crashing), nil)

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "unknown strategy", target: "/api/enhancements/search/dsl", body: `{}`, wantStatus: http.StatusNotFound, wantMsg: `search strategy "dsl" not found`},
		{name: "malformed body", target: "/api/enhancements/search/sqlasync", body: `{"query":`, wantStatus: http.StatusBadRequest, wantMsg: "invalid request body"},
		{name: "trailing data", target: "/api/enhancements/search/sqlasync", body: `{} {}`, wantStatus: http.StatusBadRequest, wantMsg: "trailing data"},
		{name: "backend failure", target: "/api/enhancements/search/sqlasync", body: `{}`, wantStatus: http.StatusBadGateway, wantMsg: "index not found"},
		{name: "internal failure is hidden", target: "/api/enhancements/search/ppl", body: `{}`, wantStatus: http.StatusInternalServerError, wantMsg: "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, router, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			got := decodeError(t, w)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, http.StatusText(tt.wantStatus), got.Error)
			assert.Contains(t, got.Message, tt.wantMsg)
		})
	}
}

func TestSearchByQuery_PicksStrategyFromDataset(t *testing.T) {
	t.Parallel()

	var ran []string
	strategy := func(id string) *fakeStrategy {
		return &fakeStrategy{id: id, searchFn: func(context.Context, *domain.SearchRequest, domain.SearchOptions) (*domain.Response, error) {
			ran = append(ran, id)
			return domain.NewDefaultResponse(sampleFrame(), 1), nil
		}}
	}
	router := newTestRouter(newTestRegistry(
		strategy(search.StrategySQL),
		strategy(search.StrategySQLAsync),
		strategy(search.StrategyPPL),
		strategy(search.StrategyPPLAsync),
		strategy(search.StrategyPromQL),
	), nil)

	bodies := []string{
		`{"query":{"query":"SELECT 1","language":"SQL"}}`,
		`{"query":{"query":"SELECT 1","language":"SQL","dataset":{"id":"d","type":"S3"}}}`,
		`{"query":{"query":"source=logs","language":"PPL","dataset":{"id":"d","type":"S3"}}}`,
		`{"query":{"query":"up","language":"PROMQL"}}`,
	}
	for _, body := range bodies {
		w := doRequest(t, router, http.MethodPost, "/api/enhancements/search", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, []string{"sql", "sqlasync", "pplasync", "promql"}, ran)

	w := doRequest(t, router, http.MethodPost, "/api/enhancements/search", `{"query":{"query":"x","language":"KUERY"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_ClientDisconnectAborts(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	aborted := make(chan struct{})
	slow := &fakeStrategy{id: search.StrategySQLAsync, searchFn: func(ctx context.Context, _ *domain.SearchRequest, opts domain.SearchOptions) (*domain.Response, error) {
		opts.AbortSignal.AddListener(func() { close(aborted) })
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	srv := httptest.NewServer(newTestRouter(newTestRegistry(slow), nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/enhancements/search/sqlasync", strings.NewReader(`{}`))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		errCh <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("search did not start")
	}
	cancel()

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("abort signal did not fire after the client went away")
	}
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestCancelSearch(t *testing.T) {
	t.Parallel()

	type cancelCall struct{ queryID, dataSourceID string }
	var calls []cancelCall
	async := &fakeCancelingStrategy{
		fakeStrategy: fakeStrategy{id: search.StrategyPPLAsync},
		cancelFn: func(_ context.Context, queryID, dataSourceID string) error {
			calls = append(calls, cancelCall{queryID, dataSourceID})
			if queryID == "done" {
				return errors.New("query already finished")
			}
			return nil
		},
	}
	syncPPL := &fakeStrategy{id: search.StrategyPPL}
	router := newTestRouter(newTestRegistry(async, syncPPL), nil)

	w := doRequest(t, router, http.MethodDelete, "/api/enhancements/search/pplasync/q1?dataSourceId=ds-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"queryId":"q1","status":"cancelled"}`, w.Body.String())

	w = doRequest(t, router, http.MethodDelete, "/api/enhancements/search/pplasync/q2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []cancelCall{{"q1", "ds-1"}, {"q2", ""}}, calls)

	w = doRequest(t, router, http.MethodDelete, "/api/enhancements/search/pplasync/done", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "query already finished", decodeError(t, w).Message)

	w = doRequest(t, router, http.MethodDelete, "/api/enhancements/search/ppl/q1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "does not support cancellation")
}

func TestSearchStats(t *testing.T) {
	t.Parallel()

	w := doRequest(t, newTestRouter(newTestRegistry(), nil), http.MethodGet, "/api/enhancements/search/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"successCount":3,"errorCount":1,"totalTookMs":40,"averageTookMs":10}`, w.Body.String())
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newTestRegistry(), nil)

	w := doRequest(t, router, http.MethodGet, "/api/data-sources", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "data-source routes are absent without a service")
	assert.Equal(t, "route not found", decodeError(t, w).Message)

	w = doRequest(t, router, http.MethodPut, "/api/enhancements/search/stats", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// === Data-source routes ===

func TestListDataSources_HidesSecrets(t *testing.T) {
	t.Parallel()

	svc := &mockDataSourceService{listFn: func(context.Context) ([]domain.DataSource, error) {
		return []domain.DataSource{*sampleDataSource()}, nil
	}}
	w := doRequest(t, newTestRouter(newTestRegistry(), svc), http.MethodGet, "/api/data-sources", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.NotContains(t, w.Body.String(), "hunter2")
	var out struct {
		Data []dataSourceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "prod", out.Data[0].Title)
	assert.Equal(t, "admin", out.Data[0].Credentials.Username)
	assert.Equal(t, domain.HealthStatusHealthy, out.Data[0].Health.Status)
}

func TestGetDataSource(t *testing.T) {
	t.Parallel()

	svc := &mockDataSourceService{getFn: func(_ context.Context, id string) (*domain.DataSource, error) {
		if id != "ds-1" {
			return nil, domain.ErrNotFound("data source %q not found", id)
		}
		return sampleDataSource(), nil
	}}
	router := newTestRouter(newTestRegistry(), svc)

	w := doRequest(t, router, http.MethodGet, "/api/data-sources/ds-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ds dataSourceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	assert.Equal(t, "ds-1", ds.ID)
	assert.Equal(t, "https://prod.example.com:9200", ds.Endpoint)

	w = doRequest(t, router, http.MethodGet, "/api/data-sources/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, `data source "nope" not found`, decodeError(t, w).Message)
}

func TestCreateDataSource(t *testing.T) {
	t.Parallel()

	var got domain.CreateDataSourceRequest
	svc := &mockDataSourceService{createFn: func(_ context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error) {
		if req.Title == "prod" && got.Title == "prod" {
			return nil, domain.ErrConflict("data source with title %q already exists", req.Title)
		}
		if req.Endpoint == "" {
			return nil, domain.ErrValidation("endpoint is required")
		}
		got = req
		return sampleDataSource(), nil
	}}
	router := newTestRouter(newTestRegistry(), svc)

	body := domain.CreateDataSourceRequest{
		Title:       "prod",
		Endpoint:    "https://prod.example.com:9200",
		AuthType:    domain.AuthTypeUsernamePassword,
		Credentials: domain.Credentials{Username: "admin", Password: "hunter2"},
	}
	w := doRequest(t, router, http.MethodPost, "/api/data-sources", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "hunter2", got.Credentials.Password)
	assert.NotContains(t, w.Body.String(), "hunter2")

	w = doRequest(t, router, http.MethodPost, "/api/data-sources", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, `data source with title "prod" already exists`, decodeError(t, w).Message)

	w = doRequest(t, router, http.MethodPost, "/api/data-sources", domain.CreateDataSourceRequest{Title: "other"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "endpoint is required", decodeError(t, w).Message)

	w = doRequest(t, router, http.MethodPost, "/api/data-sources", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateDataSource(t *testing.T) {
	t.Parallel()

	var gotID string
	var gotReq domain.UpdateDataSourceRequest
	svc := &mockDataSourceService{updateFn: func(_ context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
		if id == "missing" {
			return nil, domain.ErrNotFound("data source %q not found", id)
		}
		gotID, gotReq = id, req
		ds := sampleDataSource()
		ds.Title = *req.Title
		return ds, nil
	}}
	router := newTestRouter(newTestRegistry(), svc)

	w := doRequest(t, router, http.MethodPut, "/api/data-sources/ds-1", `{"title":"renamed"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ds-1", gotID)
	require.NotNil(t, gotReq.Title)
	assert.Nil(t, gotReq.Endpoint)
	assert.Contains(t, w.Body.String(), `"title":"renamed"`)

	w = doRequest(t, router, http.MethodPut, "/api/data-sources/missing", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDataSource(t *testing.T) {
	t.Parallel()

	var deleted []string
	svc := &mockDataSourceService{deleteFn: func(_ context.Context, id string) error {
		if id == "missing" {
			return domain.ErrNotFound("data source %q not found", id)
		}
		deleted = append(deleted, id)
		return nil
	}}
	router := newTestRouter(newTestRegistry(), svc)

	w := doRequest(t, router, http.MethodDelete, "/api/data-sources/ds-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, []string{"ds-1"}, deleted)

	w = doRequest(t, router, http.MethodDelete, "/api/data-sources/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestDataSource(t *testing.T) {
	t.Parallel()

	svc := &mockDataSourceService{testFn: func(_ context.Context, req domain.CreateDataSourceRequest) error {
		if strings.Contains(req.Endpoint, "down") {
			return domain.ErrValidation("connection test failed: dial tcp: connection refused")
		}
		return nil
	}}
	router := newTestRouter(newTestRegistry(), svc)

	w := doRequest(t, router, http.MethodPost, "/api/data-sources/test", `{"title":"t","endpoint":"http://up:9200","authType":"no_auth"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = doRequest(t, router, http.MethodPost, "/api/data-sources/test", `{"title":"t","endpoint":"http://down:9200","authType":"no_auth"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "connection test failed")
}
