package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-enhancements/internal/domain"
)

func validCreate(title string) domain.CreateDataSourceRequest {
	return domain.CreateDataSourceRequest{
		Title:    title,
		Endpoint: "https://search.example.com",
		AuthType: domain.AuthTypeUsernamePassword,
		Credentials: domain.Credentials{
			Username: "admin",
			Password: "admin",
		},
	}
}

func noDataSources(context.Context) ([]domain.DataSource, error) { return nil, nil }

func TestCreateSingleDataSource(t *testing.T) {
	t.Parallel()

	t.Run("creates", func(t *testing.T) {
		t.Parallel()
		var stored *domain.DataSource
		repo := &mockRepo{
			findFn: noDataSources,
			createFn: func(_ context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
				stored = ds
				out := *ds
				out.ID = "ds-1"
				return &out, nil
			},
		}
		svc := NewService(repo, nil, nil, nil)

		created, err := svc.CreateSingleDataSource(context.Background(), validCreate("  security  "))
		require.NoError(t, err)
		assert.Equal(t, "ds-1", created.ID)
		assert.Equal(t, "security", stored.Title, "title is trimmed")
		assert.Equal(t, "admin", stored.Credentials.Password)
	})

	t.Run("duplicate title ignores case", func(t *testing.T) {
		t.Parallel()
		repo := &mockRepo{findFn: func(context.Context) ([]domain.DataSource, error) {
			return []domain.DataSource{{ID: "ds-1", Title: "Security"}}, nil
		}}
		svc := NewService(repo, nil, nil, nil)

		_, err := svc.CreateSingleDataSource(context.Background(), validCreate("security"))
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		svc := NewService(&mockRepo{}, nil, nil, nil)

		tests := []struct {
			name string
			mut  func(r *domain.CreateDataSourceRequest)
		}{
			{"no title", func(r *domain.CreateDataSourceRequest) { r.Title = " " }},
			{"relative endpoint", func(r *domain.CreateDataSourceRequest) { r.Endpoint = "/search" }},
			{"ftp endpoint", func(r *domain.CreateDataSourceRequest) { r.Endpoint = "ftp://host" }},
			{"missing password", func(r *domain.CreateDataSourceRequest) { r.Credentials.Password = "" }},
			{"unknown auth", func(r *domain.CreateDataSourceRequest) { r.AuthType = "kerberos" }},
			{"sigv4 without keys", func(r *domain.CreateDataSourceRequest) { r.AuthType = domain.AuthTypeSigV4 }},
		}
		for _, tc := range tests {
			req := validCreate("x")
			tc.mut(&req)
			_, err := svc.CreateSingleDataSource(context.Background(), req)
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation, tc.name)
		}
	})
}

func TestUpdateDataSourceByID(t *testing.T) {
	t.Parallel()

	current := &domain.DataSource{
		ID:          "ds-1",
		Title:       "security",
		Endpoint:    "https://search.example.com",
		AuthType:    domain.AuthTypeUsernamePassword,
		Credentials: domain.Credentials{Username: "admin", Password: "admin"},
	}

	t.Run("updates and invalidates", func(t *testing.T) {
		t.Parallel()
		cache := &mockInvalidator{}
		repo := &mockRepo{
			getFn:  func(context.Context, string) (*domain.DataSource, error) { return current, nil },
			findFn: func(context.Context) ([]domain.DataSource, error) { return []domain.DataSource{*current}, nil },
			updateFn: func(_ context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
				out := *current
				out.Title = *req.Title
				return &out, nil
			},
		}
		svc := NewService(repo, cache, nil, nil)

		title := "Security" // renaming to a case variant of itself is allowed
		updated, err := svc.UpdateDataSourceByID(context.Background(), "ds-1", domain.UpdateDataSourceRequest{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Security", updated.Title)
		assert.Equal(t, []string{"ds-1"}, cache.ids)
	})

	t.Run("switching auth requires its credentials", func(t *testing.T) {
		t.Parallel()
		repo := &mockRepo{getFn: func(context.Context, string) (*domain.DataSource, error) { return current, nil }}
		svc := NewService(repo, &mockInvalidator{}, nil, nil)

		sigv4 := domain.AuthTypeSigV4
		_, err := svc.UpdateDataSourceByID(context.Background(), "ds-1", domain.UpdateDataSourceRequest{AuthType: &sigv4})
		var validation *domain.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		cache := &mockInvalidator{}
		repo := &mockRepo{getFn: func(_ context.Context, id string) (*domain.DataSource, error) {
			return nil, domain.ErrNotFound("data source %q not found", id)
		}}
		svc := NewService(repo, cache, nil, nil)

		_, err := svc.UpdateDataSourceByID(context.Background(), "nope", domain.UpdateDataSourceRequest{})
		var notFound *domain.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Empty(t, cache.ids)
	})
}

func TestDeleteDataSourceByID(t *testing.T) {
	t.Parallel()

	cache := &mockInvalidator{}
	repo := &mockRepo{deleteFn: func(context.Context, string) error { return nil }}
	svc := NewService(repo, cache, nil, nil)

	require.NoError(t, svc.DeleteDataSourceByID(context.Background(), "ds-1"))
	assert.Equal(t, []string{"ds-1"}, cache.ids)

	failing := NewService(&mockRepo{deleteFn: func(context.Context, string) error {
		return errors.New("disk full")
	}}, cache, nil, nil)
	require.EqualError(t, failing.DeleteDataSourceByID(context.Background(), "ds-2"), "disk full")
	assert.Equal(t, []string{"ds-1"}, cache.ids, "a failed delete keeps the cached client")
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()
		var tested *domain.DataSource
		svc := NewService(&mockRepo{}, nil, &mockTester{testFn: func(_ context.Context, ds *domain.DataSource) error {
			tested = ds
			return nil
		}}, nil)

		req := validCreate("")
		require.NoError(t, svc.TestConnection(context.Background(), req))
		assert.Equal(t, req.Endpoint, tested.Endpoint)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		svc := NewService(&mockRepo{}, nil, &mockTester{testFn: func(context.Context, *domain.DataSource) error {
			return errors.New("connection refused")
		}}, nil)

		err := svc.TestConnection(context.Background(), validCreate("x"))
		var validation *domain.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "connection test failed: connection refused", validation.Message)
	})
}

func TestHTTPConnectionTester(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"version":{"number":"2.17.0"}}`))
	}))
	t.Cleanup(srv.Close)

	tester := HTTPConnectionTester{HTTP: srv.Client()}
	ds := &domain.DataSource{
		ID:          "ds-1",
		Endpoint:    srv.URL,
		AuthType:    domain.AuthTypeUsernamePassword,
		Credentials: domain.Credentials{Username: "admin", Password: "admin"},
	}
	require.NoError(t, tester.Test(context.Background(), ds))

	ds.Credentials.Password = "wrong"
	require.ErrorContains(t, tester.Test(context.Background(), ds), "ping data source ds-1: unauthorized")
}
