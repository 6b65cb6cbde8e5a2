// Package api provides the HTTP handlers of the query enhancements server:
// the search strategy routes and data-source management.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/middleware"
	"query-enhancements/internal/search"
)

// Strategies looks up search strategies by route id.
type Strategies interface {
	Get(id string) (search.Strategy, error)
	For(lang domain.Language, datasetType domain.DatasetType) (search.Strategy, error)
	Canceler(id string) (search.Canceler, error)
}

// UsageReporter exposes search usage counters.
type UsageReporter interface {
	Stats() domain.UsageStats
}

// DataSourceService manages stored data sources.
type DataSourceService interface {
	GetDataSources(ctx context.Context) ([]domain.DataSource, error)
	GetDataSource(ctx context.Context, id string) (*domain.DataSource, error)
	CreateSingleDataSource(ctx context.Context, req domain.CreateDataSourceRequest) (*domain.DataSource, error)
	UpdateDataSourceByID(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error)
	DeleteDataSourceByID(ctx context.Context, id string) error
	TestConnection(ctx context.Context, req domain.CreateDataSourceRequest) error
}

// APIHandler serves the REST routes.
type APIHandler struct {
	strategies  Strategies
	usage       UsageReporter
	dataSources DataSourceService
	logger      *slog.Logger
}

// NewHandler creates an APIHandler. dataSources may be nil, in which case the
// data-source routes are not registered.
func NewHandler(strategies Strategies, usage UsageReporter, dataSources DataSourceService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		strategies:  strategies,
		usage:       usage,
		dataSources: dataSources,
		logger:      logger,
	}
}

// Routes registers every route on r.
func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/api/enhancements/search", func(r chi.Router) {
		r.Get("/stats", h.SearchStats)
		r.Post("/", h.SearchByQuery)
		r.Post("/{strategy}", h.Search)
		r.Delete("/{strategy}/{queryId}", h.CancelSearch)
	})
	if h.dataSources == nil {
		return
	}
	r.Route("/api/data-sources", func(r chi.Router) {
		r.Get("/", h.ListDataSources)
		r.Post("/", h.CreateDataSource)
		r.Post("/test", h.TestDataSource)
		r.Get("/{id}", h.GetDataSource)
		r.Put("/{id}", h.UpdateDataSource)
		r.Delete("/{id}", h.DeleteDataSource)
	})
}

// NewRouter returns a chi router with the API routes mounted behind the
// given middleware.
func NewRouter(h *APIHandler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Routes(r)
	return r
}

// writeError renders err with the status of its domain type and logs
// server-side failures.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeErrorStatus(w, status, errorMessage(err, status))
}

// Search runs the strategy named in the path.
func (h *APIHandler) Search(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.strategies.Get(chi.URLParam(r, "strategy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req domain.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.runSearch(w, r, strategy, &req)
}

// SearchByQuery picks the strategy from the query language and dataset
// type, so S3 datasets always run as async jobs.
func (h *APIHandler) SearchByQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	strategy, err := h.strategies.For(req.Query.Language, req.Query.DatasetType())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.runSearch(w, r, strategy, &req)
}

// runSearch executes req. A client that disconnects while the search is in
// flight aborts it, which cancels any backend job the strategy attached to
// the abort signal.
func (h *APIHandler) runSearch(w http.ResponseWriter, r *http.Request, strategy search.Strategy, req *domain.SearchRequest) {
	abort := domain.NewAbortController()
	stop := context.AfterFunc(r.Context(), abort.Abort)
	defer stop()

	resp, err := strategy.Search(r.Context(), req, domain.SearchOptions{AbortSignal: abort.Signal()})
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			h.logger.Info("search aborted by client",
				"strategy", strategy.ID(),
				"request_id", middleware.RequestIDFromContext(r.Context()),
			)
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelSearch cancels a running backend job through the named strategy.
// The optional dataSourceId query parameter names the data source the job
// runs on; without it the default cluster is asked.
func (h *APIHandler) CancelSearch(w http.ResponseWriter, r *http.Request) {
	canceler, err := h.strategies.Canceler(chi.URLParam(r, "strategy"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	queryID := chi.URLParam(r, "queryId")
	dataSourceID := r.URL.Query().Get("dataSourceId")
	if err := canceler.CancelOnDataSource(r.Context(), queryID, dataSourceID); err != nil {
		h.writeError(w, r, &domain.BackendError{Message: err.Error(), Payload: err})
		return
	}
	writeJSON(w, http.StatusOK, cancelledResponse(queryID))
}

// SearchStats reports the usage counters.
func (h *APIHandler) SearchStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.usage.Stats())
}

// ListDataSources returns every stored data source.
func (h *APIHandler) ListDataSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.dataSources.GetDataSources(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": dataSourcesToAPI(list)})
}

// GetDataSource returns one data source.
func (h *APIHandler) GetDataSource(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataSources.GetDataSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceToAPI(*ds))
}

// CreateDataSource stores a new data source.
func (h *APIHandler) CreateDataSource(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDataSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.dataSources.CreateSingleDataSource(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataSourceToAPI(*ds))
}

// UpdateDataSource applies a partial update.
func (h *APIHandler) UpdateDataSource(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateDataSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.dataSources.UpdateDataSourceByID(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceToAPI(*ds))
}

// DeleteDataSource removes a data source.
func (h *APIHandler) DeleteDataSource(w http.ResponseWriter, r *http.Request) {
	if err := h.dataSources.DeleteDataSourceByID(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestDataSource checks that an unsaved data source definition is reachable.
func (h *APIHandler) TestDataSource(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDataSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.dataSources.TestConnection(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
