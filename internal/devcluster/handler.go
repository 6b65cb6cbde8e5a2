// Package devcluster provides a local stand-in for a search cluster. It
// serves the SQL, PPL and async-query plugin routes from an in-memory DuckDB
// so the server and CLI can be exercised without OpenSearch.
package devcluster

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Version is reported by the root route.
const Version = "2.17.0-devcluster"

// HandlerConfig holds the parameters needed to build the dev cluster handler.
type HandlerConfig struct {
	DB        *sql.DB
	Username  string // when set, every route requires HTTP basic auth
	Password  string
	StartTime time.Time
	JobDelay  time.Duration // artificial delay before an async job runs
	JobTTL    time.Duration // how long finished async jobs stay queryable
	Logger    *slog.Logger
}

// Handler serves the plugin routes.
type Handler struct {
	cfg    HandlerConfig
	mux    *http.ServeMux
	jobs   *jobStore
	logger *slog.Logger
}

// NewHandler builds the dev cluster handler. Call Close to stop running jobs.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = 30 * time.Minute
	}

	h := &Handler{cfg: cfg, mux: http.NewServeMux(), logger: logger}
	h.jobs = newJobStore(func(ctx context.Context, query string) (*tabular, error) {
		return runQuery(ctx, cfg.DB, query)
	}, cfg.JobDelay, cfg.JobTTL)

	h.mux.HandleFunc("GET /{$}", h.handleRoot)
	h.mux.HandleFunc("POST /_plugins/_sql", h.handleSQL)
	h.mux.HandleFunc("POST /_plugins/_ppl", h.handlePPL)
	h.mux.HandleFunc("POST /_plugins/_async_query", h.handleSubmit)
	h.mux.HandleFunc("GET /_plugins/_async_query/{queryId}", h.handleStatus)
	h.mux.HandleFunc("POST /_plugins/_async_query/cancel/{queryId}", h.handleCancel)
	h.mux.HandleFunc("DELETE /_plugins/_async_query/{queryId}", h.handleCancel)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Username != "" && !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="devcluster"`)
		writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	h.mux.ServeHTTP(w, r)
}

// Close cancels running async jobs and waits for them to stop.
func (h *Handler) Close() {
	h.jobs.close()
}

func (h *Handler) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) == 1
	return userOK && passOK
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	var duckdbVersion string
	_ = h.cfg.DB.QueryRowContext(r.Context(), "SELECT version()").Scan(&duckdbVersion)

	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "devcluster",
		"cluster_name":   "devcluster",
		"version":        map[string]any{"distribution": "opensearch", "number": Version},
		"duckdb_version": duckdbVersion,
		"uptime_seconds": int(time.Since(h.cfg.StartTime).Seconds()),
	})
}

// queryBody is the request body shared by the query routes.
type queryBody struct {
	Query      string `json:"query"`
	Lang       string `json:"lang"`
	Datasource string `json:"datasource"`
	SessionID  string `json:"sessionId"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (*queryBody, bool) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Request", "invalid request body: "+err.Error())
		return nil, false
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "Invalid Request", "query must not be empty")
		return nil, false
	}
	return &body, true
}

func (h *Handler) handleSQL(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "jdbc" && format != "viz" {
		writeError(w, http.StatusBadRequest, "Invalid Request", "unsupported format "+format)
		return
	}

	result, err := runQuery(r.Context(), h.cfg.DB, body.Query)
	if err != nil {
		h.logger.Info("sql query failed", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid SQL query", err.Error())
		return
	}
	if format == "viz" {
		writeJSON(w, http.StatusOK, result.viz())
		return
	}
	writeJSON(w, http.StatusOK, jdbcBody(result))
}

func (h *Handler) handlePPL(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	query, err := translatePPL(body.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	result, err := runQuery(r.Context(), h.cfg.DB, query)
	if err != nil {
		h.logger.Info("ppl query failed", "error", err, "sql", query)
		writeError(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jdbcBody(result))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	query := body.Query
	switch strings.ToLower(body.Lang) {
	case "", "sql":
	case "ppl":
		translated, err := translatePPL(body.Query)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid Query", err.Error())
			return
		}
		query = translated
	default:
		writeError(w, http.StatusBadRequest, "Invalid Request", "unsupported lang "+body.Lang)
		return
	}

	queryID, sessionID := h.jobs.submit(query, body.SessionID)
	h.logger.Info("async query submitted", "query_id", queryID, "session_id", sessionID, "datasource", body.Datasource)
	writeJSON(w, http.StatusOK, map[string]any{"queryId": queryID, "sessionId": sessionID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.get(r.PathValue("queryId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", "query "+r.PathValue("queryId")+" not found")
		return
	}

	out := map[string]any{"status": job.Status}
	switch job.Status {
	case JobStatusSuccess:
		out["schema"] = job.Result.Schema
		out["datarows"] = job.Result.Datarows
		out["total"] = job.Result.Total
		out["size"] = job.Result.Size
	case JobStatusFailed:
		out["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("queryId")
	switch err := h.jobs.cancel(queryID); {
	case errors.Is(err, errJobNotFound):
		writeError(w, http.StatusNotFound, "Not Found", "query "+queryID+" not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Info("async query cancelled", "query_id", queryID)
		writeJSON(w, http.StatusOK, map[string]any{"queryId": queryID})
	}
}

func jdbcBody(t *tabular) map[string]any {
	return map[string]any{
		"schema":   t.Schema,
		"datarows": t.Datarows,
		"total":    t.Total,
		"size":     t.Size,
		"status":   http.StatusOK,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the plugins' error envelope.
func writeError(w http.ResponseWriter, status int, reason, details string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"reason":  reason,
			"details": details,
			"type":    http.StatusText(status),
		},
		"status": status,
	})
}
