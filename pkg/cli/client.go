package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"query-enhancements/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.HTTPStatus, e.Code)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.HTTPStatus)
}

// Client talks to the query enhancements server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient returns a client for host.
func NewClient(host, token string) *Client {
	return &Client{BaseURL: host, Token: token, HTTP: &http.Client{Timeout: 5 * time.Minute}}
}

// DataSource is a data source as listed by the server.
type DataSource struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Endpoint    string              `json:"endpoint"`
	Type        string              `json:"dataSourceEngineType,omitempty"`
	AuthType    domain.AuthType     `json:"authType"`
	Health      domain.HealthStatus `json:"health"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// Search posts req to the strategy route.
func (c *Client) Search(ctx context.Context, strategy string, req *domain.SearchRequest) (*domain.Response, error) {
	var resp domain.Response
	if err := c.do(ctx, http.MethodPost, "/api/enhancements/search/"+url.PathEscape(strategy), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a running async query on the data source it was submitted
// to. An empty dataSourceID is the server's default cluster.
func (c *Client) Cancel(ctx context.Context, strategy, queryID, dataSourceID string) error {
	path := "/api/enhancements/search/" + url.PathEscape(strategy) + "/" + url.PathEscape(queryID)
	if dataSourceID != "" {
		path += "?" + url.Values{"dataSourceId": {dataSourceID}}.Encode()
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Stats returns the server's search usage counters.
func (c *Client) Stats(ctx context.Context) (*domain.UsageStats, error) {
	var stats domain.UsageStats
	if err := c.do(ctx, http.MethodGet, "/api/enhancements/search/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListDataSources returns every data source.
func (c *Client) ListDataSources(ctx context.Context) ([]DataSource, error) {
	var out struct {
		Data []DataSource `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/data-sources", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateDataSource stores a new data source.
func (c *Client) CreateDataSource(ctx context.Context, req domain.CreateDataSourceRequest) (*DataSource, error) {
	var ds DataSource
	if err := c.do(ctx, http.MethodPost, "/api/data-sources", req, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// DeleteDataSource removes a data source.
func (c *Client) DeleteDataSource(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/data-sources/"+url.PathEscape(id), nil, nil)
}

// TestDataSource checks an unsaved definition.
func (c *Client) TestDataSource(ctx context.Context, req domain.CreateDataSourceRequest) error {
	return c.do(ctx, http.MethodPost, "/api/data-sources/test", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var env struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &env) == nil {
			if env.Error != "" {
				apiErr.Code = env.Error
			}
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
