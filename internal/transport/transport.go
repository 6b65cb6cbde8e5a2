// Package transport issues calls against search backends: the default cluster
// and external data sources registered in the metadata store.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Logical endpoint names understood by every Client.
const (
	EndpointPPLQuery    = "enhancements.pplQuery"
	EndpointSQLQuery    = "enhancements.sqlQuery"
	EndpointDirectQuery = "enhancements.runDirectQuery"
	EndpointJobStatus   = "enhancements.getJobStatus"
	EndpointPromQLQuery = "enhancements.promqlQuery"
	// EndpointRawRequest takes its method and path from Params.
	EndpointRawRequest = "transport.request"
)

// Endpoint is the wire route behind a logical endpoint name. Path segments in
// braces are filled from Params.PathParams.
type Endpoint struct {
	Method string
	Path   string
}

// Endpoints maps logical endpoint names to backend routes.
var Endpoints = map[string]Endpoint{
	EndpointPPLQuery:    {Method: http.MethodPost, Path: "/_plugins/_ppl"},
	EndpointSQLQuery:    {Method: http.MethodPost, Path: "/_plugins/_sql"},
	EndpointDirectQuery: {Method: http.MethodPost, Path: "/_plugins/_async_query"},
	EndpointJobStatus:   {Method: http.MethodGet, Path: "/_plugins/_async_query/{queryId}"},
	EndpointPromQLQuery: {Method: http.MethodPost, Path: "/_plugins/_directquery/_query/{dataSource}"},
}

// Params are the per-call inputs of a Client call.
type Params struct {
	Method     string            // only for EndpointRawRequest
	Path       string            // only for EndpointRawRequest
	PathParams map[string]string // values for {name} segments
	Query      url.Values
	Body       any
}

// Client is a per-backend callable.
type Client interface {
	Call(ctx context.Context, endpoint string, params Params) (json.RawMessage, error)
}

// ResponseError is returned for a non-2xx backend response.
type ResponseError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *ResponseError) Error() string {
	if reason := e.Reason(); reason != "" {
		return reason
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Reason extracts the backend's error text. OpenSearch plugins report either
// {"error":{"reason":..,"details":..}} or {"error":"..."}.
func (e *ResponseError) Reason() string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &env); err != nil {
		return strings.TrimSpace(string(e.Body))
	}
	if len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		switch {
		case obj.Details != "":
			return obj.Details
		case obj.Reason != "":
			return obj.Reason
		}
	}
	return string(env.Error)
}

// NewHTTPClient returns the HTTP client used for backend calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

// resolveRoute maps an endpoint name and params to an HTTP method and path.
func resolveRoute(endpoint string, params Params) (string, string, error) {
	if endpoint == EndpointRawRequest {
		if params.Method == "" || params.Path == "" {
			return "", "", fmt.Errorf("%s requires method and path", EndpointRawRequest)
		}
		return params.Method, params.Path, nil
	}
	ep, ok := Endpoints[endpoint]
	if !ok {
		return "", "", fmt.Errorf("unknown endpoint %q", endpoint)
	}
	path := ep.Path
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return "", "", fmt.Errorf("malformed route %q", ep.Path)
		}
		name := path[start+1 : start+end]
		value, ok := params.PathParams[name]
		if !ok || value == "" {
			return "", "", fmt.Errorf("endpoint %s: missing path parameter %q", endpoint, name)
		}
		path = path[:start] + url.PathEscape(value) + path[start+end+1:]
	}
	return ep.Method, path, nil
}

// authorizer decorates an outgoing request with credentials. body is the
// already-encoded payload, needed for signing.
type authorizer func(ctx context.Context, req *http.Request, body []byte) error

// httpCaller performs the shared request/response handling for all clients.
type httpCaller struct {
	baseURL   string
	http      *http.Client
	authorize authorizer
}

func (c *httpCaller) call(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	method, path, err := resolveRoute(endpoint, params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if params.Body != nil {
		payload, err = json.Marshal(params.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	target := strings.TrimRight(c.baseURL, "/") + path
	if len(params.Query) > 0 {
		target += "?" + params.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		if err := c.authorize(ctx, req, payload); err != nil {
			return nil, fmt.Errorf("authorize request: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Body: raw}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	return raw, nil
}
