package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest holds details captured from an incoming HTTP request.
type capturedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    string
}

// requestRecorder is a thread-safe recorder for HTTP requests received by httptest servers.
type requestRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (r *requestRecorder) record(req *http.Request) capturedRequest {
	body, _ := io.ReadAll(req.Body)
	c := capturedRequest{
		Method:  req.Method,
		Path:    req.URL.Path,
		Query:   req.URL.RawQuery,
		Headers: req.Header.Clone(),
		Body:    string(body),
	}
	r.mu.Lock()
	r.requests = append(r.requests, c)
	r.mu.Unlock()
	return c
}

func (r *requestRecorder) all() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func (r *requestRecorder) last() capturedRequest {
	all := r.all()
	if len(all) == 0 {
		return capturedRequest{}
	}
	return all[len(all)-1]
}

// newAPIServer starts a server that records every request and answers with
// respond.
func newAPIServer(t *testing.T, respond func(w http.ResponseWriter, req capturedRequest)) (*httptest.Server, *requestRecorder) {
	t.Helper()
	rec := &requestRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, rec.record(r))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// isolateEnv points HOME at an empty directory and clears the QE_*
// variables so no real configuration leaks into a test.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("QE_HOST", "")
	t.Setenv("QE_TOKEN", "")
	t.Setenv("QE_OUTPUT", "")
	return home
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeBody(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

const frameJSON = `{"type":"data_frame","name":"logs","schema":[{"name":"level","type":"string"},{"name":"n","type":"long"}],` +
	`"fields":[{"name":"level","type":"string","values":["error","info"]},{"name":"n","type":"long","values":[3,5]}],"size":2}`

func TestVersionCmd(t *testing.T) {
	isolateEnv(t)

	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "qe version dev")

	out, _, err = runCLI(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, out)
}

func TestRootCmd_RejectsOutputFormat(t *testing.T) {
	isolateEnv(t)

	_, _, err := runCLI(t, "version", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported output format "yaml"`)
}

func TestRootCmd_HostAndTokenPrecedence(t *testing.T) {
	isolateEnv(t)
	srv, rec := newAPIServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		writeRaw(w, http.StatusOK, `{"successCount":1,"errorCount":0,"totalTookMs":5,"averageTookMs":5}`)
	})

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Host: "http://127.0.0.1:1", Token: "profile-token"},
		},
	}))

	// The environment beats the profile host; the profile token still applies.
	t.Setenv("QE_HOST", srv.URL)
	_, _, err := runCLI(t, "stats")
	require.NoError(t, err)
	assert.Equal(t, "Bearer profile-token", rec.last().Headers.Get("Authorization"))

	// A flag beats both.
	_, _, err = runCLI(t, "stats", "--token", "flag-token")
	require.NoError(t, err)
	assert.Equal(t, "Bearer flag-token", rec.last().Headers.Get("Authorization"))
}

func TestStatsCmd(t *testing.T) {
	isolateEnv(t)
	srv, rec := newAPIServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		writeRaw(w, http.StatusOK, `{"successCount":4,"errorCount":1,"totalTookMs":40,"averageTookMs":10}`)
	})

	out, _, err := runCLI(t, "stats", "--host", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/enhancements/search/stats", rec.last().Path)
	assert.Contains(t, out, "SUCCESSES")
	assert.Contains(t, out, "40")
}

func TestAPIErrorIsReported(t *testing.T) {
	isolateEnv(t)
	srv, _ := newAPIServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		writeRaw(w, http.StatusBadGateway, `{"statusCode":502,"error":"Bad Gateway","message":"index not found"}`)
	})

	_, _, err := runCLI(t, "search", "--host", srv.URL, "SELECT 1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
	assert.Equal(t, "Bad Gateway", apiErr.Code)
	assert.Equal(t, "index not found (HTTP 502)", apiErr.Error())
}

func TestAPIError_WithoutEnvelope(t *testing.T) {
	isolateEnv(t)
	srv, _ := newAPIServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, _, err := runCLI(t, "stats", "--host", srv.URL)
	require.Error(t, err)
	assert.Equal(t, "server returned 503 Service Unavailable", err.Error())
}
