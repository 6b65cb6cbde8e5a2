package transport

import (
	"context"
	"encoding/json"
	"net/http"
)

type callerCredentialsKey struct{}

// WithCallerCredentials stores the caller's Authorization header value so
// that default-cluster calls run as the current user.
func WithCallerCredentials(ctx context.Context, authorization string) context.Context {
	if authorization == "" {
		return ctx
	}
	return context.WithValue(ctx, callerCredentialsKey{}, authorization)
}

// CallerCredentials returns the Authorization value stored by
// WithCallerCredentials, if any.
func CallerCredentials(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerCredentialsKey{}).(string)
	return v, ok && v != ""
}

var _ Client = (*ClusterClient)(nil)

// ClusterClient calls the default (local) cluster. Calls carry the caller's
// own credentials when the context has them and fall back to the configured
// internal user otherwise.
type ClusterClient struct {
	caller   httpCaller
	username string
	password string
}

// NewClusterClient creates a client for the cluster at baseURL. username and
// password identify the internal user and may be empty.
func NewClusterClient(baseURL, username, password string, hc *http.Client) *ClusterClient {
	if hc == nil {
		hc = NewHTTPClient(0)
	}
	c := &ClusterClient{username: username, password: password}
	c.caller = httpCaller{baseURL: baseURL, http: hc, authorize: c.authorize}
	return c
}

// Call implements Client.
func (c *ClusterClient) Call(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	return c.caller.call(ctx, endpoint, params)
}

func (c *ClusterClient) authorize(ctx context.Context, req *http.Request, _ []byte) error {
	if auth, ok := CallerCredentials(ctx); ok {
		req.Header.Set("Authorization", auth)
		return nil
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return nil
}
