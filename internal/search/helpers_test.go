package search

import (
	"context"
	"encoding/json"
	"sync"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/facet"
	"query-enhancements/internal/transport"
)

type clientCall struct {
	endpoint string
	params   transport.Params
}

type mockClient struct {
	mu     sync.Mutex
	calls  []clientCall
	callFn func(ctx context.Context, endpoint string, params transport.Params) (json.RawMessage, error)
}

func (m *mockClient) Call(ctx context.Context, endpoint string, params transport.Params) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, clientCall{endpoint: endpoint, params: params})
	m.mu.Unlock()
	if m.callFn != nil {
		return m.callFn(ctx, endpoint, params)
	}
	panic("unexpected call to Call")
}

func (m *mockClient) Calls() []clientCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]clientCall(nil), m.calls...)
}

func replying(body string) *mockClient {
	return &mockClient{callFn: func(context.Context, string, transport.Params) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func failing(err error) *mockClient {
	return &mockClient{callFn: func(context.Context, string, transport.Params) (json.RawMessage, error) {
		return nil, err
	}}
}

// mockBackend routes by data source id; "" is the default client.
type mockBackend struct {
	mu     sync.Mutex
	routed []string
	routes map[string]transport.Client
}

func backendWith(def transport.Client) *mockBackend {
	return &mockBackend{routes: map[string]transport.Client{"": def}}
}

func (m *mockBackend) Route(_ context.Context, id string) (transport.Client, error) {
	m.mu.Lock()
	m.routed = append(m.routed, id)
	m.mu.Unlock()
	c, ok := m.routes[id]
	if !ok {
		return nil, domain.ErrNotFound("data source %q not found", id)
	}
	return c, nil
}

type mockDescriber struct {
	requests   []*domain.SearchRequest
	describeFn func(ctx context.Context, req *domain.SearchRequest) (*facet.Response, error)
}

func (m *mockDescriber) DescribeQuery(ctx context.Context, req *domain.SearchRequest) (*facet.Response, error) {
	m.requests = append(m.requests, req)
	if m.describeFn != nil {
		return m.describeFn(ctx, req)
	}
	panic("unexpected call to DescribeQuery")
}

type recordingUsage struct {
	mu        sync.Mutex
	successes int
	errors    int
}

func (u *recordingUsage) TrackSuccess(int64) {
	u.mu.Lock()
	u.successes++
	u.mu.Unlock()
}

func (u *recordingUsage) TrackError() {
	u.mu.Lock()
	u.errors++
	u.mu.Unlock()
}
