package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CortexMCP/internal/agent"
	"CortexMCP/internal/auth"
	xerrors "CortexMCP/internal/errors"
	"CortexMCP/internal/mcpserver"
	"CortexMCP/internal/sse"
)

type stubExecutor struct {
	result *agent.QueryResult
	err    error
}

func (s *stubExecutor) Execute(_ context.Context, query string) (*agent.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Invalid request object")
	}
	return s.result, s.err
}

func newTestServer(exec Executor) *Server {
	return NewServer(":0", mcpserver.New(exec, "test"), exec)
}

func TestHandleQuerySuccess(t *testing.T) {
	exec := &stubExecutor{result: &agent.QueryResult{Citations: []sse.Citation{}, Text: "ok"}}
	handler := newTestServer(exec).Handler(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got agent.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Text != "ok" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestHandleQueryErrors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		body   string
		exec   *stubExecutor
		status int
	}{
		{name: "invalid method", method: http.MethodGet, exec: &stubExecutor{}, status: http.StatusMethodNotAllowed},
		{name: "bad body", method: http.MethodPost, body: "{", exec: &stubExecutor{}, status: http.StatusBadRequest},
		{name: "empty query", method: http.MethodPost, body: `{"query":" "}`, exec: &stubExecutor{}, status: http.StatusBadRequest},
		{
			name:   "upstream failure",
			method: http.MethodPost,
			body:   `{"query":"q"}`,
			exec:   &stubExecutor{err: xerrors.Wrap(xerrors.CodeUpstreamFailure, errors.New("401"), "Cortex Agent 调用失败")},
			status: http.StatusBadGateway,
		},
		{
			name:   "timeout",
			method: http.MethodPost,
			body:   `{"query":"q"}`,
			exec:   &stubExecutor{err: xerrors.New(xerrors.CodeTimeout, "")},
			status: http.StatusGatewayTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestServer(tc.exec).Handler(context.Background())
			req := httptest.NewRequest(tc.method, "/api/v1/query", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	handler := newTestServer(&stubExecutor{}).Handler(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `cortex_http_requests_total{code="200",handler="/healthz",method="GET"}`) {
		t.Fatalf("health request not recorded in metrics:\n%s", rec.Body.String())
	}
}

func TestMCPEndpointInitialize(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&stubExecutor{}).Handler(context.Background()))
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var decoded struct {
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Result.ServerInfo.Name != mcpserver.ServerName {
		t.Fatalf("unexpected server name: %q", decoded.Result.ServerInfo.Name)
	}
}

func TestShutdownContextRejectsRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := newTestServer(&stubExecutor{}).Handler(ctx)
	cancel()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestAuthProtectsQueryButNotHealth(t *testing.T) {
	exec := &stubExecutor{result: &agent.QueryResult{Citations: []sse.Citation{}, Text: "ok"}}
	handler := newTestServer(exec).WithAuth(auth.NewStatic([]string{"secret"})).Handler(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health check should not require auth, got %d", rec.Code)
	}
}
