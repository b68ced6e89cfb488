package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"CortexMCP/internal/agent"
	xerrors "CortexMCP/internal/errors"
	"CortexMCP/internal/sse"
)

type stubExecutor struct {
	result  *agent.QueryResult
	err     error
	queries []string
}

func (s *stubExecutor) Execute(_ context.Context, query string) (*agent.QueryResult, error) {
	s.queries = append(s.queries, query)
	return s.result, s.err
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.Equal(t, "text", text.Type)
	return text.Text
}

func TestQueryToolDefinition(t *testing.T) {
	def := NewQueryTool(&stubExecutor{}).Definition()
	require.Equal(t, "run_cortex_agents", def.Name)
	require.Equal(t, "Runs queries through ❄️ Cortex Agents", def.Description)
	require.Equal(t, "Snowflake Cortex Agent Query Tool", def.Annotations.Title)
	require.Contains(t, def.InputSchema.Properties, "query")
	require.Equal(t, []string{"query"}, def.InputSchema.Required)
}

func TestQueryToolReturnsIndentedJSON(t *testing.T) {
	exec := &stubExecutor{result: &agent.QueryResult{
		Citations: []sse.Citation{{DocumentID: "d1", SourceID: "s1"}},
		Results:   json.RawMessage(`{"data":[]}`),
		SQL:       "SELECT 1",
		Text:      "Hello world",
	}}

	res, err := NewQueryTool(exec).Handle(context.Background(), callRequest(map[string]any{"query": "how many?"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, []string{"how many?"}, exec.queries)
	require.Equal(t, `{
  "citations": [
    {
      "doc_id": "d1",
      "source_id": "s1"
    }
  ],
  "results": {
    "data": []
  },
  "sql": "SELECT 1",
  "text": "Hello world"
}`, resultText(t, res))
}

func TestQueryToolRejectsMissingQuery(t *testing.T) {
	exec := &stubExecutor{}
	tool := NewQueryTool(exec)

	for _, args := range []map[string]any{{}, {"query": ""}, {"query": 42}} {
		res, err := tool.Handle(context.Background(), callRequest(args))
		require.NoError(t, err)
		require.True(t, res.IsError)
		require.Contains(t, resultText(t, res), "Invalid request object")
	}
	require.Empty(t, exec.queries)
}

func TestQueryToolSurfacesExecutionFailure(t *testing.T) {
	exec := &stubExecutor{err: xerrors.Wrap(xerrors.CodeUpstreamFailure, errors.New("401"), "Cortex Agent 调用失败")}
	res, err := NewQueryTool(exec).Handle(context.Background(), callRequest(map[string]any{"query": "q"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, resultText(t, res), "UPSTREAM_FAILURE")
}

func TestServeStdioListsTool(t *testing.T) {
	s := New(&stubExecutor{}, "test")

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ServeStdio(ctx, s, inR, outW) }()

	go func() {
		_, _ = io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	}()

	line, err := bufio.NewReader(outR).ReadString('\n')
	require.NoError(t, err)

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.Equal(t, 1, resp.ID)
	require.Len(t, resp.Result.Tools, 1)
	require.Equal(t, ToolName, resp.Result.Tools[0].Name)

	cancel()
	_ = inW.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not stop")
	}
}
