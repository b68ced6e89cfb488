// Package mcpserver 把查询编排器暴露为 MCP 工具，并提供 stdio 传输。
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"CortexMCP/internal/agent"
	xerrors "CortexMCP/internal/errors"
	"CortexMCP/pkg/logger"
)

const (
	ServerName = "Cortex Agent MCP Server"

	ToolName        = "run_cortex_agents"
	toolTitle       = "Snowflake Cortex Agent Query Tool"
	toolDescription = "Runs queries through ❄️ Cortex Agents"
)

// Executor 执行一次自然语言查询。
type Executor interface {
	Execute(ctx context.Context, query string) (*agent.QueryResult, error)
}

// New 创建 MCP 服务并注册查询工具。调用方负责只创建一次，并把同一实例交给各个传输层。
func New(exec Executor, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	query := NewQueryTool(exec)
	s.AddTool(query.Definition(), query.Handle)
	return s
}

// ServeStdio 在给定的输入输出上运行 stdio 传输，直到 ctx 取消或输入结束。
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Named("mcp.stdio").Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// QueryTool 实现 run_cortex_agents 工具。
type QueryTool struct {
	exec Executor
}

func NewQueryTool(exec Executor) *QueryTool {
	return &QueryTool{exec: exec}
}

// Definition 返回工具的 MCP 描述。
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription(toolDescription),
		mcp.WithTitleAnnotation(toolTitle),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language question for the Cortex Agent"),
		),
	)
}

// Handle 执行查询并以两空格缩进的 JSON 文本返回结果。
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invocationID := uuid.NewString()
	start := time.Now()

	query, err := req.RequireString("query")
	if err != nil || query == "" {
		err = xerrors.New(xerrors.CodeInvalidArgument, "Invalid request object")
		t.audit(invocationID, 0, nil, err, time.Since(start))
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := t.exec.Execute(ctx, query)
	if err != nil {
		t.audit(invocationID, len(query), nil, err, time.Since(start))
		return mcp.NewToolResultError(err.Error()), nil
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeUnknown, err, "序列化查询结果失败")
		t.audit(invocationID, len(query), result, err, time.Since(start))
		return mcp.NewToolResultError(err.Error()), nil
	}

	t.audit(invocationID, len(query), result, nil, time.Since(start))
	return mcp.NewToolResultText(string(encoded)), nil
}

// audit 记录每次工具调用，不保存查询与回答正文。
func (t *QueryTool) audit(id string, queryLen int, result *agent.QueryResult, err error, elapsed time.Duration) {
	attrs := []any{
		slog.String("invocation_id", id),
		slog.String("tool", ToolName),
		slog.Int("query_length", queryLen),
		slog.Duration("elapsed", elapsed),
	}
	if result != nil {
		attrs = append(attrs,
			slog.Bool("sql_present", result.SQL != ""),
			slog.Int("citations", len(result.Citations)))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("outcome", "error"),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("severity", string(xerrors.SeverityOf(err))))
		logger.Audit().Warn("tool invocation", attrs...)
		return
	}
	attrs = append(attrs, slog.String("outcome", "success"))
	logger.Audit().Info("tool invocation", attrs...)
}
