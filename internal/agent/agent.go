package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"CortexMCP/internal/cortex"
	xerrors "CortexMCP/internal/errors"
	"CortexMCP/internal/observability/metrics"
	"CortexMCP/internal/sse"
	"CortexMCP/internal/tooldef"
	"CortexMCP/pkg/logger"
)

// QueryResult 汇总一次 Agent 查询得到的结果。字段顺序与 JSON 键保持一致。
type QueryResult struct {
	Citations []sse.Citation `json:"citations"`
	// Results 为 SQL API 的原始响应或 {"error": "..."}；没有 SQL 时为 null。
	Results json.RawMessage `json:"results"`
	SQL     string          `json:"sql"`
	Text    string          `json:"text"`
}

// Runner 抽象出对 Cortex 的两次远程调用。
type Runner interface {
	RunAgent(ctx context.Context, req cortex.AgentRequest) (sse.Result, error)
	ExecuteSQL(ctx context.Context, statement string) json.RawMessage
}

// Agent 协调工具定义、Agent 流式调用与后续 SQL 执行，是系统的业务核心。
// Agent 本身无可变状态，可被并发调用。
type Agent struct {
	runner  Runner
	tools   tooldef.Loader
	model   string
	timeout time.Duration
	log     *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithModel 设置请求体中的 model 字段，为空时省略。
func WithModel(model string) Option {
	return func(a *Agent) {
		a.model = strings.TrimSpace(model)
	}
}

// WithTimeout 为整个查询设置超时时间，默认不设超时。
func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.timeout = 0
			return
		}
		a.timeout = timeout
	}
}

// WithLogger 替换默认日志实例。
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New 创建一个 Agent。
func New(runner Runner, tools tooldef.Loader, opts ...Option) *Agent {
	ag := &Agent{
		runner: runner,
		tools:  tools,
		log:    logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Execute 把查询发送给 Cortex Agent，并在生成 SQL 时执行一次后续查询。
// SQL 执行失败不会导致查询失败，而是体现在 Results 中。
func (a *Agent) Execute(ctx context.Context, query string) (*QueryResult, error) {
	start := time.Now()
	result, err := a.execute(ctx, query)

	outcome := "success"
	switch {
	case err == nil:
	case xerrors.CodeOf(err) == xerrors.CodeInvalidArgument:
		outcome = "invalid_argument"
	default:
		outcome = "error"
	}
	metrics.ObserveQuery(outcome, time.Since(start))

	if err != nil {
		a.log.Warn("cortex query failed",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return nil, err
	}
	a.log.Info("cortex query completed",
		slog.Bool("sql_present", result.SQL != ""),
		slog.Int("citations", len(result.Citations)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (a *Agent) execute(ctx context.Context, query string) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Invalid request object")
	}
	if a.runner == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置 Cortex 客户端")
	}
	if a.tools == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置工具定义")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	defs, err := a.tools.Load(ctx)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "加载工具定义失败")
	}

	streamed, err := a.runner.RunAgent(ctx, cortex.BuildAgentRequest(defs, query, a.model))
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "Cortex Agent 调用超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "Cortex Agent 调用失败")
	}

	result := &QueryResult{
		Citations: streamed.Citations,
		SQL:       streamed.SQL,
		Text:      streamed.Text,
	}
	if result.Citations == nil {
		result.Citations = []sse.Citation{}
	}
	if streamed.SQL != "" {
		result.Results = a.runner.ExecuteSQL(ctx, streamed.SQL)
	}
	return result, nil
}
