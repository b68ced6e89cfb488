package cortex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	xerrors "CortexMCP/internal/errors"
	"CortexMCP/internal/observability/metrics"
	"CortexMCP/internal/sse"
	"CortexMCP/pkg/logger"
)

const (
	// DefaultTokenType 对应 Snowflake 的 Programmatic Access Token。
	DefaultTokenType = "PROGRAMMATIC_ACCESS_TOKEN"

	// sqlTimeoutSeconds 作为服务端超时提示随请求发送，客户端不另设超时。
	sqlTimeoutSeconds = 60

	errorBodyLimit = 2048
	tracerName     = "CortexMCP/internal/cortex"
)

// Config 描述了调用 Cortex Agent 与 SQL API 所需的信息。
type Config struct {
	AgentEndpoint string
	SQLEndpoint   string
	Token         string
	TokenType     string
	// HTTPClient 为空时使用不带超时的客户端，流的生命周期只受 context 控制。
	HTTPClient *http.Client
	// RequestID 为空时使用 uuid v4。
	RequestID func() string
}

// Client 通过 HTTP 调用 Snowflake Cortex 能力，可被多个并发查询共享。
type Client struct {
	agentURL   *url.URL
	sqlURL     *url.URL
	token      string
	tokenType  string
	httpClient *http.Client
	requestID  func() string
	tracer     trace.Tracer
	log        *slog.Logger
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 Snowflake 访问令牌")
	}

	agentURL, err := parseEndpoint("agent", cfg.AgentEndpoint)
	if err != nil {
		return nil, err
	}
	sqlURL, err := parseEndpoint("sql", cfg.SQLEndpoint)
	if err != nil {
		return nil, err
	}

	tokenType := strings.TrimSpace(cfg.TokenType)
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	requestID := cfg.RequestID
	if requestID == nil {
		requestID = uuid.NewString
	}

	return &Client{
		agentURL:   agentURL,
		sqlURL:     sqlURL,
		token:      token,
		tokenType:  tokenType,
		httpClient: httpClient,
		requestID:  requestID,
		tracer:     otel.Tracer(tracerName),
		log:        logger.Named("cortex"),
	}, nil
}

func parseEndpoint(name, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未配置 %s 接口地址", name))
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("%s 接口地址无效: %q", name, raw))
	}
	return parsed, nil
}

// withRequestID 返回附带 requestId 查询参数的新地址。
func withRequestID(base *url.URL, id string) string {
	u := *base
	q := u.Query()
	q.Set("requestId", id)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) setHeaders(ctx context.Context, h http.Header) {
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Content-Type", "application/json")
	h.Set("X-Snowflake-Authorization-Token-Type", c.tokenType)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// RunAgent 发送查询并把返回的事件流归约为单个结果。
func (c *Client) RunAgent(ctx context.Context, req AgentRequest) (sse.Result, error) {
	requestID := c.requestID()
	ctx, span := c.tracer.Start(ctx, "cortex.agent.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cortex.request_id", requestID)))
	defer span.End()

	result, err := c.runAgent(ctx, requestID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cortex agent run failed")
		return sse.Result{}, err
	}
	span.SetAttributes(
		attribute.Int("cortex.text_length", len(result.Text)),
		attribute.Bool("cortex.sql_present", result.SQL != ""),
		attribute.Int("cortex.citations", len(result.Citations)),
	)
	return result, nil
}

func (c *Client) runAgent(ctx context.Context, requestID string, req AgentRequest) (sse.Result, error) {
	meta := xerrors.WithMetadata("request_id", requestID)

	payload, err := json.Marshal(req)
	if err != nil {
		return sse.Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 Agent 请求失败", meta)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, withRequestID(c.agentURL, requestID), bytes.NewReader(payload))
	if err != nil {
		return sse.Result{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "构建 Agent 请求失败", meta)
	}
	c.setHeaders(ctx, httpReq.Header)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return sse.Result{}, xerrors.Wrap(transportCode(ctx), err, "请求 Cortex Agent 失败", meta)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return sse.Result{}, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("Cortex Agent 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			meta, xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}

	c.log.Debug("agent stream opened",
		slog.String("request_id", requestID),
		slog.String("content_type", resp.Header.Get("Content-Type")))

	result, err := sse.Consume(ctx, resp.Body,
		sse.WithCharset(sse.CharsetFromContentType(resp.Header.Get("Content-Type"))),
		sse.WithLineObserver(func(kind sse.LineKind) {
			metrics.ObserveStreamLine(kind.String())
			if kind == sse.LineMalformed {
				c.log.Debug("skipped malformed stream line", slog.String("request_id", requestID))
			}
		}),
	)
	if err != nil {
		code := xerrors.CodeStreamFailure
		if errors.Is(err, context.DeadlineExceeded) {
			code = xerrors.CodeTimeout
		}
		return sse.Result{}, xerrors.Wrap(code, err, "读取 Cortex Agent 事件流失败", meta)
	}
	return result, nil
}

func transportCode(ctx context.Context) xerrors.Code {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return xerrors.CodeTimeout
	}
	return xerrors.CodeUpstreamFailure
}

// ExecuteSQL 执行 Agent 生成的 SQL。该调用从不返回错误：失败会以
// {"error": "..."} 的形式放入结果，成功时原样透传 SQL API 的 JSON 响应。
func (c *Client) ExecuteSQL(ctx context.Context, statement string) json.RawMessage {
	requestID := c.requestID()
	ctx, span := c.tracer.Start(ctx, "cortex.sql.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cortex.request_id", requestID)))
	defer span.End()

	result, outcome, err := c.executeSQL(ctx, requestID, statement)
	metrics.ObserveSQLExecution(outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.log.Warn("sql execution failed",
			slog.String("request_id", requestID),
			slog.String("outcome", outcome),
			slog.Any("error", err))
	}
	return result
}

func (c *Client) executeSQL(ctx context.Context, requestID, statement string) (json.RawMessage, string, error) {
	payload, err := json.Marshal(sqlRequest{
		Statement: strings.ReplaceAll(statement, ";", ""),
		Timeout:   sqlTimeoutSeconds,
	})
	if err != nil {
		return executionError(err), "execution_error", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, withRequestID(c.sqlURL, requestID), bytes.NewReader(payload))
	if err != nil {
		return executionError(err), "execution_error", err
	}
	c.setHeaders(ctx, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return executionError(err), "execution_error", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return executionError(readErr), "execution_error", readErr
		}
		err := fmt.Errorf("SQL API 返回错误状态 %d", resp.StatusCode)
		return errorEnvelope("SQL API error: " + string(body)), "api_error", err
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return executionError(err), "execution_error", err
	}
	return raw, "success", nil
}

func executionError(err error) json.RawMessage {
	return errorEnvelope("SQL execution error: " + err.Error())
}

func errorEnvelope(message string) json.RawMessage {
	encoded, _ := json.Marshal(map[string]string{"error": message})
	return encoded
}
