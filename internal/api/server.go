package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"CortexMCP/internal/agent"
	"CortexMCP/internal/auth"
	xerrors "CortexMCP/internal/errors"
	"CortexMCP/internal/observability/metrics"
	"CortexMCP/pkg/logger"
)

// Executor 执行一次自然语言查询。
type Executor interface {
	Execute(ctx context.Context, query string) (*agent.QueryResult, error)
}

// Server 通过 HTTP 暴露 MCP streamable 传输、查询接口、健康检查与指标。
type Server struct {
	addr string
	mcp  *server.MCPServer
	exec Executor
	auth *auth.Service
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。mcpServer 应与 stdio 传输使用同一个实例。
func NewServer(addr string, mcpServer *server.MCPServer, exec Executor) *Server {
	return &Server{addr: addr, mcp: mcpServer, exec: exec, log: logger.Named("api")}
}

// WithAuth 要求 /mcp 与 /api/v1/query 携带 Bearer 令牌；健康检查与指标不受影响。
func (s *Server) WithAuth(svc *auth.Service) *Server {
	s.auth = svc
	return s
}

// Handler 组装全部路由。
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	if s.mcp != nil {
		mux.Handle("/mcp", instrument("/mcp", s.auth.Middleware(server.NewStreamableHTTPServer(s.mcp))))
	}
	mux.Handle("/api/v1/query", instrument("/api/v1/query", s.auth.Middleware(http.HandlerFunc(s.handleQuery))))
	mux.Handle("/healthz", instrument("/healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return withContext(ctx, mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http transport listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// handleQuery 在 MCP 之外提供一个便于调试的 REST 入口。
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.exec == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: xerrors.CodeInvalidArgument, Message: "请求体解析失败"})
		return
	}

	result, err := s.exec.Execute(r.Context(), req.Query)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Code: xerrors.CodeOf(err), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeUpstreamFailure, xerrors.CodeStreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// statusRecorder 记录响应码；Flush 需要透传，MCP 的 SSE 响应依赖它。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}
