// Package auth 为 HTTP 传输提供静态 Bearer 令牌认证。
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	loggerpkg "CortexMCP/pkg/logger"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid bearer token")
)

// Service 校验请求携带的 API 令牌。未配置任何令牌时认证关闭。
type Service struct {
	digests [][sha256.Size]byte
	audit   *slog.Logger
}

// NewStatic 使用一组静态令牌创建认证服务，空白项会被忽略。
func NewStatic(tokens []string) *Service {
	s := &Service{}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		s.digests = append(s.digests, sha256.Sum256([]byte(token)))
	}
	return s
}

// Enabled 报告是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.digests) > 0
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	matched := 0
	for _, known := range s.digests {
		matched |= subtle.ConstantTimeCompare(digest[:], known[:])
	}
	if matched != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware 返回一个 HTTP 中间件，拒绝未携带有效令牌的请求。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Authenticate(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="cortexmcp"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			logger := s.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			logger.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", http.StatusUnauthorized,
				"error", err.Error(),
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}
