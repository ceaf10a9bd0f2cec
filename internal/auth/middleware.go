package auth

import (
	"net/http"
	"time"

	loggerpkg "LobsterMarket/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// Roles 非空时要求令牌角色属于其中之一。
	Roles []string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件，校验 Bearer 令牌并把声明放入请求上下文。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			logger := s.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			claims, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			if len(cfg.Roles) > 0 && !hasRole(claims.Role, cfg.Roles) {
				status := http.StatusForbidden
				http.Error(w, http.StatusText(status), status)
				logger.Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"user", claims.UserID(),
					"role", claims.Role,
				)
				return
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithClaims(r.Context(), claims)))
			if r.Method == http.MethodGet {
				return
			}
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", claims.UserID(),
			)
		})
	}
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
