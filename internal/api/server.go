package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"LobsterMarket/internal/auth"
	"LobsterMarket/internal/market"
	"LobsterMarket/internal/reputation"
	"LobsterMarket/internal/review"
	"LobsterMarket/pkg/logger"
)

// Config 描述 HTTP 服务参数。
type Config struct {
	Host            string
	Port            int
	NonceRateLimit  float64
	NonceRateBurst  int
	ShutdownTimeout time.Duration

	// TrustProxyHeaders 为 true 时限流按 X-Forwarded-For 首跳计算客户端地址。
	TrustProxyHeaders bool
}

// Address 返回监听地址。
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dependencies 是各路由依赖的领域服务。
type Dependencies struct {
	Auth       *auth.Service
	Market     *market.Service
	Reviews    *review.Service
	Reputation *reputation.Engine
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg     Config
	deps    Dependencies
	router  *mux.Router
	limiter *keyedLimiter
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例并注册全部路由。
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Auth == nil || deps.Market == nil || deps.Reviews == nil || deps.Reputation == nil {
		return nil, fmt.Errorf("api 依赖不完整")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.NonceRateLimit <= 0 {
		cfg.NonceRateLimit = 5
	}
	if cfg.NonceRateBurst <= 0 {
		cfg.NonceRateBurst = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: newKeyedLimiter(cfg.NonceRateLimit, cfg.NonceRateBurst),
		logger:  logger.Named("api"),
	}
	s.router = s.routes()
	return s, nil
}

// Handler 返回根路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", server.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
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
