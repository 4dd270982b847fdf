package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/session"
	"recallweave/internal/metrics"
	applog "recallweave/internal/platform/log"
	"recallweave/internal/tool"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // 单个 API 请求的处理上限
	JWTSecret      string        // JWT 签名密钥（必填）
	JWTIssuer      string        // JWT 签发者（可选）
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Searcher 上下文感知检索（contextsearch.Engine）
type Searcher interface {
	Search(ctx context.Context, s scope.TenantScope, req contextsearch.Request) (*contextsearch.Response, error)
}

// Sessions 会话操作（session.Service）
type Sessions interface {
	RecordInterruption(ctx context.Context, s scope.TenantScope, query string) error
	Resume(ctx context.Context, s scope.TenantScope) (*session.Context, error)
	UpdateSummary(ctx context.Context, s scope.TenantScope, summary string) error
	Clear(ctx context.Context, s scope.TenantScope) error
	RecognizeUser(ctx context.Context, s scope.TenantScope) (session.Greeting, error)
}

// Memories 用户记忆（memory.Chain）
type Memories interface {
	GetUserMemory(ctx context.Context, s scope.TenantScope) memory.UserMemory
	Remember(ctx context.Context, s scope.TenantScope, text string, relevance float64) (memory.Item, error)
}

// Dependencies 路由依赖，nil 的模块不注册对应路由
type Dependencies struct {
	Searcher Searcher
	Sessions Sessions
	Memories Memories
	Tools    *tool.Registry
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	deps    Dependencies
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config: config,
		deps:   deps,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Retrieval API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMW)
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}

		if s.deps.Searcher != nil {
			NewSearchHandler(s.deps.Searcher).RegisterRoutes(r)
		}
		if s.deps.Sessions != nil {
			NewSessionHandler(s.deps.Sessions).RegisterRoutes(r)
		}
		if s.deps.Memories != nil {
			NewMemoryHandler(s.deps.Memories).RegisterRoutes(r)
		}
		if s.deps.Tools != nil {
			NewToolHandler(s.deps.Tools).RegisterRoutes(r)
			applog.Info("🧰 Tool API enabled", "tools", len(s.deps.Tools.Definitions()))
		}
	})
	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
