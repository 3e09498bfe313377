package http

import (
	nethttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/openeeap/haloalign/internal/api/http/handler"
	"github.com/openeeap/haloalign/internal/api/http/middleware"
	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/internal/observability/metrics"
	"github.com/openeeap/haloalign/internal/observability/trace"
	"github.com/openeeap/haloalign/internal/platform/training/trainer"
	"github.com/openeeap/haloalign/pkg/config"
)

// RouterOptions 状态服务依赖
type RouterOptions struct {
	Server      config.ServerConfig
	MetricsPath string
	RunName     string
	RunID       string
	Version     string

	// ProgressRateLimit /v1 下每个客户端每秒的请求数，0 表示不限
	ProgressRateLimit int

	Progress trainer.ProgressReporter
	Metrics  *metrics.MetricsCollector
	Logger   logging.Logger
	Tracer   trace.Tracer
}

// Router HTTP 路由器
type Router struct {
	engine  *gin.Engine
	opts    RouterOptions
	status  *handler.StatusHandler
	limiter *middleware.RateLimitMiddleware
}

// NewRouter 创建 HTTP 路由器
func NewRouter(opts RouterOptions) *Router {
	// 设置 Gin 模式
	switch opts.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(opts.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoopLogger()
	}

	r := &Router{
		engine: gin.New(),
		opts:   opts,
		status: handler.NewStatusHandler(opts.Progress, opts.RunName, opts.RunID, opts.Version, opts.Logger),
		limiter: middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			KeyType:        middleware.KeyByIP,
			RequestsLimit:  opts.ProgressRateLimit,
			WindowDuration: time.Second,
			Logger:         opts.Logger,
		}),
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 底层 gin 引擎
func (r *Router) Engine() *gin.Engine { return r.engine }

// setupMiddleware 设置全局中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(gin.Recovery())

	origins := r.opts.Server.CORSAllowedOrigins
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.engine.Use(cors.New(corsCfg))

	r.engine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/debug/pprof"})))
	r.engine.Use(middleware.RequestLogger(r.opts.Logger, r.opts.Tracer))
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/", r.status.Info)
	r.engine.GET("/healthz", r.status.Health)
	r.engine.GET("/readyz", r.status.Ready)

	if r.opts.Metrics != nil {
		r.engine.GET(r.opts.MetricsPath, gin.WrapH(r.opts.Metrics.Handler()))
	}

	v1 := r.engine.Group("/v1")
	v1.Use(r.limiter.Handler())
	{
		v1.GET("/progress", r.status.Progress)
	}

	if r.opts.Server.EnablePprof {
		pprof.Register(r.engine)
	}
}

// ServeHTTP 实现 http.Handler
func (r *Router) ServeHTTP(w nethttp.ResponseWriter, req *nethttp.Request) {
	r.engine.ServeHTTP(w, req)
}

//Personal.AI order the ending
