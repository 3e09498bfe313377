package http

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/openeeap/haloalign/internal/observability/logging"
	apperrors "github.com/openeeap/haloalign/pkg/errors"
)

// Server 状态服务，训练期间在后台运行
type Server struct {
	httpServer      *nethttp.Server
	logger          logging.Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// NewServer 创建状态服务
func NewServer(addr string, router *Router, shutdownTimeout time.Duration, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		httpServer: &nethttp.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start 监听后在后台处理请求
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return apperrors.InfrastructureError("http listen "+s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listener = lis
	s.done = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		s.logger.Info("HTTP server starting", logging.String("address", lis.Addr().String()))
		err := s.httpServer.Serve(lis)
		if errors.Is(err, nethttp.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("HTTP server failed", logging.Error(err))
		}
		s.done <- err
	}()
	return nil
}

// Addr 实际监听地址，端口为 0 时由系统分配
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", logging.Error(err))
		return err
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	return <-done
}

//Personal.AI order the ending
