package diagnostics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"huddle/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Address   string
	// Verifier guards /debug when set. Leave nil to serve unauthenticated.
	Verifier  middleware.TokenVerifier
	RateLimit float64
	RateBurst int
	Tracing   bool
}

// Server serves the diagnostics surface on a local address.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.SugaredLogger
}

func NewRouter(cfg ServerConfig, handler *Handler, logger *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	if cfg.Tracing {
		router.Use(middleware.TracingMiddleware())
	}
	if cfg.RateLimit > 0 {
		router.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	var guards []gin.HandlerFunc
	if cfg.Verifier != nil {
		guards = append(guards, middleware.AuthMiddleware(cfg.Verifier))
	}
	handler.SetupRoutes(router, guards...)
	return router
}

func NewServer(cfg ServerConfig, handler *Handler, logger *zap.SugaredLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Address,
			Handler:      NewRouter(cfg, handler, logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		s.logger.Infow("Diagnostics server listening", "address", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Diagnostics server failed", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Errorw("Error during diagnostics shutdown", "error", err)
		return s.srv.Close()
	}
	return nil
}
