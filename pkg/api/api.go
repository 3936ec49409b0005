// pkg/api/api.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/usecase"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultTradesLimit  = 50
	MaxTradesLimit      = 500
	ServiceName         = "crossbot"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// Portfolio is the reporting surface the status endpoints read.
type Portfolio interface {
	Status(ctx context.Context) (usecase.Status, error)
	Trades(ctx context.Context, limit int) ([]ledger.Trade, error)
}

// Handler serves the status API.
type Handler struct {
	portfolio Portfolio
	metrics   http.Handler
	events    http.Handler
	logger    *zap.Logger
	started   time.Time
}

// NewHandler wires the endpoints. metrics and events may be nil, which
// leaves /metrics and /ws unrouted.
func NewHandler(portfolio Portfolio, metrics, events http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		portfolio: portfolio,
		metrics:   metrics,
		events:    events,
		logger:    logger,
		started:   time.Now(),
	}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(zapLoggerMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/status", h.GetStatus)
	router.GET("/trades", h.GetTrades)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
	if h.events != nil {
		router.GET("/ws", gin.WrapH(h.events))
	}
	return router
}

// Server runs the router until Shutdown.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, h *Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: h.logger,
	}
}

// Start blocks serving requests; it returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("status api listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
