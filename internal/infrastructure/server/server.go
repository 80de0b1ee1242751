package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/eventloop"
	"github.com/GriffinCanCode/fuzzpriv/internal/harness"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/config"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/logging"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/fuzzpriv/internal/privileged"
)

const shutdownTimeout = 5 * time.Second

// Deps are the privileged-side components the server exposes.
type Deps struct {
	Loop    *eventloop.Loop
	Router  *privileged.Router
	Harness *harness.Harness
	Quit    *privileged.QuitSequence
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	Logger  *logging.Logger
}

// Server is the control HTTP server.
type Server struct {
	router   *gin.Engine
	upgrader websocket.Upgrader
	deps     Deps
	config   *config.Config
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewServer creates a server. It does not listen until Run.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	logger := deps.Logger.Named("server")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(deps.Metrics))
	if deps.Tracer != nil {
		router.Use(tracing.Middleware(deps.Tracer))
	}
	router.Use(CORS(DefaultCORSConfig()))

	s := &Server{
		router: router,
		upgrader: websocket.Upgrader{
			CheckOrigin: allowOrigin,
		},
		deps:    deps,
		config:  cfg,
		metrics: deps.Metrics,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/fuzzpriv.js", s.shim)
	s.router.GET("/channel", s.channel)

	control := s.router.Group("/")
	control.Use(RateLimit(RateLimitConfig{
		RequestsPerSecond: s.config.Server.RequestsPerSecond,
		Burst:             s.config.Server.Burst,
	}))
	control.GET("/harness", s.harnessStatus)
	control.POST("/quit", s.quit)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
