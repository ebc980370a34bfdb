// Package http provides the HTTP API for patternd.
package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/mining"
	"github.com/fyrsmithlabs/patternd/internal/surfacing"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// HeaderUserID carries the authenticated user on /api/v1 requests.
const HeaderUserID = "X-User-ID"

// Surfacer decides whether a pattern should accompany a chat message.
type Surfacer interface {
	Surface(ctx context.Context, userID, msg string, now time.Time) (surfacing.Decision, bool, error)
}

// Deps are the services the API exposes. Patterns is required; a nil
// Surfacer or Miner disables the matching routes with 503.
type Deps struct {
	Patterns *lifecycle.Manager
	Surfacer Surfacer
	Miner    mining.CycleRunner
	// Ping reports storage health for /health.
	Ping func(ctx context.Context) error
	// Telemetry reports exporter health for /health. Degraded telemetry
	// does not fail the check.
	Telemetry func() telemetry.HealthStatus
}

// Server provides HTTP endpoints for patternd.
type Server struct {
	echo     *echo.Echo
	patterns *lifecycle.Manager
	surfacer Surfacer
	miner    mining.CycleRunner
	ping     func(ctx context.Context) error
	tel      func() telemetry.HealthStatus
	logger   *logging.Logger
	config   *Config
	now      func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Metrics overrides the OTel request metrics; nil uses the global meter.
	Metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Patterns == nil {
		return nil, errors.New("pattern manager cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewHTTPMetrics(logger.Underlying())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(metrics.Middleware())

	s := &Server{
		echo:     e,
		patterns: deps.Patterns,
		surfacer: deps.Surfacer,
		miner:    deps.Miner,
		ping:     deps.Ping,
		tel:      deps.Telemetry,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger threads the request ID into the request context and logs
// each request through it. requireUser adds the validated user ID further
// down the chain, so the request log carries it too.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), reqID)))

			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", requireUser)
	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/needing-feedback", s.handleNeedingFeedback)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.POST("/patterns/:id/feedback", s.handleFeedback)
	v1.POST("/patterns/surface", s.handleSurface)
	v1.POST("/mining/run", s.handleRunMining)
}

// Handler returns the echo instance serving the API.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
