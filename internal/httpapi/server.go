// Package httpapi exposes the thread service over JSON HTTP with echo.
//
// Routes:
//
//	GET  /health
//	GET  /threads
//	POST /threads                  {"content"}            -> 201
//	GET  /threads/:id
//	POST /threads/:id/replies      {"content","version"}  -> 201
//	GET  /messages/:id
//	GET  /metrics                  when a gatherer is configured
//
// Errors are returned as {"error": {"code", "message"}}. Invalid input and
// the message limit map to 400, unknown threads and messages to 404, a
// stale version to 409 and storage failures to 500.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/threads/internal/service"
)

// Server is the HTTP front of a service.Service.
type Server struct {
	echo     *echo.Echo
	svc      *service.Service
	log      *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// requestValidator adapts go-playground/validator to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i any) error { return r.v.Struct(i) }

// New creates a Server with its routes registered.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{svc: svc, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.log.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.GET("/threads", s.listThreads)
	s.echo.POST("/threads", s.createThread)
	s.echo.GET("/threads/:id", s.getThread)
	s.echo.POST("/threads/:id/replies", s.replyThread)
	s.echo.GET("/messages/:id", s.getMessage)

	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("http server listening", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
