// Package server exposes the research pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/researchd/internal/stream"
	"github.com/mohammad-safakhou/researchd/internal/task"
	"github.com/mohammad-safakhou/researchd/internal/telemetry"
	"github.com/mohammad-safakhou/researchd/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("researchd/internal/server")

// Starter launches the pipeline for a freshly created task.
type Starter interface {
	Start(ctx context.Context, t *task.Task) error
}

// Options configures the HTTP surface. Zero values are usable.
type Options struct {
	ServiceName      string
	Version          string
	AllowedOrigins   []string
	JWTSecret        string
	LLMConfigured    bool
	SearchConfigured bool
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
	// MetricsHandler serves /metrics; defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	Metrics        *telemetry.Metrics
	Logger         *log.Logger
	Now            func() time.Time
}

// Server wires the registry, broker and engine to echo routes.
type Server struct {
	echo     *echo.Echo
	registry *task.Registry
	broker   *stream.Broker
	engine   Starter
	memory   memory.Store
	validate *validator.Validate
	opts     Options
	logger   *log.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the server and registers every route.
func New(reg *task.Registry, broker *stream.Broker, engine Starter, mem memory.Store, opts Options) *Server {
	if mem == nil {
		mem = memory.Noop{}
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "researchd"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		echo:     echo.New(),
		registry: reg,
		broker:   broker,
		engine:   engine,
		memory:   mem,
		validate: validator.New(),
		opts:     opts,
		logger:   opts.Logger,
		closing:  make(chan struct{}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Last-Event-ID"},
	}))

	e.GET("/", s.root)
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(s.opts.MetricsHandler))

	var guard []echo.MiddlewareFunc
	if s.opts.JWTSecret != "" {
		guard = append(guard, AuthMiddleware([]byte(s.opts.JWTSecret)))
	}
	e.POST("/query", s.createQuery, guard...)
	e.GET("/stream/:task_id", s.streamTask, guard...)
	e.GET("/task/:task_id", s.getTask, guard...)
	e.GET("/tasks", s.listTasks, guard...)
	e.DELETE("/task/:task_id", s.deleteTask, guard...)
}

// handleError renders every error as {"error": "..."} and logs it.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open event streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.echo.Shutdown(ctx)
}
