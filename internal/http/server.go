// Package http provides the ragd HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/answer"
	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Engine is the retrieval engine surface the API serves.
type Engine interface {
	SearchSimilar(ctx context.Context, req vectorstore.SearchRequest) (*vectorstore.SearchResponse, error)
	GetByDocument(ctx context.Context, documentID string, scope vectorstore.Scope) (*vectorstore.DocumentPassages, error)
	DeleteDocument(ctx context.Context, documentID string) (vectorstore.DeleteResult, error)
	Clear(ctx context.Context, kind vectorstore.ScopeKind, sessionID string) (vectorstore.ClearResult, error)
	Stats(ctx context.Context) vectorstore.Stats
	Sessions(ctx context.Context) []vectorstore.SessionInfo
	ListDocuments(ctx context.Context, f vectorstore.ListFilter) []vectorstore.DocumentInfo
	RecentQueries(limit int) []vectorstore.QueryLogEntry
	Degraded() bool
}

// Answerer synthesizes chat replies from ranked passages.
type Answerer interface {
	Answer(ctx context.Context, question string, sources []vectorstore.SearchResult) answer.Answer
}

// Config holds HTTP server configuration.
type Config struct {
	Host      string
	Port      int
	BodyLimit string
	Version   string
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	pipeline *ingest.Pipeline
	answerer Answerer
	auth     *auth.Authenticator
	logger   *logging.Logger
	metrics  *HTTPMetrics
	config   *Config
	clock    func() time.Time
}

// Deps are the services a Server exposes.
type Deps struct {
	Engine   Engine
	Pipeline *ingest.Pipeline
	Answerer Answerer
	Auth     *auth.Authenticator
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("ingestion pipeline cannot be nil")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if deps.Answerer == nil {
		deps.Answerer = answer.NewExtractive(answer.WithLogger(logger))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:     e,
		engine:   deps.Engine,
		pipeline: deps.Pipeline,
		answerer: deps.Answerer,
		auth:     deps.Auth,
		logger:   logger,
		metrics:  NewHTTPMetrics(logger),
		config:   cfg,
		clock:    time.Now,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})
	e.Use(auth.Middleware(deps.Auth))

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/documents", s.handleUpload, auth.RequireToken)
	v1.GET("/documents", s.handleListDocuments, auth.RequireToken)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.GET("/documents/:id/status", s.handleDocumentStatus)
	v1.DELETE("/documents/:id", s.handleDeleteDocument, auth.RequireToken)
	v1.POST("/search", s.handleSearch)
	v1.POST("/chat", s.handleChat)

	admin := v1.Group("/admin", auth.RequireAdmin)
	admin.GET("/stats", s.handleAdminStats)
	admin.GET("/activity", s.handleActivity)
	admin.DELETE("/scopes", s.handleClear)
	admin.DELETE("/scopes/:scope", s.handleClear)
}

// ServeHTTP lets the server be driven directly, as in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
