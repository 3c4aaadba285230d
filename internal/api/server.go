// Package api serves the probes and the audit agent over plain HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"a11yscout-mcp-server/internal/agent"
	"a11yscout-mcp-server/internal/config"
	"a11yscout-mcp-server/internal/probe"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Auditor runs a full audit cycle.
type Auditor interface {
	RunCycle(ctx context.Context, query string) (*agent.AuditRecord, error)
}

// Server is the HTTP front end.
type Server struct {
	echo    *echo.Echo
	cfg     config.HTTPConfig
	target  string
	probes  probe.Set
	auditor Auditor
	logger  *zap.Logger
}

// Failure messages returned by the probe endpoints.
var probeFailures = map[probe.Action]string{
	probe.Crawl:    "Crawl failed",
	probe.Axe:      "Axe scan failed",
	probe.Keyboard: "Keyboard accessibility check failed",
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// QueryRequest is the body of POST /llm/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// ProbeRequest is the optional body of POST /tools/<probe>.
type ProbeRequest struct {
	URL string `json:"url"`
}

// NewServer creates the HTTP server. gatherer may be nil to disable /metrics.
func NewServer(cfg config.HTTPConfig, target string, probes probe.Set, auditor Auditor, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if auditor == nil {
		return nil, errors.New("auditor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		cfg:     cfg,
		target:  target,
		probes:  probes,
		auditor: auditor,
		logger:  logger,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	for _, a := range probe.Actions {
		if p, ok := s.probes[a]; ok {
			s.echo.POST("/tools/"+string(a), s.handleProbe(p))
		}
	}
	s.echo.POST("/llm/query", s.handleQuery)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProbe(p probe.Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ProbeRequest
		// An absent or unparsable body falls back to the configured target.
		_ = c.Bind(&req)
		target := strings.TrimSpace(req.URL)
		if target == "" {
			target = s.target
		}

		result, err := p.Run(c.Request().Context(), target)
		if err != nil {
			s.logger.Warn("probe failed", zap.String("probe", string(p.Action())), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   probeFailures[p.Action()],
				Details: err.Error(),
			})
		}
		return c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: agent.ErrEmptyQuery.Error()})
	}

	rec, err := s.auditor.RunCycle(c.Request().Context(), req.Query)
	if err != nil {
		var perr *agent.PersistenceError
		if rec != nil && errors.As(err, &perr) {
			s.logger.Warn("report not archived", zap.Error(err))
			return c.JSON(http.StatusOK, rec)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "LLM query failed",
			Details: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, rec)
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
