package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/metrics"
	"go.uber.org/zap"
)

const (
	HealthPrefix = "/healthz"
	MetricsPath  = "/metrics"
)

type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	logger  *logging.Service
	metrics *metrics.Metrics
	health  healthcheck.Handler
}

func New(cfg *config.Config, logger *logging.Service, m *metrics.Metrics) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	extractor, err := ipExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	e.IPExtractor = extractor

	e.Use(middleware.Recover())
	e.Use(logging.RequestLogger(logger, HealthPrefix+"/live", HealthPrefix+"/ready", MetricsPath))
	if m != nil {
		e.Use(m.Middleware())
	}

	var health healthcheck.Handler
	if m != nil {
		health = healthcheck.NewMetricsHandler(m.Registry(), "login_helper")
	} else {
		health = healthcheck.NewHandler()
	}

	s := &Server{
		echo:    e,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		health:  health,
	}

	e.GET(HealthPrefix+"/*", echo.WrapHandler(http.StripPrefix(HealthPrefix, health)))
	e.GET(MetricsPath, echo.WrapHandler(m.Handler()))

	return s, nil
}

// ipExtractor trusts X-Forwarded-For only from the configured proxy ranges.
func ipExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	options := make([]echo.TrustOption, 0, len(trusted))
	for _, cidr := range trusted {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
		options = append(options, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(options...), nil
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("starting login helper server", zap.String("addr", s.Addr()))
	}

	httpServer := &http.Server{
		Addr:         s.Addr(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	if err := s.echo.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("shutting down login helper server")
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) AddLivenessCheck(name string, check healthcheck.Check) {
	s.health.AddLivenessCheck(name, check)
}

func (s *Server) AddReadinessCheck(name string, check healthcheck.Check) {
	s.health.AddReadinessCheck(name, check)
}

func (s *Server) Use(middleware ...echo.MiddlewareFunc) {
	s.echo.Use(middleware...)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, middleware...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, middleware...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, middleware...)
}

func (s *Server) Group(prefix string, middleware ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, middleware...)
}

func (s *Server) SetRenderer(renderer echo.Renderer) {
	s.echo.Renderer = renderer
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
