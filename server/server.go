// Package server exposes operational endpoints of a memory store over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/internal/version"
	"github.com/hrygo/vecmem/store"
)

// Server serves /healthz, /metrics and a read-only collection listing.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

// NewServer registers the routes. metrics may be nil, in which case /metrics
// is not served.
func NewServer(profile *profile.Profile, s *store.Store, metrics http.Handler) *Server {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	server := &Server{
		Profile:    profile,
		Store:      s,
		echoServer: echoServer,
	}

	echoServer.GET("/healthz", server.healthz)
	echoServer.GET("/api/v1/collections", server.listCollections)
	if metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(metrics))
	}
	return server
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("vecmem server started", "address", address, "version", version.GetCurrentVersion(s.Profile.Mode))
	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown server")
	}
	slog.Info("vecmem server stopped")
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

func (s *Server) listCollections(c echo.Context) error {
	names, err := store.Collect(s.Store.ListCollections(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list collections").SetInternal(err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"collections": names})
}
