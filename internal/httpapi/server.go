// Package httpapi exposes a read-only admin/debug HTTP surface over the
// audio server's device list, Bluetooth registry, and metrics — for
// operators and support tooling, never consumed by the audio path itself.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"audiod/internal/btpolicy"
	"audiod/internal/btregistry"
	"audiod/internal/devlist"
	"audiod/internal/metrics"
)

// Server is the Echo application serving the admin/debug surface.
type Server struct {
	echo    *echo.Echo
	devices *devlist.List
	bt      *btregistry.Registry
	policy  *btpolicy.Engine
	counts  *metrics.Counters
}

// New constructs an Echo app wired to the given state.
func New(devices *devlist.List, bt *btregistry.Registry, policy *btpolicy.Engine, counts *metrics.Counters) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, devices: devices, bt: bt, policy: policy, counts: counts}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if path == "/health" {
				slog.Debug("http request",
					"method", req.Method, "path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method, "path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/devices", s.handleDevices)
	s.echo.GET("/api/bt", s.handleBT)
	s.echo.GET("/api/metrics", s.handleMetrics)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	EnabledDevices int    `json:"enabled_devices"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:         "ok",
		EnabledDevices: len(s.devices.Enabled()),
	})
}

type deviceSummary struct {
	Index     int    `json:"index"`
	Enabled   bool   `json:"enabled"`
	Suspended bool   `json:"suspended"`
	Direction string `json:"direction"`
}

func (s *Server) handleDevices(c echo.Context) error {
	var out []deviceSummary
	for _, idx := range s.devices.Enabled() {
		dev, ok := s.devices.Get(idx)
		if !ok {
			continue
		}
		out = append(out, deviceSummary{
			Index:     idx,
			Enabled:   dev.Enabled(),
			Suspended: s.devices.IsSuspended(idx),
			Direction: dev.Direction.String(),
		})
	}
	if out == nil {
		out = []deviceSummary{}
	}
	return c.JSON(http.StatusOK, out)
}

type btDeviceSummary struct {
	Path              string `json:"path"`
	Address           string `json:"address"`
	Name              string `json:"name"`
	Connected         bool   `json:"connected"`
	SupportedProfiles string `json:"supported_profiles"`
	ConnectedProfiles string `json:"connected_profiles"`
	WatchRetries      *int   `json:"watch_retries,omitempty"`
	SuspendPending    string `json:"suspend_pending,omitempty"`
}

func (s *Server) handleBT(c echo.Context) error {
	out := []btDeviceSummary{}
	for _, path := range s.bt.Paths() {
		d, ok := s.bt.Get(path)
		if !ok {
			continue
		}
		sum := btDeviceSummary{
			Path:              path,
			Address:           d.Address,
			Name:              d.Name,
			Connected:         d.Connected,
			SupportedProfiles: d.SupportedProfiles.String(),
			ConnectedProfiles: d.ConnectedProfiles.String(),
		}
		if s.policy != nil {
			if retries, ok := s.policy.WatchRetriesRemaining(path); ok {
				sum.WatchRetries = &retries
			}
			if reason, pending := s.policy.IsSuspendPending(path); pending {
				sum.SuspendPending = reason.String()
			}
		}
		out = append(out, sum)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.counts.Snapshot())
}
