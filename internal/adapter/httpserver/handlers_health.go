package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/broadcast"
	"github.com/pscheid92/realtydesk/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check. A failing optional check marks the
// service degraded but keeps it in rotation; the event broker is one.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

type componentStatus struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status      string            `json:"status"`
	Components  []componentStatus `json:"components"`
	Streams     []broadcast.Stats `json:"streams"`
	Connections int64             `json:"connections"`
}

const (
	statusReady     = "ready"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup fails on the first required dependency that is not up yet.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	for _, hc := range s.healthChecks {
		if hc.Optional {
			continue
		}
		if err := hc.Check(ctx); err != nil {
			return writeJSON(c, http.StatusServiceUnavailable, map[string]any{
				"status":       statusUnhealthy,
				"failed_check": hc.Name,
				"error":        err.Error(),
			})
		}
	}
	return writeJSON(c, http.StatusOK, map[string]string{"status": statusReady})
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()

	response := map[string]any{
		"status": "ok",
		"uptime": uptime,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

// handleReadiness checks every dependency and reports each one alongside the
// live stream counts. Only a failed required check takes the service out.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	resp := readinessResponse{
		Status:      statusReady,
		Components:  make([]componentStatus, 0, len(s.healthChecks)),
		Streams:     s.streamStats(),
		Connections: s.limits.Current(),
	}

	for _, hc := range s.healthChecks {
		component := componentStatus{Name: hc.Name, Status: "up", Optional: hc.Optional}
		if err := hc.Check(ctx); err != nil {
			component.Status = "down"
			component.Error = err.Error()
			switch {
			case !hc.Optional:
				resp.Status = statusUnhealthy
			case resp.Status == statusReady:
				resp.Status = statusDegraded
			}
		}
		resp.Components = append(resp.Components, component)
	}

	code := http.StatusOK
	if resp.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return writeJSON(c, code, resp)
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
