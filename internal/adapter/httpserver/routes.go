package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	apiRatePerSecond = 20
	apiRateBurst     = 40
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}

	s.registerHealthRoutes()
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	s.registerStreamRoutes()
	s.registerAPIRoutes(newRateLimiter(apiRatePerSecond, apiRateBurst, s.rateLimitKey))
}

// registerStreamRoutes skips the API rate limiter; ConnectionLimits guards
// stream admission instead.
func (s *Server) registerStreamRoutes() {
	s.echo.GET("/api/stream/notifications", s.handleNotificationStream, s.requireAuth)
	s.echo.GET("/api/stream/verification", s.handleVerificationStream, s.requireAuth)
	s.echo.GET("/api/admin/stream/alerts", s.handleAdminAlertStream, s.requireAuth, s.requireAdmin)
	s.echo.GET("/api/ws/notifications", s.handleNotificationSocket, s.requireAuth)
}

func (s *Server) registerAPIRoutes(rateLimiter echo.MiddlewareFunc) {
	api := s.echo.Group("/api", rateLimiter, s.requireAuth)

	api.GET("/notifications", s.handleListNotifications)
	api.GET("/notifications/unread-count", s.handleUnreadCount)
	api.PATCH("/notifications/:id/read", s.handleMarkRead)
	api.PATCH("/notifications/:id/unread", s.handleMarkUnread)
	api.PUT("/notifications/read-all", s.handleMarkAllRead)
	api.DELETE("/notifications/:id", s.handleDeleteNotification)

	api.POST("/assignments/:kind", s.handleAssign)
	api.GET("/work-units", s.handleListWorkUnits)
	api.PATCH("/work-units/:id/status", s.handleUpdateWorkStatus)

	api.POST("/verification/submit", s.handleSubmitVerification)

	admin := api.Group("/admin", s.requireAdmin)
	admin.POST("/notifications", s.handleCreateNotification)
	admin.DELETE("/notifications", s.handleDeleteNotifications)
	admin.POST("/assignments/reassign", s.handleReassign)
	admin.GET("/agents/workload", s.handleWorkloads)
	admin.POST("/verifications/:userId", s.handleReviewVerification)
	admin.GET("/streams", s.handleStreamStats)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
