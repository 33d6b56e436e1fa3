package httpserver

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter budgets API calls per caller. identify picks the bucket key.
func newRateLimiter(ratePerSecond float64, burst int, identify func(echo.Context) string) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return identify(c), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").WithField("caller", identifier))
		},
	})
}

// rateLimitKey buckets signed-in callers by user id and everyone else by client
// IP. The session is only decoded here; requireAuth still validates the user.
func (s *Server) rateLimitKey(c echo.Context) string {
	if s.sessionStore != nil {
		if session, err := s.sessionStore.Get(c.Request(), sessionName); err == nil {
			if raw, ok := session.Values[sessionKeyUserID].(string); ok {
				if id, err := uuid.Parse(raw); err == nil {
					return "user:" + id.String()
				}
			}
		}
	}
	return "ip:" + c.RealIP()
}
