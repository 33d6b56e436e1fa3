package httpserver

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

const contextKeyUser = "user"

// requireAuth resolves the session cookie to a user and stores it on the
// context. Sessions pointing at deleted users are invalidated.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return apperrors.UnauthorizedError("authentication required")
		}

		rawID, ok := session.Values[sessionKeyUserID].(string)
		if !ok {
			return apperrors.UnauthorizedError("authentication required")
		}

		userID, err := uuid.Parse(rawID)
		if err != nil {
			return apperrors.UnauthorizedError("authentication required")
		}

		user, err := s.users.GetByID(c.Request().Context(), userID)
		if errors.Is(err, domain.ErrUserNotFound) {
			slog.WarnContext(c.Request().Context(), "Session references unknown user, invalidating", "user_id", userID)
			session.Options.MaxAge = -1
			_ = session.Save(c.Request(), c.Response().Writer)
			return apperrors.UnauthorizedError("authentication required")
		}
		if err != nil {
			return apperrors.InternalError("failed to load user", err).WithField("user_id", userID.String())
		}

		c.Set(contextKeyUser, user)
		return next(c)
	}
}

// requireAdmin must run after requireAuth.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := currentUser(c)
		if user == nil {
			return apperrors.UnauthorizedError("authentication required")
		}
		if !user.IsAdmin() {
			return apperrors.ForbiddenError("admin role required").WithField("user_id", user.ID.String())
		}
		return next(c)
	}
}

func currentUser(c echo.Context) *domain.User {
	user, _ := c.Get(contextKeyUser).(*domain.User)
	return user
}
