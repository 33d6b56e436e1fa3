package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

type createNotificationRequest struct {
	UserID            uuid.UUID               `json:"userId"`
	Type              domain.NotificationType `json:"type"`
	Title             string                  `json:"title"`
	Message           string                  `json:"message"`
	RelatedContractID *uuid.UUID              `json:"relatedContractId"`
	RelatedWritingID  *uuid.UUID              `json:"relatedWritingId"`
	Metadata          map[string]any          `json:"metadata"`
}

type deleteNotificationsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

func (s *Server) handleListNotifications(c echo.Context) error {
	user := currentUser(c)

	filter := app.ListFilter{Type: domain.NotificationType(c.QueryParam("type"))}
	var err error
	if filter.Page, err = intQueryParam(c, "page"); err != nil {
		return err
	}
	if filter.Limit, err = intQueryParam(c, "limit"); err != nil {
		return err
	}
	if filter.UnreadOnly, err = boolQueryParam(c, "unreadOnly"); err != nil {
		return err
	}

	page, err := s.notifications.List(c.Request().Context(), user.ID, filter)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, page)
}

func (s *Server) handleUnreadCount(c echo.Context) error {
	user := currentUser(c)

	count, err := s.notifications.UnreadCount(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]int{"unreadCount": count})
}

func (s *Server) handleMarkRead(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	n, err := s.notifications.MarkRead(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, n)
}

func (s *Server) handleMarkUnread(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	n, err := s.notifications.MarkUnread(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, n)
}

func (s *Server) handleMarkAllRead(c echo.Context) error {
	updated, err := s.notifications.MarkAllRead(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleDeleteNotification(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.notifications.Delete(c.Request().Context(), currentUser(c).ID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCreateNotification(c echo.Context) error {
	var req createNotificationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}

	n, err := s.notifications.CreateAndDispatch(c.Request().Context(), domain.NotificationInput{
		UserID:            req.UserID,
		Type:              req.Type,
		Title:             req.Title,
		Message:           req.Message,
		RelatedContractID: req.RelatedContractID,
		RelatedWritingID:  req.RelatedWritingID,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, n)
}

func (s *Server) handleDeleteNotifications(c echo.Context) error {
	var req deleteNotificationsRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}

	result, err := s.notifications.DeleteMany(c.Request().Context(), currentUser(c), req.IDs)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, result)
}

func writeJSON(c echo.Context, status int, body any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid UUID format").WithField(name, raw)
	}
	return id, nil
}

// intQueryParam returns 0 when the parameter is absent.
func intQueryParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationError("query parameter must be an integer").WithField(name, raw)
	}
	return v, nil
}

func boolQueryParam(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.ValidationError("query parameter must be a boolean").WithField(name, raw)
	}
	return v, nil
}
