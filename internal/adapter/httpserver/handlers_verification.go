package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

type reviewRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason"`
}

func (s *Server) handleSubmitVerification(c echo.Context) error {
	user, err := s.verification.Submit(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, user)
}

func (s *Server) handleReviewVerification(c echo.Context) error {
	userID, err := uuidParam(c, "userId")
	if err != nil {
		return err
	}

	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}
	if req.Approved == nil {
		return apperrors.MissingFieldsError("approved")
	}

	user, err := s.verification.Review(c.Request().Context(), currentUser(c), userID, *req.Approved, req.Reason)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, user)
}
