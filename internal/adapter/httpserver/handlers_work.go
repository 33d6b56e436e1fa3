package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

type reassignRequest struct {
	WorkUnitID uuid.UUID `json:"workUnitId"`
	NewAgentID uuid.UUID `json:"newAgentId"`
}

type updateStatusRequest struct {
	Status domain.WorkStatus `json:"status"`
}

// handleAssign creates a lead, appointment or offer and assigns it. Clients
// always submit on their own behalf; agents and administrators may name the client.
func (s *Server) handleAssign(c echo.Context) error {
	user := currentUser(c)

	var in domain.WorkInput
	if err := c.Bind(&in); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}
	if user.Role == domain.RoleClient {
		in.ClientID = user.ID
	}

	result, err := s.assignments.AssignFor(c.Request().Context(), user, domain.WorkKind(c.Param("kind")), in)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleReassign(c echo.Context) error {
	var req reassignRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}

	var missing []string
	if req.WorkUnitID == uuid.Nil {
		missing = append(missing, "workUnitId")
	}
	if req.NewAgentID == uuid.Nil {
		missing = append(missing, "newAgentId")
	}
	if len(missing) > 0 {
		return apperrors.MissingFieldsError(missing...)
	}

	result, err := s.assignments.Reassign(c.Request().Context(), currentUser(c), req.WorkUnitID, req.NewAgentID)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, result)
}

func (s *Server) handleListWorkUnits(c echo.Context) error {
	includeClosed, err := boolQueryParam(c, "includeClosed")
	if err != nil {
		return err
	}

	units, err := s.assignments.ListForAgent(c.Request().Context(), currentUser(c).ID, includeClosed)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]any{"workUnits": units})
}

func (s *Server) handleUpdateWorkStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").Wrap(err)
	}
	if req.Status == "" {
		return apperrors.MissingFieldsError("status")
	}

	unit, err := s.assignments.UpdateStatus(c.Request().Context(), currentUser(c), id, req.Status)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, unit)
}

func (s *Server) handleWorkloads(c echo.Context) error {
	loads, err := s.assignments.Workloads(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, map[string]any{"agents": loads})
}
