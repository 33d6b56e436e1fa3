package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign_ClientSubmitsOnOwnBehalf(t *testing.T) {
	client, agent := newClient(), newAgent()
	propertyID := uuid.New()
	var gotKind domain.WorkKind
	var gotInput domain.WorkInput
	svc := &mockAssignmentService{
		assignFn: func(_ context.Context, _ *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error) {
			gotKind, gotInput = kind, in
			return &app.Assignment{
				WorkUnit: &domain.WorkUnit{ID: uuid.New(), Kind: kind, PropertyID: in.PropertyID, ClientID: in.ClientID, AgentID: agent.ID, Status: domain.WorkOpen},
				Agent:    agent,
			}, nil
		},
	}
	srv := newTestServer(t, withUsers(client), withAssignments(svc))

	body := `{"propertyId":"` + propertyID.String() + `","clientId":"` + uuid.NewString() + `","message":"Is it still available?"}`
	rec := do(t, srv, client, http.MethodPost, "/api/assignments/lead", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.WorkLead, gotKind)
	assert.Equal(t, client.ID, gotInput.ClientID, "client id comes from the session")
	assert.Equal(t, propertyID, gotInput.PropertyID)

	var result app.Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, agent.ID, result.WorkUnit.AgentID)
}

func TestAssign_AdminNamesClient(t *testing.T) {
	admin := newAdmin()
	clientID := uuid.New()
	var gotInput domain.WorkInput
	svc := &mockAssignmentService{
		assignFn: func(_ context.Context, _ *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error) {
			gotInput = in
			return &app.Assignment{WorkUnit: &domain.WorkUnit{ID: uuid.New(), Kind: kind}, Agent: newAgent()}, nil
		},
	}
	srv := newTestServer(t, withUsers(admin), withAssignments(svc))

	rec := do(t, srv, admin, http.MethodPost, "/api/assignments/offer",
		`{"propertyId":"`+uuid.NewString()+`","clientId":"`+clientID.String()+`","amountCents":45000000}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clientID, gotInput.ClientID)
	require.NotNil(t, gotInput.AmountCents)
	assert.Equal(t, int64(45000000), *gotInput.AmountCents)
}

func TestAssign_AgentKeepsNamedClient(t *testing.T) {
	agent, clientID := newAgent(), uuid.New()
	leadID := uuid.New()
	var gotActor *domain.User
	var gotInput domain.WorkInput
	svc := &mockAssignmentService{
		assignFn: func(_ context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error) {
			gotActor, gotInput = actor, in
			return &app.Assignment{WorkUnit: &domain.WorkUnit{ID: uuid.New(), Kind: kind}, Agent: agent}, nil
		},
	}
	srv := newTestServer(t, withUsers(agent), withAssignments(svc))

	rec := do(t, srv, agent, http.MethodPost, "/api/assignments/appointment",
		`{"leadId":"`+leadID.String()+`","clientId":"`+clientID.String()+`","scheduledAt":"2026-11-02T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotActor)
	assert.Equal(t, agent.ID, gotActor.ID)
	assert.Equal(t, clientID, gotInput.ClientID, "agents are not recorded as the client")
	require.NotNil(t, gotInput.LeadID)
	assert.Equal(t, leadID, *gotInput.LeadID)
}

func TestAssign_ForeignLeadForbidden(t *testing.T) {
	client := newClient()
	svc := &mockAssignmentService{
		assignFn: func(context.Context, *domain.User, domain.WorkKind, domain.WorkInput) (*app.Assignment, error) {
			return nil, apperrors.ForbiddenError("lead belongs to someone else")
		},
	}
	srv := newTestServer(t, withUsers(client), withAssignments(svc))

	rec := do(t, srv, client, http.MethodPost, "/api/assignments/offer",
		`{"leadId":"`+uuid.NewString()+`","amountCents":100}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAssign_MalformedBody(t *testing.T) {
	client := newClient()
	called := false
	svc := &mockAssignmentService{
		assignFn: func(context.Context, *domain.User, domain.WorkKind, domain.WorkInput) (*app.Assignment, error) {
			called = true
			return nil, nil
		},
	}
	srv := newTestServer(t, withUsers(client), withAssignments(svc))

	rec := do(t, srv, client, http.MethodPost, "/api/assignments/lead", `{"propertyId":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
	assert.False(t, called)
}

func TestReassign_MalformedBody(t *testing.T) {
	admin := newAdmin()
	srv := newTestServer(t, withUsers(admin))

	rec := do(t, srv, admin, http.MethodPost, "/api/admin/assignments/reassign", `{"workUnitId":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
}

func TestAssign_NoEligibleAgents(t *testing.T) {
	client := newClient()
	svc := &mockAssignmentService{
		assignFn: func(context.Context, *domain.User, domain.WorkKind, domain.WorkInput) (*app.Assignment, error) {
			return nil, apperrors.UnavailableError("no agent can take this work right now", domain.ErrNoEligibleAgents)
		},
	}
	srv := newTestServer(t, withUsers(client), withAssignments(svc))

	rec := do(t, srv, client, http.MethodPost, "/api/assignments/lead", `{"propertyId":"`+uuid.NewString()+`"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"unavailable"`)
}

func TestReassign(t *testing.T) {
	admin, agent := newAdmin(), newAgent()
	unitID := uuid.New()
	svc := &mockAssignmentService{
		reassignFn: func(_ context.Context, actor *domain.User, id, newAgentID uuid.UUID) (*app.Assignment, error) {
			assert.Equal(t, admin.ID, actor.ID)
			assert.Equal(t, unitID, id)
			return &app.Assignment{WorkUnit: &domain.WorkUnit{ID: id, AgentID: newAgentID}, Agent: agent}, nil
		},
	}
	srv := newTestServer(t, withUsers(admin), withAssignments(svc))

	rec := do(t, srv, admin, http.MethodPost, "/api/admin/assignments/reassign",
		`{"workUnitId":"`+unitID.String()+`","newAgentId":"`+agent.ID.String()+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), agent.ID.String())
}

func TestReassign_MissingFields(t *testing.T) {
	admin := newAdmin()
	srv := newTestServer(t, withUsers(admin))

	rec := do(t, srv, admin, http.MethodPost, "/api/admin/assignments/reassign", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fields":["newAgentId","workUnitId"]`)
}

func TestListWorkUnits(t *testing.T) {
	agent := newAgent()
	var gotClosed bool
	svc := &mockAssignmentService{
		listFn: func(_ context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error) {
			assert.Equal(t, agent.ID, agentID)
			gotClosed = includeClosed
			return []*domain.WorkUnit{}, nil
		},
	}
	srv := newTestServer(t, withUsers(agent), withAssignments(svc))

	rec := do(t, srv, agent, http.MethodGet, "/api/work-units?includeClosed=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotClosed)
	assert.JSONEq(t, `{"workUnits":[]}`, rec.Body.String())
}

func TestUpdateWorkStatus(t *testing.T) {
	agent := newAgent()
	unitID := uuid.New()
	svc := &mockAssignmentService{
		updateStatusFn: func(_ context.Context, actor *domain.User, id uuid.UUID, status domain.WorkStatus) (*domain.WorkUnit, error) {
			assert.Equal(t, agent.ID, actor.ID)
			return &domain.WorkUnit{ID: id, AgentID: agent.ID, Status: status}, nil
		},
	}
	srv := newTestServer(t, withUsers(agent), withAssignments(svc))

	rec := do(t, srv, agent, http.MethodPatch, "/api/work-units/"+unitID.String()+"/status", `{"status":"in_progress"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"in_progress"`)
}

func TestUpdateWorkStatus_Rejections(t *testing.T) {
	agent := newAgent()
	svc := &mockAssignmentService{
		updateStatusFn: func(context.Context, *domain.User, uuid.UUID, domain.WorkStatus) (*domain.WorkUnit, error) {
			return nil, apperrors.ConflictError("work unit is already closed").Wrap(domain.ErrInvalidTransition)
		},
	}
	srv := newTestServer(t, withUsers(agent), withAssignments(svc))
	target := "/api/work-units/" + uuid.NewString() + "/status"

	rec := do(t, srv, agent, http.MethodPatch, target, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, agent, http.MethodPatch, target, `{"status":"open"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkloads(t *testing.T) {
	admin := newAdmin()
	a, b := uuid.New(), uuid.New()
	svc := &mockAssignmentService{
		workloadsFn: func(context.Context, *domain.User) ([]domain.AgentWorkload, error) {
			return []domain.AgentWorkload{{AgentID: a, OpenUnitCount: 2}, {AgentID: b, OpenUnitCount: 0}}, nil
		},
	}
	srv := newTestServer(t, withUsers(admin), withAssignments(svc))

	rec := do(t, srv, admin, http.MethodGet, "/api/admin/agents/workload", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Agents []domain.AgentWorkload `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []domain.AgentWorkload{{AgentID: a, OpenUnitCount: 2}, {AgentID: b, OpenUnitCount: 0}}, body.Agents)
}
