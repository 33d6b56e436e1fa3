package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

// Assignment is the outcome of Assign and Reassign.
type Assignment struct {
	WorkUnit *domain.WorkUnit `json:"workUnit"`
	Agent    *domain.User     `json:"agent"`
}

// AssignmentFailure is the admin alert payload sent when no agent can take work.
type AssignmentFailure struct {
	Kind       domain.WorkKind `json:"kind"`
	PropertyID uuid.UUID       `json:"propertyId"`
	ClientID   uuid.UUID       `json:"clientId"`
	Reason     string          `json:"reason"`
}

// AssignmentObserver receives assignment outcomes, usually for metrics.
type AssignmentObserver interface {
	Assigned(kind domain.WorkKind, took time.Duration)
	AssignmentFailed(kind domain.WorkKind, reason string)
	Reassigned(kind domain.WorkKind)
}

type nopObserver struct{}

func (nopObserver) Assigned(domain.WorkKind, time.Duration)  {}
func (nopObserver) AssignmentFailed(domain.WorkKind, string) {}
func (nopObserver) Reassigned(domain.WorkKind)               {}

type nopPublisher struct{}

func (nopPublisher) PublishWorkEvent(context.Context, domain.WorkEvent) error { return nil }

// Assigner routes new work to the least-loaded eligible agent.
type Assigner struct {
	users      domain.UserRepository
	properties domain.PropertyRepository
	units      domain.WorkUnitRepository
	workloads  domain.WorkloadAccessor
	locker     domain.AssignmentLocker
	notifier   Notifier
	alerts     domain.Dispatcher
	events     domain.WorkEventPublisher
	observer   AssignmentObserver
	clock      clockwork.Clock
}

type AssignerOption func(*Assigner)

func WithWorkEvents(p domain.WorkEventPublisher) AssignerOption {
	return func(a *Assigner) {
		if p != nil {
			a.events = p
		}
	}
}

func WithAssignmentObserver(o AssignmentObserver) AssignerOption {
	return func(a *Assigner) {
		if o != nil {
			a.observer = o
		}
	}
}

func NewAssigner(
	users domain.UserRepository,
	properties domain.PropertyRepository,
	units domain.WorkUnitRepository,
	workloads domain.WorkloadAccessor,
	locker domain.AssignmentLocker,
	notifier Notifier,
	alerts domain.Dispatcher,
	clock clockwork.Clock,
	opts ...AssignerOption,
) *Assigner {
	a := &Assigner{
		users:      users,
		properties: properties,
		units:      units,
		workloads:  workloads,
		locker:     locker,
		notifier:   notifier,
		alerts:     alerts,
		events:     nopPublisher{},
		observer:   nopObserver{},
		clock:      clock,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assign validates the input, picks the least-loaded eligible agent under the
// kind's lock, stores the unit and notifies the agent.
func (a *Assigner) Assign(ctx context.Context, kind domain.WorkKind, in domain.WorkInput) (*Assignment, error) {
	return a.assign(ctx, nil, kind, in)
}

// AssignFor is Assign on behalf of actor. Non-admins may only follow up on
// leads they are party to: clients on their own, agents on those assigned to them.
func (a *Assigner) AssignFor(ctx context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*Assignment, error) {
	return a.assign(ctx, actor, kind, in)
}

func (a *Assigner) assign(ctx context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*Assignment, error) {
	start := a.clock.Now()

	if !kind.Valid() {
		return nil, apperrors.ValidationError("unknown work kind").WithField("kind", string(kind))
	}
	if err := a.resolveLead(ctx, actor, kind, &in); err != nil {
		return nil, err
	}
	if err := validateWorkInput(kind, in); err != nil {
		return nil, err
	}
	if err := a.checkReferences(ctx, in); err != nil {
		return nil, err
	}

	unit, agent, err := a.pickAndPersist(ctx, kind, in)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleAgents) {
			a.observer.AssignmentFailed(kind, "no_eligible_agents")
			a.alertNoAgents(kind, in)
		} else {
			a.observer.AssignmentFailed(kind, "error")
		}
		return nil, err
	}

	a.observer.Assigned(kind, a.clock.Since(start))
	slog.Info("Work assigned",
		"work_unit_id", unit.ID, "kind", kind, "agent_id", agent.ID, "property_id", unit.PropertyID)

	a.notify(ctx, domain.NotificationInput{
		UserID:  agent.ID,
		Type:    kind.AssignedNotification(),
		Title:   assignedTitle(kind),
		Message: fmt.Sprintf("A new %s has been assigned to you.", kind),
		Metadata: map[string]any{
			"workUnitId": unit.ID,
			"kind":       kind,
			"propertyId": unit.PropertyID,
			"clientId":   unit.ClientID,
		},
	})
	a.publish(ctx, domain.WorkEvent{
		Type:       domain.WorkEventAssigned,
		WorkUnitID: unit.ID,
		Kind:       kind,
		AgentID:    agent.ID,
		Status:     unit.Status,
	})

	return &Assignment{WorkUnit: unit, Agent: agent}, nil
}

// resolveLead lets appointments and offers inherit property and client from
// the lead they follow up on. A nil actor skips the ownership check.
func (a *Assigner) resolveLead(ctx context.Context, actor *domain.User, kind domain.WorkKind, in *domain.WorkInput) error {
	if in.LeadID == nil {
		return nil
	}
	if kind == domain.WorkLead {
		return apperrors.ValidationError("a lead cannot reference another lead").WithField("leadId", in.LeadID.String())
	}

	lead, err := a.units.GetByID(ctx, *in.LeadID)
	if errors.Is(err, domain.ErrWorkUnitNotFound) {
		return apperrors.NotFoundError("lead not found").WithField("leadId", in.LeadID.String()).Wrap(err)
	}
	if err != nil {
		return apperrors.InternalError("failed to load lead", err)
	}
	if lead.Kind != domain.WorkLead {
		return apperrors.ValidationError("leadId does not reference a lead").WithField("leadId", in.LeadID.String())
	}
	if actor != nil && !partyToLead(actor, lead) {
		return apperrors.ForbiddenError("lead belongs to someone else").WithField("leadId", in.LeadID.String())
	}

	if in.PropertyID == uuid.Nil {
		in.PropertyID = lead.PropertyID
	}
	if in.ClientID == uuid.Nil {
		in.ClientID = lead.ClientID
	}
	return nil
}

func partyToLead(actor *domain.User, lead *domain.WorkUnit) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleClient:
		return lead.ClientID == actor.ID
	case domain.RoleAgent:
		return lead.AgentID == actor.ID
	default:
		return false
	}
}

func validateWorkInput(kind domain.WorkKind, in domain.WorkInput) error {
	var missing []string
	if in.PropertyID == uuid.Nil {
		missing = append(missing, "propertyId")
	}
	if in.ClientID == uuid.Nil {
		missing = append(missing, "clientId")
	}
	if kind == domain.WorkAppointment && in.ScheduledAt == nil {
		missing = append(missing, "scheduledAt")
	}
	if kind == domain.WorkOffer && in.AmountCents == nil {
		missing = append(missing, "amountCents")
	}
	if len(missing) > 0 {
		return apperrors.MissingFieldsError(missing...)
	}
	if in.AmountCents != nil && *in.AmountCents <= 0 {
		return apperrors.ValidationError("amount must be positive").WithField("amountCents", *in.AmountCents)
	}
	return nil
}

func (a *Assigner) checkReferences(ctx context.Context, in domain.WorkInput) error {
	exists, err := a.properties.Exists(ctx, in.PropertyID)
	if err != nil {
		return apperrors.InternalError("failed to look up property", err)
	}
	if !exists {
		return apperrors.NotFoundError("property not found").
			WithField("propertyId", in.PropertyID.String()).
			Wrap(domain.ErrPropertyNotFound)
	}

	if _, err := a.users.GetByID(ctx, in.ClientID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return apperrors.NotFoundError("client not found").WithField("clientId", in.ClientID.String()).Wrap(err)
		}
		return apperrors.InternalError("failed to look up client", err)
	}
	return nil
}

// pickAndPersist holds the kind's lock from the workload read until the unit
// is stored, so concurrent assignments of one kind see each other's writes.
func (a *Assigner) pickAndPersist(ctx context.Context, kind domain.WorkKind, in domain.WorkInput) (*domain.WorkUnit, *domain.User, error) {
	unlock, err := a.locker.Lock(ctx, kind)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("assignment is busy, try again", err)
	}
	defer unlock()

	pool, err := a.eligibleAgents(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(pool) == 0 {
		return nil, nil, apperrors.UnavailableError("no eligible agents available", domain.ErrNoEligibleAgents).
			WithField("kind", string(kind))
	}

	counts, err := a.workloads.OpenUnitCounts(ctx, agentIDs(pool))
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to read agent workloads", err)
	}
	agent := leastLoaded(pool, counts)

	now := a.clock.Now()
	unit, err := a.units.Create(ctx, domain.WorkUnit{
		ID:          uuid.New(),
		Kind:        kind,
		PropertyID:  in.PropertyID,
		ClientID:    in.ClientID,
		AgentID:     agent.ID,
		LeadID:      in.LeadID,
		Status:      domain.WorkOpen,
		Message:     in.Message,
		ScheduledAt: in.ScheduledAt,
		AmountCents: in.AmountCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to save work unit", err)
	}
	return unit, agent, nil
}

func (a *Assigner) eligibleAgents(ctx context.Context) ([]*domain.User, error) {
	agents, err := a.users.ListEligibleAgents(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list agents", err)
	}
	pool := agents[:0:0]
	for _, u := range agents {
		if u.CanTakeWork() {
			pool = append(pool, u)
		}
	}
	return pool, nil
}

// leastLoaded returns the agent with the strictly lowest count. Ties go to
// the agent that comes first in pool order. Agents without a count have none.
func leastLoaded(pool []*domain.User, counts map[uuid.UUID]int) *domain.User {
	var best *domain.User
	bestCount := 0
	for _, agent := range pool {
		n := counts[agent.ID]
		if best == nil || n < bestCount {
			best, bestCount = agent, n
		}
	}
	return best
}

func agentIDs(agents []*domain.User) []uuid.UUID {
	ids := make([]uuid.UUID, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

func (a *Assigner) alertNoAgents(kind domain.WorkKind, in domain.WorkInput) {
	delivered := a.alerts.PushBroadcast(domain.Envelope{
		Type: domain.EventAssignmentFailed,
		Payload: AssignmentFailure{
			Kind:       kind,
			PropertyID: in.PropertyID,
			ClientID:   in.ClientID,
			Reason:     "no eligible agents",
		},
	})
	slog.Warn("Assignment failed: no eligible agents", "kind", kind, "property_id", in.PropertyID, "admins_alerted", delivered)
}

// Reassign moves a unit to another agent. Only administrators may call it.
func (a *Assigner) Reassign(ctx context.Context, actor *domain.User, unitID, newAgentID uuid.UUID) (*Assignment, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, apperrors.ForbiddenError("only administrators can reassign work").Wrap(domain.ErrForbidden)
	}
	if unitID == uuid.Nil || newAgentID == uuid.Nil {
		var missing []string
		if unitID == uuid.Nil {
			missing = append(missing, "workUnitId")
		}
		if newAgentID == uuid.Nil {
			missing = append(missing, "newAgentId")
		}
		return nil, apperrors.MissingFieldsError(missing...)
	}

	unit, err := a.units.GetByID(ctx, unitID)
	if errors.Is(err, domain.ErrWorkUnitNotFound) {
		return nil, apperrors.NotFoundError("work unit not found").WithField("workUnitId", unitID.String()).Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load work unit", err)
	}

	agent, err := a.users.GetByID(ctx, newAgentID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, apperrors.NotFoundError("agent not found").WithField("newAgentId", newAgentID.String()).Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load agent", err)
	}
	if agent.Role != domain.RoleAgent {
		return nil, apperrors.ValidationError("target user is not an agent").WithField("newAgentId", newAgentID.String())
	}

	if unit.AgentID == newAgentID {
		return &Assignment{WorkUnit: unit, Agent: agent}, nil
	}

	unlock, err := a.locker.Lock(ctx, unit.Kind)
	if err != nil {
		return nil, apperrors.UnavailableError("assignment is busy, try again", err)
	}
	now := a.clock.Now()
	previous, err := a.units.Reassign(ctx, unitID, newAgentID, now)
	unlock()
	if errors.Is(err, domain.ErrWorkUnitNotFound) {
		return nil, apperrors.NotFoundError("work unit not found").WithField("workUnitId", unitID.String()).Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to reassign work unit", err)
	}

	unit.AgentID = newAgentID
	unit.UpdatedAt = now
	a.observer.Reassigned(unit.Kind)
	slog.Info("Work reassigned",
		"work_unit_id", unit.ID, "kind", unit.Kind, "from_agent_id", previous, "to_agent_id", newAgentID, "admin_id", actor.ID)

	meta := map[string]any{"workUnitId": unit.ID, "kind": unit.Kind, "previousAgentId": previous, "agentId": newAgentID}
	a.notify(ctx, domain.NotificationInput{
		UserID:   newAgentID,
		Type:     domain.NotificationWorkReassigned,
		Title:    "Work reassigned to you",
		Message:  fmt.Sprintf("An administrator assigned a %s to you.", unit.Kind),
		Metadata: meta,
	})
	if previous != uuid.Nil && previous != newAgentID {
		a.notify(ctx, domain.NotificationInput{
			UserID:   previous,
			Type:     domain.NotificationWorkReassigned,
			Title:    "Work reassigned",
			Message:  fmt.Sprintf("An administrator moved one of your %ss to another agent.", unit.Kind),
			Metadata: meta,
		})
	}

	event := domain.WorkEvent{
		Type:       domain.WorkEventReassigned,
		WorkUnitID: unit.ID,
		Kind:       unit.Kind,
		AgentID:    newAgentID,
		Status:     unit.Status,
	}
	if previous != uuid.Nil {
		event.PreviousAgentID = &previous
	}
	a.publish(ctx, event)

	return &Assignment{WorkUnit: unit, Agent: agent}, nil
}

// UpdateStatus moves a unit along its lifecycle. The assigned agent or an
// administrator may call it; terminal units cannot change.
func (a *Assigner) UpdateStatus(ctx context.Context, actor *domain.User, unitID uuid.UUID, status domain.WorkStatus) (*domain.WorkUnit, error) {
	if !status.Valid() {
		return nil, apperrors.ValidationError("unknown work status").WithField("status", string(status))
	}

	unit, err := a.units.GetByID(ctx, unitID)
	if errors.Is(err, domain.ErrWorkUnitNotFound) {
		return nil, apperrors.NotFoundError("work unit not found").WithField("workUnitId", unitID.String()).Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load work unit", err)
	}

	if actor == nil || (!actor.IsAdmin() && unit.AgentID != actor.ID) {
		return nil, apperrors.ForbiddenError("work unit is assigned to another agent").Wrap(domain.ErrForbidden)
	}
	if unit.Status == status {
		return unit, nil
	}
	if unit.Status.Terminal() {
		return nil, apperrors.ConflictError("work unit is already closed").
			WithField("status", string(unit.Status)).
			Wrap(domain.ErrInvalidTransition)
	}

	updated, err := a.units.UpdateStatus(ctx, unitID, status, a.clock.Now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil, apperrors.ConflictError("work unit is already closed").Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to update work unit", err)
	}

	if actor.ID != updated.AgentID {
		a.notify(ctx, domain.NotificationInput{
			UserID:   updated.AgentID,
			Type:     domain.NotificationWorkStatusChanged,
			Title:    "Work status changed",
			Message:  fmt.Sprintf("Your %s is now %s.", updated.Kind, updated.Status),
			Metadata: map[string]any{"workUnitId": updated.ID, "status": updated.Status},
		})
	}
	a.publish(ctx, domain.WorkEvent{
		Type:       domain.WorkEventStatusChanged,
		WorkUnitID: updated.ID,
		Kind:       updated.Kind,
		AgentID:    updated.AgentID,
		Status:     updated.Status,
	})
	return updated, nil
}

func (a *Assigner) ListForAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error) {
	units, err := a.units.ListByAgent(ctx, agentID, includeClosed)
	if err != nil {
		return nil, apperrors.InternalError("failed to list work units", err)
	}
	if units == nil {
		units = []*domain.WorkUnit{}
	}
	return units, nil
}

// Workloads returns one snapshot per eligible agent in assignment order.
func (a *Assigner) Workloads(ctx context.Context, actor *domain.User) ([]domain.AgentWorkload, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, apperrors.ForbiddenError("administrator role required").Wrap(domain.ErrForbidden)
	}

	pool, err := a.eligibleAgents(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := a.workloads.OpenUnitCounts(ctx, agentIDs(pool))
	if err != nil {
		return nil, apperrors.InternalError("failed to read agent workloads", err)
	}

	out := make([]domain.AgentWorkload, len(pool))
	for i, agent := range pool {
		out[i] = domain.AgentWorkload{AgentID: agent.ID, OpenUnitCount: counts[agent.ID]}
	}
	return out, nil
}

// notify never fails the surrounding operation: the work is already stored.
func (a *Assigner) notify(ctx context.Context, in domain.NotificationInput) {
	if _, err := a.notifier.CreateAndDispatch(ctx, in); err != nil {
		slog.Error("Failed to notify agent", "user_id", in.UserID, "type", in.Type, "error", err)
	}
}

func (a *Assigner) publish(ctx context.Context, event domain.WorkEvent) {
	event.ID = uuid.New()
	event.OccurredAt = a.clock.Now()
	if err := a.events.PublishWorkEvent(ctx, event); err != nil {
		slog.Warn("Failed to publish work event", "event_type", event.Type, "work_unit_id", event.WorkUnitID, "error", err)
	}
}

func assignedTitle(kind domain.WorkKind) string {
	switch kind {
	case domain.WorkAppointment:
		return "New viewing appointment"
	case domain.WorkOffer:
		return "New purchase offer"
	default:
		return "New lead"
	}
}
