package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type WorkKind string

const (
	WorkLead        WorkKind = "lead"
	WorkAppointment WorkKind = "appointment"
	WorkOffer       WorkKind = "offer"
)

func (k WorkKind) Valid() bool {
	return k == WorkLead || k == WorkAppointment || k == WorkOffer
}

// AssignedNotification is the inbox type sent to the agent who wins a unit of this kind.
func (k WorkKind) AssignedNotification() NotificationType {
	switch k {
	case WorkAppointment:
		return NotificationAppointmentAssigned
	case WorkOffer:
		return NotificationOfferAssigned
	default:
		return NotificationLeadAssigned
	}
}

type WorkStatus string

const (
	WorkOpen       WorkStatus = "open"
	WorkInProgress WorkStatus = "in_progress"
	WorkCompleted  WorkStatus = "completed"
	WorkCancelled  WorkStatus = "cancelled"
)

func (s WorkStatus) Valid() bool {
	return s == WorkOpen || s == WorkInProgress || s == WorkCompleted || s == WorkCancelled
}

// Terminal statuses no longer count toward an agent's workload.
func (s WorkStatus) Terminal() bool {
	return s == WorkCompleted || s == WorkCancelled
}

// TerminalWorkStatuses lists the statuses excluded from workload counts.
var TerminalWorkStatuses = []WorkStatus{WorkCompleted, WorkCancelled}

// WorkUnit is a lead, appointment or offer. AgentID only changes through reassignment.
type WorkUnit struct {
	ID          uuid.UUID  `json:"id"`
	Kind        WorkKind   `json:"kind"`
	PropertyID  uuid.UUID  `json:"propertyId"`
	ClientID    uuid.UUID  `json:"clientId"`
	AgentID     uuid.UUID  `json:"agentId"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	Status      WorkStatus `json:"status"`
	Message     string     `json:"message,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	AmountCents *int64     `json:"amountCents,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// WorkInput is the caller-supplied part of a new work unit.
type WorkInput struct {
	PropertyID  uuid.UUID  `json:"propertyId"`
	ClientID    uuid.UUID  `json:"clientId"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	Message     string     `json:"message,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	AmountCents *int64     `json:"amountCents,omitempty"`
}

type AgentWorkload struct {
	AgentID       uuid.UUID `json:"agentId"`
	OpenUnitCount int       `json:"openUnitCount"`
}

type WorkUnitRepository interface {
	Create(ctx context.Context, unit WorkUnit) (*WorkUnit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*WorkUnit, error)
	// Reassign overwrites the agent and returns the agent it replaced.
	Reassign(ctx context.Context, id, newAgentID uuid.UUID, at time.Time) (previous uuid.UUID, err error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status WorkStatus, at time.Time) (*WorkUnit, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*WorkUnit, error)
}

// WorkloadAccessor counts units that reference an agent and are not terminal.
type WorkloadAccessor interface {
	OpenUnitCount(ctx context.Context, agentID uuid.UUID) (int, error)
	OpenUnitCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type PropertyRepository interface {
	Exists(ctx context.Context, propertyID uuid.UUID) (bool, error)
}

// AssignmentLocker serializes the workload read and the assignment write per kind.
type AssignmentLocker interface {
	Lock(ctx context.Context, kind WorkKind) (unlock func(), err error)
}
