package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category selects one of the independent live-event registries.
type Category string

const (
	CategoryNotification Category = "notification"
	CategoryVerification Category = "verification"
	CategoryAdminAlert   Category = "admin_alert"

	// CategoryConnected only appears on the handshake frame.
	CategoryConnected Category = "connected"
)

// RecipientKey addresses every live stream of one recipient within a category.
type RecipientKey string

func UserKey(userID uuid.UUID) RecipientKey { return RecipientKey(userID.String()) }

const (
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventNotificationUnread  = "notification.unread"
	EventNotificationReadAll = "notification.read_all"
	EventNotificationDeleted = "notification.deleted"
	EventVerificationStatus  = "verification.status"
	EventAssignmentFailed    = "assignment.failed"
	EventKeepAlive           = "keep-alive"
)

// Envelope is the ephemeral payload pushed to live streams. Never persisted.
type Envelope struct {
	Category     Category     `json:"category"`
	Type         string       `json:"type,omitempty"`
	Payload      any          `json:"payload,omitempty"`
	RecipientKey RecipientKey `json:"recipientKey,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Dispatcher fans envelopes out to the live streams of one category.
type Dispatcher interface {
	Push(key RecipientKey, env Envelope) int
	PushBroadcast(env Envelope) int
}

// WorkEvent is the durable domain event published for downstream consumers
// such as the KPI aggregation job.
type WorkEvent struct {
	ID              uuid.UUID  `json:"id"`
	Type            string     `json:"type"`
	WorkUnitID      uuid.UUID  `json:"workUnitId"`
	Kind            WorkKind   `json:"kind"`
	AgentID         uuid.UUID  `json:"agentId"`
	PreviousAgentID *uuid.UUID `json:"previousAgentId,omitempty"`
	Status          WorkStatus `json:"status,omitempty"`
	OccurredAt      time.Time  `json:"occurredAt"`
}

const (
	WorkEventAssigned      = "work.assigned"
	WorkEventReassigned    = "work.reassigned"
	WorkEventStatusChanged = "work.status_changed"
)

type WorkEventPublisher interface {
	PublishWorkEvent(ctx context.Context, event WorkEvent) error
}
