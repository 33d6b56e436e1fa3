package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationGeneral               NotificationType = "GENERAL"
	NotificationSystemAlert           NotificationType = "SYSTEM_ALERT"
	NotificationLeadAssigned          NotificationType = "LEAD_ASSIGNED"
	NotificationAppointmentAssigned   NotificationType = "APPOINTMENT_ASSIGNED"
	NotificationOfferAssigned         NotificationType = "OFFER_ASSIGNED"
	NotificationWorkReassigned        NotificationType = "WORK_REASSIGNED"
	NotificationWorkStatusChanged     NotificationType = "WORK_STATUS_CHANGED"
	NotificationVerificationSubmitted NotificationType = "VERIFICATION_SUBMITTED"
	NotificationVerificationApproved  NotificationType = "VERIFICATION_APPROVED"
	NotificationVerificationRejected  NotificationType = "VERIFICATION_REJECTED"
)

var knownNotificationTypes = map[NotificationType]struct{}{
	NotificationGeneral:               {},
	NotificationSystemAlert:           {},
	NotificationLeadAssigned:          {},
	NotificationAppointmentAssigned:   {},
	NotificationOfferAssigned:         {},
	NotificationWorkReassigned:        {},
	NotificationWorkStatusChanged:     {},
	NotificationVerificationSubmitted: {},
	NotificationVerificationApproved:  {},
	NotificationVerificationRejected:  {},
}

func (t NotificationType) Valid() bool {
	_, ok := knownNotificationTypes[t]
	return ok
}

// AdminRelevant types are mirrored to every connected admin.
func (t NotificationType) AdminRelevant() bool {
	return t == NotificationSystemAlert || t == NotificationVerificationSubmitted
}

// Notification is a durable inbox entry. ReadAt is non-nil iff IsRead.
type Notification struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"userId"`
	Type              NotificationType `json:"type"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	IsRead            bool             `json:"isRead"`
	ReadAt            *time.Time       `json:"readAt"`
	CreatedAt         time.Time        `json:"createdAt"`
	RelatedContractID *uuid.UUID       `json:"relatedContractId,omitempty"`
	RelatedWritingID  *uuid.UUID       `json:"relatedWritingId,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

type NotificationInput struct {
	UserID            uuid.UUID        `json:"userId"`
	Type              NotificationType `json:"type"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	RelatedContractID *uuid.UUID       `json:"relatedContractId,omitempty"`
	RelatedWritingID  *uuid.UUID       `json:"relatedWritingId,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

type NotificationFilter struct {
	UnreadOnly bool
	Type       NotificationType
	Limit      int
	Offset     int
}

type NotificationRepository interface {
	Create(ctx context.Context, in NotificationInput, createdAt time.Time) (*Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	List(ctx context.Context, userID uuid.UUID, filter NotificationFilter) ([]*Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// SetRead flips is_read and read_at together; at is ignored when read is false.
	SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// FindExisting returns the subset of ids that are stored.
	FindExisting(ctx context.Context, ids []uuid.UUID) ([]*Notification, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error)
}
