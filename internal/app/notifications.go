package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/domain"
	apperrors "github.com/pscheid92/realtydesk/internal/platform/errors"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Notifier is the write path other services use to inform a user.
type Notifier interface {
	CreateAndDispatch(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
}

type ListFilter struct {
	Page       int
	Limit      int
	UnreadOnly bool
	Type       domain.NotificationType
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type NotificationPage struct {
	Notifications []*domain.Notification `json:"notifications"`
	Pagination    Pagination             `json:"pagination"`
	UnreadCount   int                    `json:"unreadCount"`
}

// DeleteResult reports which of the requested ids were removed and which
// did not exist.
type DeleteResult struct {
	Deleted []uuid.UUID `json:"deleted"`
	Missing []uuid.UUID `json:"missing"`
}

// NotificationService persists notifications and pushes them to live streams.
// A record is always stored before any push; push outcomes never fail a call.
type NotificationService struct {
	users         domain.UserRepository
	notifications domain.NotificationRepository
	userStreams   domain.Dispatcher
	adminStreams  domain.Dispatcher
	clock         clockwork.Clock
}

func NewNotificationService(users domain.UserRepository, notifications domain.NotificationRepository, userStreams, adminStreams domain.Dispatcher, clock clockwork.Clock) *NotificationService {
	return &NotificationService{
		users:         users,
		notifications: notifications,
		userStreams:   userStreams,
		adminStreams:  adminStreams,
		clock:         clock,
	}
}

func (s *NotificationService) CreateAndDispatch(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	if err := validateNotificationInput(in); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByID(ctx, in.UserID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, apperrors.ValidationError("recipient does not exist").
				WithField("userId", in.UserID.String()).
				Wrap(err)
		}
		return nil, apperrors.InternalError("failed to look up recipient", err)
	}

	n, err := s.notifications.Create(ctx, in, s.clock.Now())
	if err != nil {
		return nil, apperrors.InternalError("failed to save notification", err)
	}

	env := domain.Envelope{Type: domain.EventNotificationCreated, Payload: n}
	delivered := s.userStreams.Push(domain.UserKey(n.UserID), env)

	admins := 0
	if n.Type.AdminRelevant() {
		admins = s.adminStreams.PushBroadcast(env)
	}

	slog.Debug("Notification dispatched",
		"notification_id", n.ID, "user_id", n.UserID, "type", n.Type,
		"streams", delivered, "admin_streams", admins)
	return n, nil
}

func validateNotificationInput(in domain.NotificationInput) error {
	var missing []string
	if in.UserID == uuid.Nil {
		missing = append(missing, "userId")
	}
	if in.Type == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(in.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return apperrors.MissingFieldsError(missing...)
	}
	if !in.Type.Valid() {
		return apperrors.ValidationError("unknown notification type").WithField("type", string(in.Type))
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, f ListFilter) (*NotificationPage, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperrors.ValidationError("unknown notification type").WithField("type", string(f.Type))
	}

	page, limit := normalizePage(f.Page, f.Limit)
	items, total, err := s.notifications.List(ctx, userID, domain.NotificationFilter{
		UnreadOnly: f.UnreadOnly,
		Type:       f.Type,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to list notifications", err)
	}

	unread, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError("failed to count unread notifications", err)
	}

	if items == nil {
		items = []*domain.Notification{}
	}
	return &NotificationPage{
		Notifications: items,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
		UnreadCount: unread,
	}, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 1:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	return page, limit
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.InternalError("failed to count unread notifications", err)
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error) {
	return s.setRead(ctx, actorID, id, true)
}

func (s *NotificationService) MarkUnread(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error) {
	return s.setRead(ctx, actorID, id, false)
}

func (s *NotificationService) setRead(ctx context.Context, actorID, id uuid.UUID, read bool) (*domain.Notification, error) {
	if _, err := s.owned(ctx, actorID, id); err != nil {
		return nil, err
	}

	n, err := s.notifications.SetRead(ctx, id, read, s.clock.Now())
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return nil, apperrors.NotFoundError("notification not found").Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to update notification", err)
	}

	eventType := domain.EventNotificationRead
	if !read {
		eventType = domain.EventNotificationUnread
	}
	s.sync(n.UserID, eventType, map[string]any{"id": n.ID, "isRead": n.IsRead, "readAt": n.ReadAt})
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.notifications.MarkAllRead(ctx, userID, s.clock.Now())
	if err != nil {
		return 0, apperrors.InternalError("failed to mark notifications read", err)
	}
	if count > 0 {
		s.sync(userID, domain.EventNotificationReadAll, map[string]any{"count": count})
	}
	return count, nil
}

// Delete removes a notification owned by actorID. Deleting an id that does
// not exist succeeds.
func (s *NotificationService) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	n, err := s.owned(ctx, actorID, id)
	if apperrors.IsType(err, apperrors.TypeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	deleted, err := s.notifications.Delete(ctx, id)
	if err != nil {
		return apperrors.InternalError("failed to delete notification", err)
	}
	if deleted {
		s.sync(n.UserID, domain.EventNotificationDeleted, map[string]any{"id": id})
	}
	return nil
}

// DeleteMany is the admin bulk delete. Ids are resolved against storage
// first so only records that exist are touched and their owners informed.
func (s *NotificationService) DeleteMany(ctx context.Context, actor *domain.User, ids []uuid.UUID) (*DeleteResult, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, apperrors.ForbiddenError("administrator role required").Wrap(domain.ErrForbidden)
	}
	if len(ids) == 0 {
		return nil, apperrors.MissingFieldsError("ids")
	}

	existing, err := s.notifications.FindExisting(ctx, dedupe(ids))
	if err != nil {
		return nil, apperrors.InternalError("failed to resolve notifications", err)
	}

	found := make(map[uuid.UUID]*domain.Notification, len(existing))
	for _, n := range existing {
		found[n.ID] = n
	}

	result := &DeleteResult{Deleted: []uuid.UUID{}, Missing: []uuid.UUID{}}
	for _, id := range dedupe(ids) {
		n, ok := found[id]
		if !ok {
			result.Missing = append(result.Missing, id)
			continue
		}
		deleted, err := s.notifications.Delete(ctx, id)
		if err != nil {
			return nil, apperrors.InternalError("failed to delete notification", err).WithField("id", id.String())
		}
		if !deleted {
			result.Missing = append(result.Missing, id)
			continue
		}
		result.Deleted = append(result.Deleted, id)
		s.sync(n.UserID, domain.EventNotificationDeleted, map[string]any{"id": id})
	}

	slog.Info("Bulk notification delete",
		"admin_id", actor.ID, "requested", len(ids), "deleted", len(result.Deleted), "missing", len(result.Missing))
	return result, nil
}

// owned loads a notification and checks that actorID owns it.
func (s *NotificationService) owned(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return nil, apperrors.NotFoundError("notification not found").Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load notification", err)
	}
	if n.UserID != actorID {
		return nil, apperrors.ForbiddenError("notification belongs to another user").Wrap(domain.ErrForbidden)
	}
	return n, nil
}

// sync tells the owner's other open tabs about a change.
func (s *NotificationService) sync(userID uuid.UUID, eventType string, payload any) {
	s.userStreams.Push(domain.UserKey(userID), domain.Envelope{Type: eventType, Payload: payload})
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
