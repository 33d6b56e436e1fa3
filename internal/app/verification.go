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

// VerificationUpdate is pushed on the verification stream whenever a user's
// identity check changes state.
type VerificationUpdate struct {
	UserID   uuid.UUID                 `json:"userId"`
	Status   domain.VerificationStatus `json:"status"`
	Verified bool                      `json:"verified"`
	Reason   string                    `json:"reason,omitempty"`
}

type VerificationService struct {
	users   domain.UserRepository
	streams domain.Dispatcher
	notify  Notifier
	clock   clockwork.Clock
}

func NewVerificationService(users domain.UserRepository, streams domain.Dispatcher, notifier Notifier, clock clockwork.Clock) *VerificationService {
	return &VerificationService{users: users, streams: streams, notify: notifier, clock: clock}
}

// Submit puts the caller's verification into review. Admins are alerted
// through the VERIFICATION_SUBMITTED notification.
func (s *VerificationService) Submit(ctx context.Context, actor *domain.User) (*domain.User, error) {
	if actor == nil {
		return nil, apperrors.UnauthorizedError("authentication required")
	}
	switch actor.VerificationStatus {
	case domain.VerificationPending:
		return nil, apperrors.ConflictError("verification is already under review").Wrap(domain.ErrInvalidTransition)
	case domain.VerificationApproved:
		return nil, apperrors.ConflictError("account is already verified").Wrap(domain.ErrInvalidTransition)
	}

	user, err := s.users.UpdateVerification(ctx, actor.ID, domain.VerificationPending, false)
	if err != nil {
		return nil, s.updateError(err, actor.ID)
	}

	s.publish(user, "")
	s.inform(ctx, domain.NotificationInput{
		UserID:   user.ID,
		Type:     domain.NotificationVerificationSubmitted,
		Title:    "Verification submitted",
		Message:  "Your identity verification was submitted and is awaiting review.",
		Metadata: map[string]any{"userId": user.ID, "email": user.Email},
	})

	slog.Info("Verification submitted", "user_id", user.ID)
	return user, nil
}

// Review approves or rejects a pending verification. Administrators only.
func (s *VerificationService) Review(ctx context.Context, actor *domain.User, userID uuid.UUID, approved bool, reason string) (*domain.User, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, apperrors.ForbiddenError("administrator role required").Wrap(domain.ErrForbidden)
	}

	target, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, apperrors.NotFoundError("user not found").WithField("userId", userID.String()).Wrap(err)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load user", err)
	}
	if target.VerificationStatus != domain.VerificationPending {
		return nil, apperrors.ConflictError("no verification pending for user").
			WithField("status", string(target.VerificationStatus)).
			Wrap(domain.ErrInvalidTransition)
	}

	reason = strings.TrimSpace(reason)
	status := domain.VerificationRejected
	if approved {
		status = domain.VerificationApproved
	} else if reason == "" {
		return nil, apperrors.MissingFieldsError("reason")
	}

	user, err := s.users.UpdateVerification(ctx, userID, status, approved)
	if err != nil {
		return nil, s.updateError(err, userID)
	}

	s.publish(user, reason)

	in := domain.NotificationInput{
		UserID:   user.ID,
		Type:     domain.NotificationVerificationApproved,
		Title:    "Verification approved",
		Message:  "Your identity has been verified.",
		Metadata: map[string]any{"reviewedBy": actor.ID},
	}
	if !approved {
		in.Type = domain.NotificationVerificationRejected
		in.Title = "Verification rejected"
		in.Message = "Your identity verification was rejected: " + reason
	}
	s.inform(ctx, in)

	slog.Info("Verification reviewed", "user_id", user.ID, "status", status, "admin_id", actor.ID)
	return user, nil
}

func (s *VerificationService) updateError(err error, userID uuid.UUID) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return apperrors.NotFoundError("user not found").WithField("userId", userID.String()).Wrap(err)
	}
	return apperrors.InternalError("failed to update verification", err)
}

func (s *VerificationService) publish(user *domain.User, reason string) {
	s.streams.Push(domain.UserKey(user.ID), domain.Envelope{
		Type: domain.EventVerificationStatus,
		Payload: VerificationUpdate{
			UserID:   user.ID,
			Status:   user.VerificationStatus,
			Verified: user.Verified,
			Reason:   reason,
		},
		Timestamp: s.clock.Now(),
	})
}

func (s *VerificationService) inform(ctx context.Context, in domain.NotificationInput) {
	if _, err := s.notify.CreateAndDispatch(ctx, in); err != nil {
		slog.Error("Failed to create verification notification", "user_id", in.UserID, "type", in.Type, "error", err)
	}
}
