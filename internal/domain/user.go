package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "none"
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type User struct {
	ID                 uuid.UUID          `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	Role               Role               `json:"role"`
	Verified           bool               `json:"verified"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanTakeWork reports whether the user belongs in the assignment pool.
func (u *User) CanTakeWork() bool { return u.Role == RoleAgent && u.Verified }

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	// ListEligibleAgents returns verified agents ordered by (created_at, id).
	// The order is the assignment tie-break and must be stable.
	ListEligibleAgents(ctx context.Context) ([]*User, error)
	UpdateVerification(ctx context.Context, userID uuid.UUID, status VerificationStatus, verified bool) (*User, error)
}
