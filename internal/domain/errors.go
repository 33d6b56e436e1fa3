package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrWorkUnitNotFound     = errors.New("work unit not found")
	ErrNoEligibleAgents     = errors.New("no eligible agents")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrLockTimeout          = errors.New("assignment lock not acquired")
)
