package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// NotificationRetention removes read notifications older than a cutoff.
// Unread notifications are never removed.
type NotificationRetention struct {
	notifications domain.NotificationRepository
	maxAge        time.Duration
	interval      time.Duration
	clock         clockwork.Clock
}

func NewNotificationRetention(notifications domain.NotificationRepository, maxAge, interval time.Duration, clock clockwork.Clock) *NotificationRetention {
	return &NotificationRetention{
		notifications: notifications,
		maxAge:        maxAge,
		interval:      interval,
		clock:         clock,
	}
}

// Sweep deletes (or with dryRun only counts) read notifications older than
// the retention age and returns how many matched.
func (r *NotificationRetention) Sweep(ctx context.Context, dryRun bool) (int, error) {
	cutoff := r.clock.Now().Add(-r.maxAge)
	n, err := r.notifications.DeleteReadBefore(ctx, cutoff, dryRun)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep notifications read before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// Run sweeps on every interval until ctx is cancelled.
func (r *NotificationRetention) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("Notification retention started", "max_age", r.maxAge, "interval", r.interval)
	for {
		select {
		case <-ticker.Chan():
			n, err := r.Sweep(ctx, false)
			if err != nil {
				slog.Error("Notification retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Old notifications removed", "count", n)
			}
		case <-ctx.Done():
			slog.Info("Notification retention stopped")
			return
		}
	}
}
