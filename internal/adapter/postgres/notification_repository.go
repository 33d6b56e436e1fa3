package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// notificationColumns must match the Scan order in scanNotification.
const notificationColumns = `id, user_id, type, title, message, is_read, read_at, created_at,
	related_contract_id, related_writing_id, metadata`

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.ReadAt, &n.CreatedAt,
		&n.RelatedContractID, &n.RelatedWritingID, &n.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Notification, error) {
		return scanNotification(row)
	})
}

func (r *NotificationRepo) Create(ctx context.Context, in domain.NotificationInput, createdAt time.Time) (*domain.Notification, error) {
	var metadata map[string]any
	if len(in.Metadata) > 0 {
		metadata = in.Metadata
	}

	n, err := scanNotification(r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, title, message, created_at, related_contract_id, related_writing_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+notificationColumns,
		in.UserID, in.Type, in.Title, in.Message, createdAt, in.RelatedContractID, in.RelatedWritingID, metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// List returns one page, newest first, and the total number of matches.
func (r *NotificationRepo) List(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, int, error) {
	const where = `WHERE user_id = $1 AND (NOT $2::bool OR NOT is_read) AND ($3::text = '' OR type = $3)`
	args := []any{userID, filter.UnreadOnly, string(filter.Type)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	if total == 0 {
		return []*domain.Notification{}, 0, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	list, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return list, total, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

// SetRead keeps the first read_at when a notification is marked read twice.
func (r *NotificationRepo) SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = $2,
		    read_at = CASE WHEN $2 THEN COALESCE(read_at, $3) ELSE NULL END
		WHERE id = $1
		RETURNING `+notificationColumns, id, read, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update read state: %w", err)
	}
	return n, nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND NOT is_read`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *NotificationRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepo) FindExisting(ctx context.Context, ids []uuid.UUID) ([]*domain.Notification, error) {
	if len(ids) == 0 {
		return []*domain.Notification{}, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find notifications: %w", err)
	}

	list, err := collectNotifications(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return list, nil
}

// DeleteReadBefore removes read notifications whose read_at is older than
// cutoff. With dryRun it only counts them.
func (r *NotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	if dryRun {
		var n int
		err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE is_read AND read_at < $1`, cutoff).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count expired notifications: %w", err)
		}
		return n, nil
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE is_read AND read_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
