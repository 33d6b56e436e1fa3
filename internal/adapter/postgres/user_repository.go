package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// userColumns must match the Scan order in scanUser.
const userColumns = `id, email, name, role, verified, verification_status, created_at, updated_at`

// UserRepo implements domain.UserRepository. Users are provisioned by the
// auth service; this repo only reads them and tracks verification.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Verified, &u.VerificationStatus, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

func (r *UserRepo) ListEligibleAgents(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1 AND verified
		ORDER BY created_at, id`, domain.RoleAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible agents: %w", err)
	}

	agents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan eligible agents: %w", err)
	}
	return agents, nil
}

func (r *UserRepo) UpdateVerification(ctx context.Context, userID uuid.UUID, status domain.VerificationStatus, verified bool) (*domain.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `
		UPDATE users
		SET verification_status = $2, verified = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, userID, status, verified))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}
	return user, nil
}

// PropertyRepo implements domain.PropertyRepository.
type PropertyRepo struct {
	pool *pgxpool.Pool
}

func NewPropertyRepo(pool *pgxpool.Pool) *PropertyRepo {
	return &PropertyRepo{pool: pool}
}

func (r *PropertyRepo) Exists(ctx context.Context, propertyID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1)`, propertyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check property: %w", err)
	}
	return exists, nil
}
