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

// workUnitColumns must match the Scan order in scanWorkUnit.
const workUnitColumns = `id, kind, property_id, client_id, agent_id, lead_id, status, message,
	scheduled_at, amount_cents, created_at, updated_at`

// terminalStatuses is passed as a text[] parameter for "status <> ALL($n)".
func terminalStatuses() []string {
	out := make([]string, len(domain.TerminalWorkStatuses))
	for i, s := range domain.TerminalWorkStatuses {
		out[i] = string(s)
	}
	return out
}

type WorkUnitRepo struct {
	pool *pgxpool.Pool
}

func NewWorkUnitRepo(pool *pgxpool.Pool) *WorkUnitRepo {
	return &WorkUnitRepo{pool: pool}
}

func scanWorkUnit(row pgx.Row) (*domain.WorkUnit, error) {
	var u domain.WorkUnit
	err := row.Scan(
		&u.ID, &u.Kind, &u.PropertyID, &u.ClientID, &u.AgentID, &u.LeadID, &u.Status, &u.Message,
		&u.ScheduledAt, &u.AmountCents, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *WorkUnitRepo) Create(ctx context.Context, unit domain.WorkUnit) (*domain.WorkUnit, error) {
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	if unit.Status == "" {
		unit.Status = domain.WorkOpen
	}

	created, err := scanWorkUnit(r.pool.QueryRow(ctx, `
		INSERT INTO work_units (id, kind, property_id, client_id, agent_id, lead_id, status, message, scheduled_at, amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING `+workUnitColumns,
		unit.ID, unit.Kind, unit.PropertyID, unit.ClientID, unit.AgentID, unit.LeadID, unit.Status, unit.Message,
		unit.ScheduledAt, unit.AmountCents, unit.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert work unit: %w", err)
	}
	return created, nil
}

func (r *WorkUnitRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkUnit, error) {
	unit, err := scanWorkUnit(r.pool.QueryRow(ctx, `SELECT `+workUnitColumns+` FROM work_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWorkUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work unit: %w", err)
	}
	return unit, nil
}

// Reassign locks the row so the returned previous agent is the one actually replaced.
func (r *WorkUnitRepo) Reassign(ctx context.Context, id, newAgentID uuid.UUID, at time.Time) (uuid.UUID, error) {
	var previous uuid.UUID
	err := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, agent_id FROM work_units WHERE id = $1 FOR UPDATE
		)
		UPDATE work_units w
		SET agent_id = $2, updated_at = $3
		FROM prev
		WHERE w.id = prev.id
		RETURNING prev.agent_id`, id, newAgentID, at).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, domain.ErrWorkUnitNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to reassign work unit: %w", err)
	}
	return previous, nil
}

// UpdateStatus refuses to move a unit out of a terminal status.
func (r *WorkUnitRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WorkStatus, at time.Time) (*domain.WorkUnit, error) {
	unit, err := scanWorkUnit(r.pool.QueryRow(ctx, `
		UPDATE work_units
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status <> ALL($4)
		RETURNING `+workUnitColumns, id, status, at, terminalStatuses()))
	if err == nil {
		return unit, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update work unit status: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrInvalidTransition
}

func (r *WorkUnitRepo) ListByAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workUnitColumns+`
		FROM work_units
		WHERE agent_id = $1 AND ($2::bool OR status <> ALL($3))
		ORDER BY created_at DESC, id DESC`, agentID, includeClosed, terminalStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to list work units: %w", err)
	}

	units, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.WorkUnit, error) {
		return scanWorkUnit(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan work units: %w", err)
	}
	return units, nil
}

// WorkloadRepo implements domain.WorkloadAccessor over work_units.
type WorkloadRepo struct {
	pool *pgxpool.Pool
}

func NewWorkloadRepo(pool *pgxpool.Pool) *WorkloadRepo {
	return &WorkloadRepo{pool: pool}
}

func (r *WorkloadRepo) OpenUnitCount(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_units
		WHERE agent_id = $1 AND status <> ALL($2)`, agentID, terminalStatuses()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open work units: %w", err)
	}
	return n, nil
}

// OpenUnitCounts returns a count for every requested agent, zero included.
func (r *WorkloadRepo) OpenUnitCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return counts, nil
	}
	for _, id := range agentIDs {
		counts[id] = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, COUNT(*) FROM work_units
		WHERE agent_id = ANY($1) AND status <> ALL($2)
		GROUP BY agent_id`, agentIDs, terminalStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to count open work units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan workload: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workloads: %w", err)
	}
	return counts, nil
}
