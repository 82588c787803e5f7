package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
)

// TaskRepository reports task outcomes into the shared contact_tasks table.
// Task creation and scheduling are owned by the external scheduler; this
// engine only records status transitions.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task status repository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// UpdateStatus records a task status transition with an optional reason.
// The row may not exist yet when the scheduler and engine race on a fresh
// task, so the write is an upsert on task id.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID uuid.UUID, status task.Status, reason string) error {
	query := `
		INSERT INTO contact_tasks (id, status, status_reason, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    status_reason = EXCLUDED.status_reason,
		    updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, taskID, string(status), reason); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

func complianceChannel(s string) compliance.Channel {
	return compliance.Channel(s)
}
