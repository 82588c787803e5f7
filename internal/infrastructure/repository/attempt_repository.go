package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/collections-call-engine/internal/domain/attempt"
	domainerrors "github.com/davidleathers/collections-call-engine/internal/domain/errors"
)

// AttemptRepository persists contact attempts in PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new contact attempt repository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a provisional attempt at dial time.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.ContactAttempt) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt metadata: %w", err)
	}

	query := `
		INSERT INTO contact_attempts (
			id, task_id, agent_id, channel, status,
			duration_seconds, metadata, created_at, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.TaskID, a.AgentID, string(a.Channel), string(a.Status),
		a.DurationSeconds, metadataJSON, a.CreatedAt, a.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact attempt: %w", err)
	}

	return nil
}

// FinalizeByID seals an attempt with its terminal status and duration,
// merging outcome metadata into the stored blob. The guard on finalized_at
// keeps finalized rows immutable.
func (r *AttemptRepository) FinalizeByID(ctx context.Context, id uuid.UUID, status attempt.Status, durationSeconds int, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt metadata: %w", err)
	}

	query := `
		UPDATE contact_attempts
		SET status = $2, duration_seconds = $3,
		    metadata = metadata || $4::jsonb, finalized_at = NOW()
		WHERE id = $1 AND finalized_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, id, string(status), durationSeconds, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to finalize contact attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		finalizedErr := *domainerrors.ErrAttemptFinalized
		return finalizedErr.WithDetails(map[string]interface{}{
			"attempt_id": id.String(),
		})
	}

	return nil
}

// GetByID retrieves a single attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*attempt.ContactAttempt, error) {
	query := `
		SELECT id, task_id, agent_id, channel, status,
		       duration_seconds, metadata, created_at, finalized_at
		FROM contact_attempts
		WHERE id = $1
	`

	var (
		a            attempt.ContactAttempt
		channel      string
		status       string
		metadataJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.TaskID, &a.AgentID, &channel, &status,
		&a.DurationSeconds, &metadataJSON, &a.CreatedAt, &a.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.NewNotFoundError("contact attempt")
		}
		return nil, fmt.Errorf("failed to get contact attempt: %w", err)
	}

	a.Channel = complianceChannel(channel)
	a.Status = attempt.Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt metadata: %w", err)
		}
	}

	return &a, nil
}

// ListByTask returns all attempts recorded for a task, oldest first.
func (r *AttemptRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*attempt.ContactAttempt, error) {
	query := `
		SELECT id, task_id, agent_id, channel, status,
		       duration_seconds, metadata, created_at, finalized_at
		FROM contact_attempts
		WHERE task_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*attempt.ContactAttempt
	for rows.Next() {
		var (
			a            attempt.ContactAttempt
			channel      string
			status       string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&a.ID, &a.TaskID, &a.AgentID, &channel, &status,
			&a.DurationSeconds, &metadataJSON, &a.CreatedAt, &a.FinalizedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contact attempt: %w", err)
		}
		a.Channel = complianceChannel(channel)
		a.Status = attempt.Status(status)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attempt metadata: %w", err)
			}
		}
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}
