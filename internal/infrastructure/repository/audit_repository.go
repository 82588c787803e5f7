package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
)

// AuditRepository appends compliance audit events. The table is append-only
// with multi-year retention; there are no update or delete paths.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new compliance audit repository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append writes one audit event.
func (r *AuditRepository) Append(ctx context.Context, event *compliance.AuditEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO compliance_audit_events (
			id, customer_id, channel, action, detail, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.CustomerID, string(event.Channel),
		string(event.Action), event.Detail, metadataJSON, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	return nil
}

// ListByCustomer returns a customer's audit trail, newest first.
func (r *AuditRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*compliance.AuditEvent, error) {
	query := `
		SELECT id, customer_id, channel, action, detail, metadata, occurred_at
		FROM compliance_audit_events
		WHERE customer_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*compliance.AuditEvent
	for rows.Next() {
		var (
			e            compliance.AuditEvent
			channel      string
			action       string
			metadataJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &channel, &action, &e.Detail, &metadataJSON, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Channel = compliance.Channel(channel)
		e.Action = compliance.AuditAction(action)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
