package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
)

// CustomerRepository reads the CRM-synced customers projection.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository creates a new customer lookup repository.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetCustomer retrieves a customer by id.
func (r *CustomerRepository) GetCustomer(ctx context.Context, id uuid.UUID) (*task.Customer, error) {
	query := `
		SELECT id, first_name, last_name, phone_number, timezone,
		       account_number, amount_due, updated_at
		FROM customers
		WHERE id = $1
	`

	var c task.Customer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.PhoneNumber, &c.Timezone,
		&c.AccountNumber, &c.AmountDue, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &c, nil
}

// GetCustomerByPhone resolves a customer from an inbound phone number.
// Used by the inbound SMS webhook to attribute opt-out replies.
func (r *CustomerRepository) GetCustomerByPhone(ctx context.Context, phoneNumber string) (*task.Customer, error) {
	query := `
		SELECT id, first_name, last_name, phone_number, timezone,
		       account_number, amount_due, updated_at
		FROM customers
		WHERE phone_number = $1
	`

	var c task.Customer
	err := r.pool.QueryRow(ctx, query, phoneNumber).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.PhoneNumber, &c.Timezone,
		&c.AccountNumber, &c.AmountDue, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer by phone: %w", err)
	}

	return &c, nil
}
