package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
)

// Status tracks a contact task through its lifecycle. Tasks are created by
// the external scheduler; this engine only moves them to a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ContactTask is a pending contact obligation consumed exactly once.
type ContactTask struct {
	ID          uuid.UUID          `json:"id"`
	CampaignID  uuid.UUID          `json:"campaign_id"`
	CustomerID  uuid.UUID          `json:"customer_id"`
	AgentID     uuid.UUID          `json:"agent_id"`
	Channel     compliance.Channel `json:"channel"`
	ScriptName  string             `json:"script_name"`
	Variables   map[string]string  `json:"variables,omitempty"`
	Priority    int                `json:"priority"`
	MaxAttempts int                `json:"max_attempts"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (t *ContactTask) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("task id cannot be nil")
	}
	if t.CustomerID == uuid.Nil {
		return fmt.Errorf("customer id cannot be nil")
	}
	if !t.Channel.Valid() {
		return fmt.Errorf("invalid channel: %s", t.Channel)
	}
	if t.ScriptName == "" {
		return fmt.Errorf("script name cannot be empty")
	}
	return nil
}

// Customer is the debtor record resolved before each contact attempt.
// Ownership of the record lives in the CRM; this is a read-only projection.
type Customer struct {
	ID            uuid.UUID `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PhoneNumber   string    `json:"phone_number"`
	Timezone      string    `json:"timezone"`
	AccountNumber string    `json:"account_number"`
	AmountDue     float64   `json:"amount_due"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c *Customer) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}
