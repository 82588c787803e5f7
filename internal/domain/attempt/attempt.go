package attempt

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
)

// Status of a contact attempt. An attempt is provisional from dial time
// until the terminal provider webhook arrives.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
)

// FromCallStatus maps a terminal call status onto an attempt status.
func FromCallStatus(s call.Status) Status {
	switch s {
	case call.StatusCompleted:
		return StatusCompleted
	case call.StatusBusy:
		return StatusBusy
	case call.StatusNoAnswer:
		return StatusNoAnswer
	default:
		return StatusFailed
	}
}

// ContactAttempt records one contact event for audit and reporting.
// Immutable once finalized.
type ContactAttempt struct {
	ID              uuid.UUID              `json:"id"`
	TaskID          uuid.UUID              `json:"task_id"`
	AgentID         uuid.UUID              `json:"agent_id"`
	Channel         compliance.Channel     `json:"channel"`
	Status          Status                 `json:"status"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	FinalizedAt     *time.Time             `json:"finalized_at,omitempty"`
}

// NewProvisional creates an in-progress attempt at dial time. The final
// outcome is unknown until the provider reports a terminal status.
func NewProvisional(taskID, agentID uuid.UUID, channel compliance.Channel) *ContactAttempt {
	return &ContactAttempt{
		ID:        uuid.New(),
		TaskID:    taskID,
		AgentID:   agentID,
		Channel:   channel,
		Status:    StatusInProgress,
		Metadata:  make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	}
}

// Finalized reports whether the attempt has reached its terminal state.
func (a *ContactAttempt) Finalized() bool {
	return a.FinalizedAt != nil
}

// Finalize seals the attempt with its outcome. A second call is an error.
func (a *ContactAttempt) Finalize(status Status, durationSeconds int, metadata map[string]interface{}) error {
	if a.Finalized() {
		return errors.ErrAttemptFinalized
	}
	now := time.Now().UTC()
	a.Status = status
	a.DurationSeconds = &durationSeconds
	a.FinalizedAt = &now
	for k, v := range metadata {
		if a.Metadata == nil {
			a.Metadata = make(map[string]interface{})
		}
		a.Metadata[k] = v
	}
	return nil
}
