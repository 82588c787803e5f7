package call

import (
	"time"

	"github.com/google/uuid"
)

// Status is the provider-reported lifecycle of an outbound call.
type Status int

const (
	StatusInitiated Status = iota
	StatusRinging
	StatusAnswered
	StatusCompleted
	StatusFailed
	StatusBusy
	StatusNoAnswer
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusRinging:
		return "ringing"
	case StatusAnswered:
		return "answered"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusBusy:
		return "busy"
	case StatusNoAnswer:
		return "no_answer"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status ends the call lifecycle.
// Only terminal statuses trigger attempt finalization.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// ParseProviderStatus maps a provider webhook status string to a Status.
func ParseProviderStatus(providerStatus string) (Status, bool) {
	switch providerStatus {
	case "initiated", "queued":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "answered", "in-progress":
		return StatusAnswered, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	default:
		return StatusInitiated, false
	}
}

// ActiveCall tracks one in-flight call. An entry exists if and only if the
// provider holds an open call for ProviderCallID.
type ActiveCall struct {
	ProviderCallID string    `json:"provider_call_id"`
	TaskID         uuid.UUID `json:"task_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	AttemptID      uuid.UUID `json:"attempt_id"`
	PhoneNumber    string    `json:"phone_number"`
	ScriptName     string    `json:"script_name"`
	StartTime      time.Time `json:"start_time"`
	Status         Status    `json:"status"`
	UserInputs     []string  `json:"user_inputs,omitempty"`

	// Variables are the rendered template bindings, kept so menu
	// responses can substitute the same values mid-call.
	Variables map[string]string `json:"variables,omitempty"`

	// Resolution is the menu action that wrapped the call up, when the
	// customer reached one before the provider reported a terminal status.
	Resolution string `json:"resolution,omitempty"`
}

func NewActiveCall(providerCallID string, taskID, customerID, attemptID uuid.UUID, phoneNumber, scriptName string) *ActiveCall {
	return &ActiveCall{
		ProviderCallID: providerCallID,
		TaskID:         taskID,
		CustomerID:     customerID,
		AttemptID:      attemptID,
		PhoneNumber:    phoneNumber,
		ScriptName:     scriptName,
		StartTime:      time.Now().UTC(),
		Status:         StatusInitiated,
	}
}

func (c *ActiveCall) UpdateStatus(status Status) {
	c.Status = status
}

// AppendInput records a DTMF key press. Inputs accumulate for audit.
func (c *ActiveCall) AppendInput(digits string) {
	c.UserInputs = append(c.UserInputs, digits)
}
