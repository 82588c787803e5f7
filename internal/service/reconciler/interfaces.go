package reconciler

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/collections-call-engine/internal/domain/attempt"
	domainscript "github.com/davidleathers/collections-call-engine/internal/domain/script"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/events"
	scriptsvc "github.com/davidleathers/collections-call-engine/internal/service/script"
)

// Service reconciles asynchronous provider events with the engine's own
// view of each call. Events for the same call are processed in arrival
// order; events for different calls are processed concurrently.
type Service interface {
	HandleStatusEvent(ctx context.Context, providerCallID, providerStatus string, durationSeconds int)
	HandleGatherEvent(ctx context.Context, providerCallID, digits string)
	Stop()
}

// MenuEngine is the slice of the script engine the reconciler needs to
// answer a key press.
type MenuEngine interface {
	Script(name string) (*domainscript.PhoneScript, error)
	MenuResponse(s *domainscript.PhoneScript, pressedKey string, variables map[string]string) (*scriptsvc.MenuResult, error)
}

// AttemptFinalizer seals a contact attempt with its terminal outcome.
type AttemptFinalizer interface {
	FinalizeByID(ctx context.Context, id uuid.UUID, status attempt.Status, durationSeconds int, metadata map[string]interface{}) error
}

// CompletionNotifier tells the external scheduler that a call finished.
type CompletionNotifier interface {
	PublishCompletion(ctx context.Context, n *events.CompletionNotification) error
}

// CallbackScheduler records a customer's request to be called back later.
type CallbackScheduler interface {
	ScheduleCallback(ctx context.Context, customerID, taskID uuid.UUID, window string) error
}

// EscalationService routes a call outcome to a human specialist.
type EscalationService interface {
	Escalate(ctx context.Context, customerID, taskID uuid.UUID, target string) error
}
