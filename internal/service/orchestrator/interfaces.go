package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/collections-call-engine/internal/domain/attempt"
	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/domain/script"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
)

// Service consumes contact tasks and drives them through the compliance
// gate to a dialed call. HandleTask returns once the provider accepts the
// dial; the call itself completes asynchronously via webhooks.
type Service interface {
	HandleTask(ctx context.Context, t *task.ContactTask) error
}

// ComplianceGate is the slice of the compliance service the orchestrator
// needs. An approved CanContact reserves the frequency slot; ReleaseContact
// returns it when the dial never happens.
type ComplianceGate interface {
	CanContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel, timezone string) *compliance.CheckResult
	ReleaseContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error
}

// ScriptEngine resolves and renders phone scripts.
type ScriptEngine interface {
	Script(name string) (*script.PhoneScript, error)
	Render(s *script.PhoneScript, variables map[string]string) (string, error)
}

// Provider is the telephony provider's call API.
type Provider interface {
	CreateCall(ctx context.Context, req *call.DialRequest) (*call.DialResponse, error)
	UpdateCall(ctx context.Context, providerCallID, markup string) error
	EndCall(ctx context.Context, providerCallID string) error
	Name() string
}

// CustomerDirectory resolves customer records, cache-first.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*task.Customer, error)
}

// AttemptRepository persists contact attempts.
type AttemptRepository interface {
	Create(ctx context.Context, a *attempt.ContactAttempt) error
}

// TaskRepository records task status transitions.
type TaskRepository interface {
	UpdateStatus(ctx context.Context, taskID uuid.UUID, status task.Status, reason string) error
}

// MetricsCollector records call flow metrics.
type MetricsCollector interface {
	RecordDenial(reason string)
	RecordCallInitiated(provider string)
	RecordDialRejected()
	RecordCallFinalized(status string, duration time.Duration)
	SetActiveCalls(n int)
}
