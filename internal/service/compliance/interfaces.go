package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
)

// Service is the compliance gate. Every outbound contact must pass
// CanContact first; the recording operations maintain the facts the checks
// read. All checks fail closed: an internal error is a denial, never an
// approval.
type Service interface {
	// CanContact evaluates opt-out, consent, frequency, and time-window
	// policy for one (customer, channel) pair. The timezone is the
	// customer's local zone for the calling-hours check. An approval
	// atomically reserves the frequency slot; a caller that fails to place
	// the contact must return it with ReleaseContact.
	CanContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel, timezone string) *compliance.CheckResult

	// ReleaseContact returns a frequency slot reserved by CanContact whose
	// contact was never placed.
	ReleaseContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error

	// RecordOptOut permanently blocks a channel for a customer. Passing
	// ChannelAll fans out to every channel. Idempotent.
	RecordOptOut(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error

	// RecordConsent grants time-bounded consent on a channel. A zero
	// validity uses the configured default.
	RecordConsent(ctx context.Context, customerID uuid.UUID, channel compliance.Channel, validity time.Duration) error

	// RecordContactAttempt counts one contact against the rolling daily
	// frequency limit. Contacts placed through CanContact are already
	// counted by the reservation; this is for contacts made outside it.
	RecordContactAttempt(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error

	// DetectOptOut reports whether inbound message text contains an
	// opt-out keyword.
	DetectOptOut(messageText string) bool
}

// AuditStore appends immutable compliance audit events. Implementations are
// long-retention; the gate never reads them back.
type AuditStore interface {
	Append(ctx context.Context, event *compliance.AuditEvent) error
}
