package compliance

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a contact channel governed by the compliance gate.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"

	// ChannelAll fans an opt-out request out to every channel.
	ChannelAll Channel = "all"
)

// Channels enumerates the concrete channels ChannelAll expands to.
var Channels = []Channel{ChannelPhone, ChannelSMS, ChannelEmail}

func (c Channel) Valid() bool {
	switch c {
	case ChannelPhone, ChannelSMS, ChannelEmail:
		return true
	default:
		return false
	}
}

// TimeRestricted reports whether calling-hour windows apply to the channel.
// Email carries no time-of-day restriction under TCPA.
func (c Channel) TimeRestricted() bool {
	return c == ChannelPhone || c == ChannelSMS
}

// CheckResult is the outcome of a canContact evaluation.
type CheckResult struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// Approved returns an allowing result.
func Approved() *CheckResult {
	return &CheckResult{Allowed: true}
}

// Denied returns a permanent denial with a human-readable reason.
func Denied(reason string) *CheckResult {
	return &CheckResult{Allowed: false, Reason: reason}
}

// DeniedUntil returns a denial that becomes retryable at the given time.
func DeniedUntil(reason string, retryAfter time.Time) *CheckResult {
	return &CheckResult{Allowed: false, Reason: reason, RetryAfter: &retryAfter}
}

// AuditAction names a compliance-relevant mutation for the audit trail.
type AuditAction string

const (
	AuditOptOutRecorded   AuditAction = "opt_out_recorded"
	AuditOptOutDetected   AuditAction = "opt_out_detected"
	AuditConsentRecorded  AuditAction = "consent_recorded"
	AuditContactCounted   AuditAction = "contact_counted"
)

// AuditEvent is an immutable, long-retention record of a compliance mutation.
// Events are append-only; nothing in this system updates or deletes them.
type AuditEvent struct {
	ID         uuid.UUID              `json:"id"`
	CustomerID uuid.UUID              `json:"customer_id"`
	Channel    Channel                `json:"channel"`
	Action     AuditAction            `json:"action"`
	Detail     string                 `json:"detail,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewAuditEvent creates an audit event stamped with the current time.
func NewAuditEvent(customerID uuid.UUID, channel Channel, action AuditAction, detail string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New(),
		CustomerID: customerID,
		Channel:    channel,
		Action:     action,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// optOutKeywords is the fixed stop-word set recognized in inbound messages.
var optOutKeywords = []string{"STOP", "UNSUBSCRIBE", "CANCEL", "END", "QUIT", "OPTOUT"}

// ContainsOptOutKeyword reports whether the message text contains an opt-out
// keyword. Matching is case-insensitive and word-bounded, so "CANCEL" in
// "please cancel everything" matches but "stopover" does not.
func ContainsOptOutKeyword(messageText string) bool {
	for _, word := range strings.FieldsFunc(messageText, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	}) {
		upper := strings.ToUpper(word)
		for _, kw := range optOutKeywords {
			if upper == kw {
				return true
			}
		}
	}
	return false
}
