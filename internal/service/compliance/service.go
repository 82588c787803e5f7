package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/cache"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

// frequencyWindow is the rolling window for the daily contact counter. The
// expiry is anchored at the first increment, not at midnight: a customer
// first contacted at 11pm becomes contactable again at 11pm the next day.
// This matches how the counter store expires keys and errs on the side of
// fewer contacts; the retry-after hint still points at the calendar day
// boundary.
const frequencyWindow = 24 * time.Hour

// service implements the compliance gate over a Redis-backed fact store.
type service struct {
	facts  cache.Cache
	audit  AuditStore
	cfg    *config.ComplianceConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a compliance gate.
func NewService(facts cache.Cache, audit AuditStore, cfg *config.ComplianceConfig, logger *zap.Logger) Service {
	return &service{
		facts:  facts,
		audit:  audit,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CanContact runs the checks in order, short-circuiting on the first
// failure: opt-out, consent, frequency, time window. The frequency check is
// an atomic reservation, so two near-simultaneous checks at the last
// remaining daily slot cannot both pass. An approval holds the slot; callers
// that fail to place the contact must return it with ReleaseContact.
func (s *service) CanContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel, timezone string) *compliance.CheckResult {
	if !channel.Valid() {
		return compliance.Denied(fmt.Sprintf("Unknown contact channel %q", channel))
	}

	optedOut, err := s.facts.Exists(ctx, optOutKey(customerID, channel))
	if err != nil {
		return s.failClosed(customerID, channel, "opt-out lookup", err)
	}
	if optedOut {
		return compliance.Denied(fmt.Sprintf("Customer has opted out of %s communications", channel))
	}

	hasConsent, err := s.facts.Exists(ctx, consentKey(customerID, channel))
	if err != nil {
		return s.failClosed(customerID, channel, "consent lookup", err)
	}
	if !hasConsent {
		return compliance.Denied(fmt.Sprintf("No consent on record for %s communications", channel))
	}

	loc, err := time.LoadLocation(s.timezoneOrDefault(timezone))
	if err != nil {
		return s.failClosed(customerID, channel, "timezone resolution", err)
	}
	now := s.now().In(loc)

	count, err := s.facts.IncrementWithTTL(ctx, frequencyKey(customerID, channel), frequencyWindow)
	if err != nil {
		return s.failClosed(customerID, channel, "frequency reservation", err)
	}
	if int(count) > s.cfg.DailyMaxContacts {
		s.releaseSlot(ctx, customerID, channel)
		nextDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
		return compliance.DeniedUntil(
			fmt.Sprintf("Daily %s limit reached (%d per day)", channel, s.cfg.DailyMaxContacts),
			nextDay)
	}

	if channel.TimeRestricted() {
		if result := s.checkTimeWindow(now, channel, loc); result != nil {
			s.releaseSlot(ctx, customerID, channel)
			return result
		}
	}

	return compliance.Approved()
}

// ReleaseContact returns a frequency slot reserved by an approved CanContact
// whose contact was never placed.
func (s *service) ReleaseContact(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error {
	if !channel.Valid() {
		return fmt.Errorf("invalid channel: %s", channel)
	}
	if _, err := s.facts.Decrement(ctx, frequencyKey(customerID, channel)); err != nil {
		return fmt.Errorf("releasing contact slot for %s: %w", channel, err)
	}
	return nil
}

// releaseSlot returns a reservation taken earlier in the same check. A
// failed release errs toward fewer contacts, so it is logged, not raised.
func (s *service) releaseSlot(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) {
	if _, err := s.facts.Decrement(ctx, frequencyKey(customerID, channel)); err != nil {
		s.logger.Error("failed to release frequency reservation",
			zap.String("customer_id", customerID.String()),
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
}

// checkTimeWindow returns nil when the customer's local time falls inside
// [start, end); otherwise a denial pointing at the next window opening.
func (s *service) checkTimeWindow(now time.Time, channel compliance.Channel, loc *time.Location) *compliance.CheckResult {
	hour := now.Hour()
	start, end := s.cfg.CallWindowStart, s.cfg.CallWindowEnd
	if hour >= start && hour < end {
		return nil
	}

	var retryAfter time.Time
	if hour < start {
		retryAfter = time.Date(now.Year(), now.Month(), now.Day(), start, 0, 0, 0, loc)
	} else {
		retryAfter = time.Date(now.Year(), now.Month(), now.Day()+1, start, 0, 0, 0, loc)
	}
	return compliance.DeniedUntil(
		fmt.Sprintf("Outside permitted calling hours (%d:00-%d:00 %s)", start, end, loc.String()),
		retryAfter)
}

// RecordOptOut sets the permanent opt-out flag. Setting an already-set flag
// is a no-op, so the operation is idempotent.
func (s *service) RecordOptOut(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error {
	channels := []compliance.Channel{channel}
	if channel == compliance.ChannelAll {
		channels = compliance.Channels
	}

	for _, ch := range channels {
		if !ch.Valid() {
			return fmt.Errorf("invalid channel: %s", ch)
		}
		// No TTL: opt-outs never expire.
		err := s.facts.Set(ctx, optOutKey(customerID, ch), "1", 0)
		s.appendAudit(ctx, compliance.NewAuditEvent(customerID, ch, compliance.AuditOptOutRecorded, "opt-out recorded"))
		if err != nil {
			return fmt.Errorf("recording opt-out for %s: %w", ch, err)
		}
	}
	return nil
}

// RecordConsent grants consent with an expiry.
func (s *service) RecordConsent(ctx context.Context, customerID uuid.UUID, channel compliance.Channel, validity time.Duration) error {
	if !channel.Valid() {
		return fmt.Errorf("invalid channel: %s", channel)
	}
	if validity <= 0 {
		validity = s.cfg.ConsentValidity
	}

	err := s.facts.Set(ctx, consentKey(customerID, channel), "1", validity)
	event := compliance.NewAuditEvent(customerID, channel, compliance.AuditConsentRecorded,
		fmt.Sprintf("consent recorded, valid %s", validity))
	s.appendAudit(ctx, event)
	if err != nil {
		return fmt.Errorf("recording consent for %s: %w", channel, err)
	}
	return nil
}

// RecordContactAttempt increments the rolling daily counter. The expiry is
// set in the same store-side step that creates the counter, anchoring the
// window to the first contact of the day (see frequencyWindow).
func (s *service) RecordContactAttempt(ctx context.Context, customerID uuid.UUID, channel compliance.Channel) error {
	if !channel.Valid() {
		return fmt.Errorf("invalid channel: %s", channel)
	}

	count, err := s.facts.IncrementWithTTL(ctx, frequencyKey(customerID, channel), frequencyWindow)

	event := compliance.NewAuditEvent(customerID, channel, compliance.AuditContactCounted,
		fmt.Sprintf("contact attempt counted (%d today)", count))
	s.appendAudit(ctx, event)

	if err != nil {
		return fmt.Errorf("counting contact attempt for %s: %w", channel, err)
	}
	return nil
}

// DetectOptOut matches inbound text against the fixed stop-word set.
func (s *service) DetectOptOut(messageText string) bool {
	return compliance.ContainsOptOutKeyword(messageText)
}

// failClosed logs an internal evaluation error and denies the contact.
func (s *service) failClosed(customerID uuid.UUID, channel compliance.Channel, stage string, err error) *compliance.CheckResult {
	s.logger.Error("compliance check failed, denying contact",
		zap.String("customer_id", customerID.String()),
		zap.String("channel", string(channel)),
		zap.String("stage", stage),
		zap.Error(err))
	return compliance.Denied("Compliance status could not be verified; contact blocked")
}

// appendAudit writes an audit event. Audit failures are logged and
// swallowed; they must never abort the primary operation.
func (s *service) appendAudit(ctx context.Context, event *compliance.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Error("failed to append compliance audit event",
			zap.String("customer_id", event.CustomerID.String()),
			zap.String("action", string(event.Action)),
			zap.Error(err))
	}
}

func (s *service) timezoneOrDefault(tz string) string {
	if tz == "" {
		return s.cfg.DefaultTimezone
	}
	return tz
}

func optOutKey(customerID uuid.UUID, channel compliance.Channel) string {
	return fmt.Sprintf("compliance:optout:%s:%s", customerID, channel)
}

func consentKey(customerID uuid.UUID, channel compliance.Channel) string {
	return fmt.Sprintf("compliance:consent:%s:%s", customerID, channel)
}

func frequencyKey(customerID uuid.UUID, channel compliance.Channel) string {
	return fmt.Sprintf("compliance:freq:%s:%s", customerID, channel)
}
