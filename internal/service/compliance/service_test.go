package compliance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/cache"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

func testConfig() *config.ComplianceConfig {
	return &config.ComplianceConfig{
		DailyMaxContacts: 5,
		CallWindowStart:  8,
		CallWindowEnd:    21,
		ConsentValidity:  365 * 24 * time.Hour,
		DefaultTimezone:  "America/New_York",
	}
}

func newTestService(t *testing.T) (*service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	facts, err := cache.NewRedisCache(&config.RedisConfig{
		URL:         mr.Addr(),
		DialTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	svc := NewService(facts, nil, testConfig(), zaptest.NewLogger(t)).(*service)
	// A Tuesday at noon Eastern, well inside the calling window.
	svc.now = func() time.Time {
		return time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC)
	}
	return svc, mr
}

func grantConsent(t *testing.T, svc *service, customerID uuid.UUID, channel compliance.Channel) {
	t.Helper()
	require.NoError(t, svc.RecordConsent(context.Background(), customerID, channel, 0))
}

func TestCanContact_ApprovedWithConsent(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Reason)
	assert.Nil(t, result.RetryAfter)

	// The approval reserved the frequency slot.
	count, err := mr.Get(frequencyKey(customerID, compliance.ChannelPhone))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestCanContact_DeniedWithoutConsent(t *testing.T) {
	svc, _ := newTestService(t)

	result := svc.CanContact(context.Background(), uuid.New(), compliance.ChannelPhone, "")

	assert.False(t, result.Allowed)
	assert.Equal(t, "No consent on record for phone communications", result.Reason)
}

func TestCanContact_OptOutDominatesConsent(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)
	require.NoError(t, svc.RecordOptOut(context.Background(), customerID, compliance.ChannelPhone))

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "")

	assert.False(t, result.Allowed)
	assert.Equal(t, "Customer has opted out of phone communications", result.Reason)
}

func TestCanContact_DeniedAtDailyLimit(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	for i := 0; i < svc.cfg.DailyMaxContacts; i++ {
		require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))
	}

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")

	assert.False(t, result.Allowed)
	assert.Equal(t, "Daily phone limit reached (5 per day)", result.Reason)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	require.NotNil(t, result.RetryAfter)
	assert.True(t, result.RetryAfter.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, loc)),
		"retry-after should be the next local midnight, got %s", result.RetryAfter)

	// The denied reservation was rolled back.
	count, err := mr.Get(frequencyKey(customerID, compliance.ChannelPhone))
	require.NoError(t, err)
	assert.Equal(t, "5", count)
}

func TestCanContact_AllowedBelowDailyLimit(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	for i := 0; i < svc.cfg.DailyMaxContacts-1; i++ {
		require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))
	}

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")
	assert.True(t, result.Allowed)
}

func TestCanContact_LastSlotGrantedOnlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	for i := 0; i < svc.cfg.DailyMaxContacts-1; i++ {
		require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))
	}

	// Two checks racing for the last slot: the reservation means only the
	// first can win, no matter how close together they land.
	first := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")
	second := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.Equal(t, "Daily phone limit reached (5 per day)", second.Reason)
}

func TestReleaseContact_ReturnsReservedSlot(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	for i := 0; i < svc.cfg.DailyMaxContacts-1; i++ {
		require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))
	}

	require.True(t, svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York").Allowed)
	require.False(t, svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York").Allowed)

	// The dial never happened; releasing frees the slot again.
	require.NoError(t, svc.ReleaseContact(context.Background(), customerID, compliance.ChannelPhone))
	assert.True(t, svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York").Allowed)
}

func TestCanContact_TimeWindowDenialReleasesReservation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	svc, mr := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 3, 23, 0, 0, 0, loc) }

	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Outside permitted calling hours")
	assert.False(t, mr.Exists(frequencyKey(customerID, compliance.ChannelPhone)),
		"a window denial must not consume a frequency slot")
}

func TestCanContact_OutsideCallingHours(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name       string
		localNow   time.Time
		wantAllow  bool
		wantRetry  time.Time
	}{
		{
			name:      "before window opens",
			localNow:  time.Date(2026, 3, 3, 7, 59, 0, 0, loc),
			wantAllow: false,
			wantRetry: time.Date(2026, 3, 3, 8, 0, 0, 0, loc),
		},
		{
			name:      "window just opened",
			localNow:  time.Date(2026, 3, 3, 8, 0, 0, 0, loc),
			wantAllow: true,
		},
		{
			name:      "last permitted hour",
			localNow:  time.Date(2026, 3, 3, 20, 59, 0, 0, loc),
			wantAllow: true,
		},
		{
			name:      "window just closed",
			localNow:  time.Date(2026, 3, 3, 21, 0, 0, 0, loc),
			wantAllow: false,
			wantRetry: time.Date(2026, 3, 4, 8, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			svc.now = func() time.Time { return tt.localNow }

			customerID := uuid.New()
			grantConsent(t, svc, customerID, compliance.ChannelPhone)

			result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "America/New_York")

			assert.Equal(t, tt.wantAllow, result.Allowed)
			if !tt.wantAllow {
				assert.Contains(t, result.Reason, "Outside permitted calling hours")
				require.NotNil(t, result.RetryAfter)
				assert.True(t, result.RetryAfter.Equal(tt.wantRetry),
					"want retry-after %s, got %s", tt.wantRetry, result.RetryAfter)
			}
		})
	}
}

func TestCanContact_EmailIgnoresCallingHours(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	svc, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 3, 3, 0, 0, 0, loc) }

	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelEmail)

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelEmail, "America/New_York")
	assert.True(t, result.Allowed)
}

func TestCanContact_FailsClosedOnStoreError(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()
	grantConsent(t, svc, customerID, compliance.ChannelPhone)

	mr.SetError("store unavailable")

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "")

	assert.False(t, result.Allowed)
	assert.Equal(t, "Compliance status could not be verified; contact blocked", result.Reason)
}

func TestCanContact_UnknownChannel(t *testing.T) {
	svc, _ := newTestService(t)

	result := svc.CanContact(context.Background(), uuid.New(), compliance.Channel("fax"), "")

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Unknown contact channel")
}

func TestRecordOptOut_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()

	require.NoError(t, svc.RecordOptOut(context.Background(), customerID, compliance.ChannelPhone))
	require.NoError(t, svc.RecordOptOut(context.Background(), customerID, compliance.ChannelPhone))

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "")
	assert.False(t, result.Allowed)
}

func TestRecordOptOut_AllChannelsFansOut(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()

	require.NoError(t, svc.RecordOptOut(context.Background(), customerID, compliance.ChannelAll))

	for _, ch := range compliance.Channels {
		assert.True(t, mr.Exists(fmt.Sprintf("compliance:optout:%s:%s", customerID, ch)),
			"expected opt-out flag for channel %s", ch)
	}
}

func TestRecordOptOut_NeverExpires(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()

	require.NoError(t, svc.RecordOptOut(context.Background(), customerID, compliance.ChannelSMS))

	key := fmt.Sprintf("compliance:optout:%s:%s", customerID, compliance.ChannelSMS)
	assert.Equal(t, time.Duration(0), mr.TTL(key))
}

func TestRecordConsent_ExpiresAfterValidity(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()

	require.NoError(t, svc.RecordConsent(context.Background(), customerID, compliance.ChannelPhone, 48*time.Hour))

	key := fmt.Sprintf("compliance:consent:%s:%s", customerID, compliance.ChannelPhone)
	assert.Equal(t, 48*time.Hour, mr.TTL(key))

	mr.FastForward(49 * time.Hour)

	result := svc.CanContact(context.Background(), customerID, compliance.ChannelPhone, "")
	assert.False(t, result.Allowed)
	assert.Equal(t, "No consent on record for phone communications", result.Reason)
}

func TestRecordContactAttempt_WindowAnchoredAtFirstContact(t *testing.T) {
	svc, mr := newTestService(t)
	customerID := uuid.New()

	require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))

	key := fmt.Sprintf("compliance:freq:%s:%s", customerID, compliance.ChannelPhone)
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	// A later attempt must not push the expiry out.
	mr.FastForward(6 * time.Hour)
	require.NoError(t, svc.RecordContactAttempt(context.Background(), customerID, compliance.ChannelPhone))
	assert.Equal(t, 18*time.Hour, mr.TTL(key))
}

func TestDetectOptOut(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		text string
		want bool
	}{
		{"STOP", true},
		{"stop", true},
		{"Please STOP calling me", true},
		{"unsubscribe me now", true},
		{"I want to cancel.", true},
		{"nonstop", false},
		{"stopped", false},
		{"", false},
		{"call me back tomorrow", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.DetectOptOut(tt.text), "text: %q", tt.text)
	}
}
