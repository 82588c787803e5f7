package attempt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
)

func TestFromCallStatus(t *testing.T) {
	assert.Equal(t, StatusCompleted, FromCallStatus(call.StatusCompleted))
	assert.Equal(t, StatusBusy, FromCallStatus(call.StatusBusy))
	assert.Equal(t, StatusNoAnswer, FromCallStatus(call.StatusNoAnswer))
	assert.Equal(t, StatusFailed, FromCallStatus(call.StatusFailed))
	// Non-terminal statuses should never reach finalization; mapping them
	// to failed is the safe default.
	assert.Equal(t, StatusFailed, FromCallStatus(call.StatusRinging))
}

func TestFinalizeSealsAttempt(t *testing.T) {
	a := NewProvisional(uuid.New(), uuid.New(), compliance.ChannelPhone)
	require.Equal(t, StatusInProgress, a.Status)
	require.False(t, a.Finalized())

	err := a.Finalize(StatusCompleted, 42, map[string]interface{}{"provider_status": "completed"})
	require.NoError(t, err)

	assert.True(t, a.Finalized())
	assert.Equal(t, StatusCompleted, a.Status)
	require.NotNil(t, a.DurationSeconds)
	assert.Equal(t, 42, *a.DurationSeconds)
	assert.Equal(t, "completed", a.Metadata["provider_status"])
}

func TestFinalizeTwiceFails(t *testing.T) {
	a := NewProvisional(uuid.New(), uuid.New(), compliance.ChannelPhone)
	require.NoError(t, a.Finalize(StatusCompleted, 10, nil))

	err := a.Finalize(StatusFailed, 0, nil)
	assert.ErrorIs(t, err, errors.ErrAttemptFinalized)

	// The first outcome is untouched.
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 10, *a.DurationSeconds)
}
