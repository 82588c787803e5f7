package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

func newTestCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(&config.RedisConfig{
		URL:         mr.Addr(),
		DialTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	return c, mr
}

func TestIncrementWithTTL_ExpirySetWithFirstIncrement(t *testing.T) {
	c, mr := newTestCache(t)

	count, err := c.IncrementWithTTL(context.Background(), "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The key and its expiry appear together; there is no window in which
	// the counter exists without a TTL.
	assert.Equal(t, time.Hour, mr.TTL("counter"))

	// Later increments must not push the expiry out.
	mr.FastForward(30 * time.Minute)
	count, err = c.IncrementWithTTL(context.Background(), "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*time.Minute, mr.TTL("counter"))
}

func TestDecrement_DeletesAtZero(t *testing.T) {
	c, mr := newTestCache(t)

	_, err := c.IncrementWithTTL(context.Background(), "counter", time.Hour)
	require.NoError(t, err)

	count, err := c.Decrement(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.False(t, mr.Exists("counter"))

	// Decrementing a missing counter stays floored at zero.
	count, err = c.Decrement(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.False(t, mr.Exists("counter"))
}
