package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

type countingSource struct {
	customer *task.Customer
	lookups  int
}

func (s *countingSource) GetCustomer(ctx context.Context, id uuid.UUID) (*task.Customer, error) {
	s.lookups++
	if s.customer == nil || s.customer.ID != id {
		return nil, domainerrors.ErrCustomerNotFound
	}
	return s.customer, nil
}

func newTestCustomerCache(t *testing.T, source CustomerSource) (*CustomerCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(&config.RedisConfig{
		URL:         mr.Addr(),
		DialTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	return NewCustomerCache(c, source, 10*time.Minute, zaptest.NewLogger(t)), mr
}

func TestCustomerCache_MissFallsThroughAndCaches(t *testing.T) {
	customer := &task.Customer{ID: uuid.New(), FirstName: "Jane", LastName: "Doe", PhoneNumber: "+15550100001"}
	source := &countingSource{customer: customer}
	cc, _ := newTestCustomerCache(t, source)

	got, err := cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, 1, source.lookups)

	// Second read is served from the cache.
	got, err = cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, got.ID)
	assert.Equal(t, 1, source.lookups)
}

func TestCustomerCache_EntryExpires(t *testing.T) {
	customer := &task.Customer{ID: uuid.New(), FirstName: "Jane"}
	source := &countingSource{customer: customer}
	cc, mr := newTestCustomerCache(t, source)

	_, err := cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	_, err = cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.lookups)
}

func TestCustomerCache_Invalidate(t *testing.T) {
	customer := &task.Customer{ID: uuid.New(), FirstName: "Jane"}
	source := &countingSource{customer: customer}
	cc, _ := newTestCustomerCache(t, source)

	_, err := cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	require.NoError(t, cc.Invalidate(context.Background(), customer.ID))

	_, err = cc.GetCustomer(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.lookups)
}

func TestCustomerCache_SourceErrorPropagates(t *testing.T) {
	cc, _ := newTestCustomerCache(t, &countingSource{})

	_, err := cc.GetCustomer(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrCustomerNotFound)
}
