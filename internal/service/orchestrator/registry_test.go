package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	domainerrors "github.com/davidleathers/collections-call-engine/internal/domain/errors"
)

type endingProvider struct {
	mu     sync.Mutex
	ended  []string
	endErr error
}

func (p *endingProvider) CreateCall(ctx context.Context, req *call.DialRequest) (*call.DialResponse, error) {
	return &call.DialResponse{ProviderCallID: "CA-test"}, nil
}

func (p *endingProvider) UpdateCall(ctx context.Context, providerCallID, markup string) error {
	return nil
}

func (p *endingProvider) EndCall(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, providerCallID)
	return p.endErr
}

func (p *endingProvider) Name() string { return "test" }

func (p *endingProvider) endedCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ended...)
}

func newTestCall(id string) *call.ActiveCall {
	return call.NewActiveCall(id, uuid.New(), uuid.New(), uuid.New(), "+15550100001", "payment_reminder")
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)

	c := newTestCall("CA1")
	require.NoError(t, r.Register(c))

	got, ok := r.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, c.TaskID, got.TaskID)
	assert.Equal(t, 1, r.Count())

	_, ok = r.Get("CA2")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)

	require.NoError(t, r.Register(newTestCall("CA1")))
	err := r.Register(newTestCall("CA1"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeConflict))
}

func TestRegistry_UpdateAndRemove(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)
	require.NoError(t, r.Register(newTestCall("CA1")))

	ok := r.Update("CA1", func(c *call.ActiveCall) {
		c.UpdateStatus(call.StatusAnswered)
		c.AppendInput("1")
	})
	require.True(t, ok)

	got, _ := r.Get("CA1")
	assert.Equal(t, call.StatusAnswered, got.Status)
	assert.Equal(t, []string{"1"}, got.UserInputs)

	r.Remove("CA1")
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Update("CA1", func(*call.ActiveCall) {}))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("CA-%d", n)
			require.NoError(t, r.Register(newTestCall(id)))
			r.Update(id, func(c *call.ActiveCall) { c.UpdateStatus(call.StatusRinging) })
			r.Get(id)
			r.Remove(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ShutdownDrainsCleanly(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)
	provider := &endingProvider{}

	require.NoError(t, r.Register(newTestCall("CA1")))
	require.NoError(t, r.Register(newTestCall("CA2")))

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Remove("CA1")
		r.Remove("CA2")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.Shutdown(ctx, provider)

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, provider.endedCalls(), "cleanly drained calls must not be force-ended")
}

func TestRegistry_ShutdownForceTerminatesStuckCalls(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)
	provider := &endingProvider{endErr: fmt.Errorf("provider unavailable")}

	require.NoError(t, r.Register(newTestCall("CA1")))
	require.NoError(t, r.Register(newTestCall("CA2")))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	r.Shutdown(ctx, provider)

	// Even with the provider failing every end-call, the registry must be
	// empty so process shutdown can proceed.
	assert.Equal(t, 0, r.Count())
	assert.ElementsMatch(t, []string{"CA1", "CA2"}, provider.endedCalls())
}

func TestRegistry_RejectsRegistrationWhileDraining(t *testing.T) {
	r := NewActiveCallRegistry(zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r.Shutdown(ctx, &endingProvider{})

	assert.True(t, r.Draining())
	err := r.Register(newTestCall("CA1"))
	assert.ErrorIs(t, err, domainerrors.ErrRegistryDraining)
}
