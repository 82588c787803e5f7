package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
)

// drainPollInterval is how often Shutdown re-checks for in-flight calls.
const drainPollInterval = 250 * time.Millisecond

// forceEndTimeout bounds each forced end-call request after the drain
// deadline has elapsed.
const forceEndTimeout = 5 * time.Second

// ActiveCallRegistry is the concurrent table of in-flight calls, keyed by
// provider call id. Mutations are short in-memory operations; no lock is
// ever held across a provider call.
type ActiveCallRegistry struct {
	mu      sync.RWMutex
	calls   map[string]*call.ActiveCall
	closed  bool
	logger  *zap.Logger
	metrics MetricsCollector
}

func NewActiveCallRegistry(logger *zap.Logger, metrics MetricsCollector) *ActiveCallRegistry {
	return &ActiveCallRegistry{
		calls:   make(map[string]*call.ActiveCall),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds an in-flight call. Fails once shutdown has begun.
func (r *ActiveCallRegistry) Register(c *call.ActiveCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.ErrRegistryDraining
	}
	if _, exists := r.calls[c.ProviderCallID]; exists {
		return errors.NewConflictError("call already registered").WithDetails(map[string]interface{}{
			"provider_call_id": c.ProviderCallID,
		})
	}
	r.calls[c.ProviderCallID] = c
	r.reportSize()
	return nil
}

// Get returns the active call for a provider call id.
func (r *ActiveCallRegistry) Get(providerCallID string) (*call.ActiveCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[providerCallID]
	return c, ok
}

// Update applies fn to the entry under the registry lock.
func (r *ActiveCallRegistry) Update(providerCallID string, fn func(*call.ActiveCall)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[providerCallID]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Remove deletes the entry for a finished call.
func (r *ActiveCallRegistry) Remove(providerCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, providerCallID)
	r.reportSize()
}

// Count returns the number of in-flight calls.
func (r *ActiveCallRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Draining reports whether shutdown has begun.
func (r *ActiveCallRegistry) Draining() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Snapshot copies the current entries so callers can iterate without
// holding the lock.
func (r *ActiveCallRegistry) Snapshot() []*call.ActiveCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*call.ActiveCall, 0, len(r.calls))
	for _, c := range r.calls {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Shutdown drains the registry: stop accepting new calls, wait for
// in-flight calls to finish until ctx expires, then force-terminate
// whatever remains. The registry is unconditionally empty afterwards so
// process shutdown never blocks on a stuck provider call.
func (r *ActiveCallRegistry) Shutdown(ctx context.Context, provider Provider) {
	r.mu.Lock()
	r.closed = true
	remaining := len(r.calls)
	r.mu.Unlock()

	r.logger.Info("draining active call registry", zap.Int("in_flight", remaining))

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for r.Count() > 0 {
		select {
		case <-ctx.Done():
			r.forceTerminate(provider)
			return
		case <-ticker.C:
		}
	}

	r.logger.Info("active call registry drained cleanly")
}

func (r *ActiveCallRegistry) forceTerminate(provider Provider) {
	stuck := r.Snapshot()
	r.logger.Warn("drain deadline elapsed, force-ending remaining calls",
		zap.Int("stuck", len(stuck)))

	for _, c := range stuck {
		endCtx, cancel := context.WithTimeout(context.Background(), forceEndTimeout)
		if err := provider.EndCall(endCtx, c.ProviderCallID); err != nil {
			// Logged, never raised: the provider owns the call at this
			// point and the process must still exit.
			r.logger.Error("forced call termination failed",
				zap.String("provider_call_id", c.ProviderCallID),
				zap.String("task_id", c.TaskID.String()),
				zap.Error(err))
		}
		cancel()
	}

	r.mu.Lock()
	r.calls = make(map[string]*call.ActiveCall)
	r.mu.Unlock()
	r.reportSizeLocked(0)
}

func (r *ActiveCallRegistry) reportSize() {
	if r.metrics != nil {
		r.metrics.SetActiveCalls(len(r.calls))
	}
}

func (r *ActiveCallRegistry) reportSizeLocked(n int) {
	if r.metrics != nil {
		r.metrics.SetActiveCalls(n)
	}
}
