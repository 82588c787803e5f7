package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/attempt"
	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	domainscript "github.com/davidleathers/collections-call-engine/internal/domain/script"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/events"
	"github.com/davidleathers/collections-call-engine/internal/service/orchestrator"
)

const (
	// eventBuffer bounds the per-call event queue. Providers send a
	// handful of status transitions plus one gather per menu, so 32 is
	// generous headroom.
	eventBuffer = 32

	// eventTimeout bounds the downstream work for a single event.
	eventTimeout = 15 * time.Second

	// workerIdleTimeout reclaims the per-call goroutine if the provider
	// stops sending events without ever reporting a terminal status.
	workerIdleTimeout = 10 * time.Minute
)

type eventKind int

const (
	kindStatus eventKind = iota
	kindGather
)

type event struct {
	kind     eventKind
	status   string
	duration int
	digits   string
}

// service fans provider events out to one worker goroutine per call, so
// events for a call are applied in order while distinct calls proceed in
// parallel.
type service struct {
	registry    *orchestrator.ActiveCallRegistry
	engine      MenuEngine
	provider    orchestrator.Provider
	attempts    AttemptFinalizer
	tasks       orchestrator.TaskRepository
	notifier    CompletionNotifier
	callbacks   CallbackScheduler
	escalations EscalationService
	metrics     orchestrator.MetricsCollector
	logger      *zap.Logger

	mu      sync.Mutex
	workers map[string]chan event
	stopped bool

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService wires the event reconciler. The notifier, callback scheduler,
// escalation service and metrics collector are optional.
func NewService(
	registry *orchestrator.ActiveCallRegistry,
	engine MenuEngine,
	provider orchestrator.Provider,
	attempts AttemptFinalizer,
	tasks orchestrator.TaskRepository,
	notifier CompletionNotifier,
	callbacks CallbackScheduler,
	escalations EscalationService,
	metrics orchestrator.MetricsCollector,
	logger *zap.Logger,
) Service {
	return &service{
		registry:    registry,
		engine:      engine,
		provider:    provider,
		attempts:    attempts,
		tasks:       tasks,
		notifier:    notifier,
		callbacks:   callbacks,
		escalations: escalations,
		metrics:     metrics,
		logger:      logger,
		workers:     make(map[string]chan event),
		quit:        make(chan struct{}),
	}
}

// HandleStatusEvent enqueues a provider status transition. Events for call
// ids the engine does not track are logged and dropped; a crashed or
// restarted engine must not fail the provider's webhook delivery.
func (s *service) HandleStatusEvent(ctx context.Context, providerCallID, providerStatus string, durationSeconds int) {
	if _, ok := s.registry.Get(providerCallID); !ok {
		s.logger.Warn("dropping status event for unknown call",
			zap.String("provider_call_id", providerCallID),
			zap.String("status", providerStatus))
		return
	}
	s.enqueue(providerCallID, event{kind: kindStatus, status: providerStatus, duration: durationSeconds})
}

// HandleGatherEvent enqueues a customer key press.
func (s *service) HandleGatherEvent(ctx context.Context, providerCallID, digits string) {
	if _, ok := s.registry.Get(providerCallID); !ok {
		s.logger.Warn("dropping gather event for unknown call",
			zap.String("provider_call_id", providerCallID))
		return
	}
	s.enqueue(providerCallID, event{kind: kindGather, digits: digits})
}

// Stop signals every worker and waits for in-flight events to finish.
func (s *service) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.quit)
	})
	s.wg.Wait()
}

func (s *service) enqueue(providerCallID string, ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	ch, ok := s.workers[providerCallID]
	if !ok {
		ch = make(chan event, eventBuffer)
		s.workers[providerCallID] = ch
		s.wg.Add(1)
		go s.run(providerCallID, ch)
	}

	select {
	case ch <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event",
			zap.String("provider_call_id", providerCallID))
	}
}

func (s *service) run(providerCallID string, ch chan event) {
	defer s.wg.Done()

	idle := time.NewTimer(workerIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case ev := <-ch:
			if s.process(providerCallID, ev) {
				s.removeWorker(providerCallID)
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(workerIdleTimeout)

		case <-idle.C:
			s.logger.Warn("call received no events before idle timeout, abandoning worker",
				zap.String("provider_call_id", providerCallID))
			s.removeWorker(providerCallID)
			return

		case <-s.quit:
			s.removeWorker(providerCallID)
			return
		}
	}
}

func (s *service) removeWorker(providerCallID string) {
	s.mu.Lock()
	delete(s.workers, providerCallID)
	s.mu.Unlock()
}

// process applies one event and reports whether the call reached a
// terminal state. Processing runs on a detached context: the originating
// webhook request has already been answered.
func (s *service) process(providerCallID string, ev event) bool {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	c, ok := s.registry.Get(providerCallID)
	if !ok {
		// The call finished between enqueue and processing.
		s.logger.Warn("dropping event for unknown call",
			zap.String("provider_call_id", providerCallID))
		return true
	}

	switch ev.kind {
	case kindStatus:
		return s.processStatus(ctx, c, ev)
	case kindGather:
		s.processGather(ctx, c, ev)
	}
	return false
}

func (s *service) processStatus(ctx context.Context, c *call.ActiveCall, ev event) bool {
	status, ok := call.ParseProviderStatus(ev.status)
	if !ok {
		s.logger.Warn("unrecognized provider status",
			zap.String("provider_call_id", c.ProviderCallID),
			zap.String("status", ev.status))
		return false
	}

	s.registry.Update(c.ProviderCallID, func(ac *call.ActiveCall) {
		ac.UpdateStatus(status)
	})

	if !status.IsTerminal() {
		return false
	}

	s.finalize(ctx, c, status, ev.duration)
	return true
}

// finalize seals the attempt, settles the task, deregisters the call and
// notifies the scheduler. Downstream failures are logged and never block
// deregistration; the registry must not leak finished calls.
func (s *service) finalize(ctx context.Context, c *call.ActiveCall, status call.Status, durationSeconds int) {
	logger := s.logger.With(
		zap.String("provider_call_id", c.ProviderCallID),
		zap.String("task_id", c.TaskID.String()))

	outcome := attempt.FromCallStatus(status)
	metadata := map[string]interface{}{
		"provider_status": status.String(),
	}
	if len(c.UserInputs) > 0 {
		metadata["user_inputs"] = c.UserInputs
	}
	if c.Resolution != "" {
		metadata["resolution"] = c.Resolution
	}
	if err := s.attempts.FinalizeByID(ctx, c.AttemptID, outcome, durationSeconds, metadata); err != nil {
		logger.Error("failed to finalize contact attempt", zap.Error(err))
	}

	taskStatus := task.StatusFailed
	reason := fmt.Sprintf("Call ended with status %s", status)
	if status == call.StatusCompleted {
		taskStatus = task.StatusCompleted
		reason = ""
	}
	if err := s.tasks.UpdateStatus(ctx, c.TaskID, taskStatus, reason); err != nil {
		logger.Error("failed to settle task status", zap.Error(err))
	}

	s.registry.Remove(c.ProviderCallID)

	if s.notifier != nil {
		notification := &events.CompletionNotification{
			TaskID:          c.TaskID,
			CustomerID:      c.CustomerID,
			Outcome:         string(outcome),
			Resolution:      c.Resolution,
			DurationSeconds: durationSeconds,
			OccurredAt:      time.Now().UTC(),
		}
		if err := s.notifier.PublishCompletion(ctx, notification); err != nil {
			logger.Error("failed to publish completion notification", zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCallFinalized(status.String(), time.Duration(durationSeconds)*time.Second)
	}

	logger.Info("call finalized",
		zap.String("status", status.String()),
		zap.Int("duration_seconds", durationSeconds))
}

func (s *service) processGather(ctx context.Context, c *call.ActiveCall, ev event) {
	logger := s.logger.With(
		zap.String("provider_call_id", c.ProviderCallID),
		zap.String("digits", ev.digits))

	s.registry.Update(c.ProviderCallID, func(ac *call.ActiveCall) {
		ac.AppendInput(ev.digits)
	})

	sc, err := s.engine.Script(c.ScriptName)
	if err != nil {
		logger.Error("script missing for active call",
			zap.String("script", c.ScriptName), zap.Error(err))
		return
	}

	result, err := s.engine.MenuResponse(sc, ev.digits, c.Variables)
	if err != nil {
		logger.Error("failed to build menu response", zap.Error(err))
		return
	}

	if result.EndsCall {
		// The markup hangs the call up after playing; remember how it was
		// resolved for the finalization that follows the terminal webhook.
		s.registry.Update(c.ProviderCallID, func(ac *call.ActiveCall) {
			ac.Resolution = string(result.Action)
		})
	}

	switch result.Action {
	case domainscript.ActionScheduleCallback:
		if s.callbacks != nil {
			if err := s.callbacks.ScheduleCallback(ctx, c.CustomerID, c.TaskID, result.ActionValue); err != nil {
				logger.Error("failed to schedule callback", zap.Error(err))
			}
		}
	case domainscript.ActionEscalate:
		if s.escalations != nil {
			if err := s.escalations.Escalate(ctx, c.CustomerID, c.TaskID, result.ActionValue); err != nil {
				logger.Error("failed to escalate call", zap.Error(err))
			}
		}
	}

	if err := s.provider.UpdateCall(ctx, c.ProviderCallID, result.Markup); err != nil {
		// The call keeps playing its previous markup; the terminal status
		// webhook still reconciles the outcome.
		logger.Error("failed to deliver menu response", zap.Error(err))
	}
}
