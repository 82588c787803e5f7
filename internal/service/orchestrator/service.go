package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/collections-call-engine/internal/domain/attempt"
	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

// service implements the call orchestrator.
type service struct {
	gate      ComplianceGate
	engine    ScriptEngine
	provider  Provider
	customers CustomerDirectory
	registry  *ActiveCallRegistry
	attempts  AttemptRepository
	tasks     TaskRepository
	metrics   MetricsCollector
	limiter   *rate.Limiter
	cfg       *config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService wires the orchestrator. All collaborators are injected; the
// orchestrator holds no global state.
func NewService(
	gate ComplianceGate,
	engine ScriptEngine,
	provider Provider,
	customers CustomerDirectory,
	registry *ActiveCallRegistry,
	attempts AttemptRepository,
	tasks TaskRepository,
	metrics MetricsCollector,
	cfg *config.Config,
	logger *zap.Logger,
) Service {
	return &service{
		gate:      gate,
		engine:    engine,
		provider:  provider,
		customers: customers,
		registry:  registry,
		attempts:  attempts,
		tasks:     tasks,
		metrics:   metrics,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Orchestrator.DialsPerSec), cfg.Orchestrator.DialBurst),
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("orchestrator"),
	}
}

// HandleTask runs one contact task up to the accepted dial. Policy denials
// finalize the task as failed without creating a contact attempt; only an
// approved, dialed contact produces an attempt record.
func (s *service) HandleTask(ctx context.Context, t *task.ContactTask) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator.handle_task",
		trace.WithAttributes(
			attribute.String("task.id", t.ID.String()),
			attribute.String("task.channel", string(t.Channel)),
		))
	defer span.End()

	logger := s.logger.With(
		zap.String("task_id", t.ID.String()),
		zap.String("customer_id", t.CustomerID.String()))

	if s.registry.Draining() {
		return errors.ErrRegistryDraining
	}

	customer, err := s.customers.GetCustomer(ctx, t.CustomerID)
	if err != nil {
		span.RecordError(err)
		s.failTask(ctx, t, "Customer record could not be resolved")
		return errors.Wrap(err, "resolving customer")
	}

	result := s.gate.CanContact(ctx, t.CustomerID, t.Channel, customer.Timezone)
	if !result.Allowed {
		// A denial is a policy event, not a contact event: no attempt
		// record is created.
		logger.Info("contact denied by compliance gate",
			zap.String("reason", result.Reason),
			zap.Timep("retry_after", result.RetryAfter))
		s.metrics.RecordDenial(result.Reason)
		s.failTask(ctx, t, result.Reason)
		return nil
	}

	// The approval holds a frequency slot; every path below that fails to
	// place the call must give the slot back.
	release := func() {
		if err := s.gate.ReleaseContact(ctx, t.CustomerID, t.Channel); err != nil {
			logger.Error("failed to release contact slot", zap.Error(err))
		}
	}

	sc, err := s.engine.Script(t.ScriptName)
	if err != nil {
		span.RecordError(err)
		release()
		s.failTask(ctx, t, fmt.Sprintf("Call script %q is not configured", t.ScriptName))
		return err
	}

	vars := s.templateVariables(t, customer)
	markup, err := s.engine.Render(sc, vars)
	if err != nil {
		span.RecordError(err)
		release()
		s.failTask(ctx, t, "Call script could not be rendered")
		return errors.Wrap(err, "rendering script")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		release()
		return errors.Wrap(err, "waiting for dial slot")
	}

	provisional := attempt.NewProvisional(t.ID, t.AgentID, t.Channel)
	provisional.Metadata["phone_number"] = customer.PhoneNumber
	provisional.Metadata["script"] = t.ScriptName

	resp, err := s.provider.CreateCall(ctx, &call.DialRequest{
		To:                   customer.PhoneNumber,
		From:                 s.cfg.Provider.FromNumber,
		Markup:               markup,
		RingTimeout:          s.cfg.Provider.RingTimeout,
		Record:               s.cfg.Provider.RecordCalls,
		StatusCallbackURL:    s.webhookURL("status"),
		GatherCallbackURL:    s.webhookURL("gather"),
		StatusCallbackEvents: []string{"initiated", "ringing", "answered", "completed"},
	})
	if err != nil {
		// Dial rejections are not retried here; retry policy belongs to
		// the external scheduler.
		span.RecordError(err)
		s.metrics.RecordDialRejected()
		release()
		s.recordFailedDial(ctx, provisional, err)
		s.failTask(ctx, t, "Telephony provider rejected the call")
		return err
	}

	provisional.Metadata["provider_call_id"] = resp.ProviderCallID

	active := call.NewActiveCall(resp.ProviderCallID, t.ID, t.CustomerID, provisional.ID,
		customer.PhoneNumber, t.ScriptName)
	active.Variables = vars
	if err := s.registry.Register(active); err != nil {
		// The provider accepted the dial but nothing tracks the call now:
		// its webhooks would be dropped and shutdown would never see it.
		// End it rather than leave it live and orphaned.
		span.RecordError(err)
		if endErr := s.provider.EndCall(ctx, resp.ProviderCallID); endErr != nil {
			logger.Error("failed to end untracked call",
				zap.String("provider_call_id", resp.ProviderCallID),
				zap.Error(endErr))
		}
		release()
		s.recordFailedDial(ctx, provisional, err)
		s.failTask(ctx, t, "Call could not be tracked and was terminated")
		return errors.Wrap(err, "registering active call")
	}

	if err := s.attempts.Create(ctx, provisional); err != nil {
		// The call is already in flight; losing the provisional row is
		// recoverable at finalization, so log and continue.
		logger.Error("failed to persist provisional attempt", zap.Error(err))
	}

	if err := s.tasks.UpdateStatus(ctx, t.ID, task.StatusInProgress, ""); err != nil {
		logger.Error("failed to mark task in progress", zap.Error(err))
	}

	s.metrics.RecordCallInitiated(s.provider.Name())
	logger.Info("call initiated",
		zap.String("provider_call_id", resp.ProviderCallID),
		zap.String("script", t.ScriptName))

	return nil
}

// recordFailedDial persists an attempt finalized as failed at dial time.
func (s *service) recordFailedDial(ctx context.Context, provisional *attempt.ContactAttempt, dialErr error) {
	if err := provisional.Finalize(attempt.StatusFailed, 0, map[string]interface{}{
		"error": dialErr.Error(),
	}); err != nil {
		s.logger.Error("failed to finalize rejected dial attempt", zap.Error(err))
		return
	}
	if err := s.attempts.Create(ctx, provisional); err != nil {
		s.logger.Error("failed to persist rejected dial attempt", zap.Error(err))
	}
}

func (s *service) failTask(ctx context.Context, t *task.ContactTask, reason string) {
	if err := s.tasks.UpdateStatus(ctx, t.ID, task.StatusFailed, reason); err != nil {
		s.logger.Error("failed to mark task failed",
			zap.String("task_id", t.ID.String()),
			zap.Error(err))
	}
}

// templateVariables merges customer fields into the task's script
// variables. Task-level variables win on collision.
func (s *service) templateVariables(t *task.ContactTask, customer *task.Customer) map[string]string {
	vars := map[string]string{
		"customer_name":  customer.FullName(),
		"first_name":     customer.FirstName,
		"account_number": customer.AccountNumber,
		"amount_due":     strconv.FormatFloat(customer.AmountDue, 'f', 2, 64),
	}
	for k, v := range t.Variables {
		vars[k] = v
	}
	return vars
}

func (s *service) webhookURL(kind string) string {
	return fmt.Sprintf("%s/webhooks/calls/%s", s.cfg.Server.WebhookBaseURL, kind)
}
