package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

// Connect dials NATS with retry-friendly options.
func Connect(cfg *config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}

// TaskHandler processes one contact task. Errors are the handler's problem;
// the consumer never redelivers (retry policy lives with the scheduler).
type TaskHandler func(ctx context.Context, t *task.ContactTask)

// TaskConsumer subscribes to the inbound contact task subject as part of a
// queue group so multiple engine instances share the load.
type TaskConsumer struct {
	conn    *nats.Conn
	cfg     *config.NATSConfig
	logger  *zap.Logger
	sub     *nats.Subscription
}

func NewTaskConsumer(conn *nats.Conn, cfg *config.NATSConfig, logger *zap.Logger) *TaskConsumer {
	return &TaskConsumer{conn: conn, cfg: cfg, logger: logger}
}

// Start subscribes and dispatches tasks to the handler. Malformed or invalid
// messages are logged and dropped.
func (c *TaskConsumer) Start(ctx context.Context, handler TaskHandler) error {
	sub, err := c.conn.QueueSubscribe(c.cfg.TaskSubject, c.cfg.QueueGroup, func(msg *nats.Msg) {
		var t task.ContactTask
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			c.logger.Warn("dropping malformed task message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := t.Validate(); err != nil {
			c.logger.Warn("dropping invalid task",
				zap.String("task_id", t.ID.String()),
				zap.Error(err))
			return
		}
		handler(ctx, &t)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.TaskSubject, err)
	}

	c.sub = sub
	c.logger.Info("task consumer started",
		zap.String("subject", c.cfg.TaskSubject),
		zap.String("queue_group", c.cfg.QueueGroup))
	return nil
}

// Stop unsubscribes and drains in-flight deliveries.
func (c *TaskConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain task subscription: %w", err)
	}
	return nil
}

// CompletionNotification is emitted once per finalized call.
type CompletionNotification struct {
	TaskID          uuid.UUID `json:"task_id"`
	CustomerID      uuid.UUID `json:"customer_id"`
	Outcome         string    `json:"outcome"`
	Resolution      string    `json:"resolution,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// CompletionPublisher publishes completion notifications for the scheduler.
type CompletionPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewCompletionPublisher(conn *nats.Conn, cfg *config.NATSConfig, logger *zap.Logger) *CompletionPublisher {
	return &CompletionPublisher{conn: conn, subject: cfg.CompletionSubject, logger: logger}
}

func (p *CompletionPublisher) PublishCompletion(ctx context.Context, n *CompletionNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal completion notification: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish completion notification: %w", err)
	}
	return nil
}

// CallbackRequest asks the scheduler to queue a follow-up contact.
type CallbackRequest struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	TaskID      uuid.UUID `json:"task_id"`
	Window      string    `json:"window,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// CallbackPublisher hands callback requests to the external scheduler.
type CallbackPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewCallbackPublisher(conn *nats.Conn, cfg *config.NATSConfig) *CallbackPublisher {
	return &CallbackPublisher{conn: conn, subject: cfg.CallbackSubject}
}

func (p *CallbackPublisher) ScheduleCallback(ctx context.Context, customerID, taskID uuid.UUID, window string) error {
	data, err := json.Marshal(&CallbackRequest{
		CustomerID:  customerID,
		TaskID:      taskID,
		Window:      window,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal callback request: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish callback request: %w", err)
	}
	return nil
}

// EscalationRequest routes a customer to a human specialist queue.
type EscalationRequest struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	TaskID      uuid.UUID `json:"task_id"`
	Target      string    `json:"target,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// EscalationPublisher hands escalations to the agent-facing systems.
type EscalationPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewEscalationPublisher(conn *nats.Conn, cfg *config.NATSConfig) *EscalationPublisher {
	return &EscalationPublisher{conn: conn, subject: cfg.EscalationSubject}
}

func (p *EscalationPublisher) Escalate(ctx context.Context, customerID, taskID uuid.UUID, target string) error {
	data, err := json.Marshal(&EscalationRequest{
		CustomerID:  customerID,
		TaskID:      taskID,
		Target:      target,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal escalation request: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish escalation request: %w", err)
	}
	return nil
}
