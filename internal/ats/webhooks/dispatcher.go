package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

// Queue is the job queue deliveries run on
const Queue = "webhooks"

// TypeDeliver is the job type that delivers one event to one endpoint
const TypeDeliver = "webhook.deliver"

// Envelope is the JSON body POSTed to endpoints
type Envelope struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type deliverPayload struct {
	EndpointID uuid.UUID       `json:"endpoint_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}

type subscriberStore interface {
	Subscribers(ctx context.Context, tenantID uuid.UUID, event string) ([]*Endpoint, error)
}

// Dispatcher is a durable event sink that fans each event out to one
// delivery job per subscribed endpoint. The body is encoded once so every
// retry sends, and signs, the same bytes.
type Dispatcher struct {
	endpoints   subscriberStore
	queue       jobs.Enqueuer
	maxAttempts int
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher. maxAttempts <= 0 uses the job default.
func NewDispatcher(endpoints *Endpoints, queue jobs.Enqueuer, maxAttempts int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{endpoints: endpoints, queue: queue, maxAttempts: maxAttempts, logger: logger}
}

// Publish enqueues deliveries for ev. Events outside the catalogue are
// ignored.
func (d *Dispatcher) Publish(ctx context.Context, ev events.Event) error {
	if !events.Valid(ev.Type) {
		return nil
	}

	endpoints, err := d.endpoints.Subscribers(ctx, ev.TenantID, ev.Type)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return nil
	}

	body, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Type:       ev.Type,
		TenantID:   ev.TenantID,
		OccurredAt: ev.OccurredAt,
		Data:       ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s webhook: %w", ev.Type, err)
	}

	for _, e := range endpoints {
		job, err := jobs.NewJob(Queue, TypeDeliver, deliverPayload{
			EndpointID: e.ID,
			TenantID:   ev.TenantID,
			Event:      ev.Type,
			Body:       body,
		})
		if err != nil {
			return err
		}
		if d.maxAttempts > 0 {
			job.MaxAttempts = d.maxAttempts
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}

	d.logger.Debug("webhook deliveries enqueued",
		zap.String("event", ev.Type),
		zap.String("tenant_id", ev.TenantID.String()),
		zap.Int("endpoints", len(endpoints)))
	return nil
}
