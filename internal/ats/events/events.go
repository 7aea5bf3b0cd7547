// Package events names the domain events and fans them out to sinks.
// Durable sinks run inside the caller's transaction; live sinks run after
// it commits and never fail the operation.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types
const (
	ApplicationCreated      = "application.created"
	ApplicationStageChanged = "application.stage_changed"
	DocumentReviewed        = "document.reviewed"
	PostingStatusChanged    = "posting.status_changed"
	BulkCompleted           = "bulk.completed"

	// ApplicationReordered is only delivered to live sinks
	ApplicationReordered = "application.reordered"
)

var catalogue = []string{
	ApplicationCreated,
	ApplicationStageChanged,
	DocumentReviewed,
	PostingStatusChanged,
	BulkCompleted,
}

// Catalogue lists every event type webhooks may subscribe to
func Catalogue() []string {
	return append([]string(nil), catalogue...)
}

// Valid reports whether name is a known event type
func Valid(name string) bool {
	for _, e := range catalogue {
		if e == name {
			return true
		}
	}
	return false
}

// Event is something that happened to a tenant's data
type Event struct {
	Type       string      `json:"type"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// New stamps an event with the current time
func New(eventType string, tenantID uuid.UUID, payload interface{}) Event {
	return Event{Type: eventType, TenantID: tenantID, Payload: payload, OccurredAt: time.Now().UTC()}
}

// DurableSink persists an event as part of the caller's transaction
type DurableSink interface {
	Publish(ctx context.Context, ev Event) error
}

// LiveSink reacts to a committed event
type LiveSink interface {
	Handle(ctx context.Context, ev Event)
}

// LiveFunc adapts a function to LiveSink
type LiveFunc func(ctx context.Context, ev Event)

// Handle calls f
func (f LiveFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Emitter fans events out to the registered sinks. A nil *Emitter drops
// everything, which keeps services usable in tests without wiring.
type Emitter struct {
	durable []DurableSink
	live    []LiveSink
	logger  *zap.Logger
}

// NewEmitter creates an emitter with no sinks
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger}
}

// AddDurable registers a sink that runs inside the emitting transaction
func (e *Emitter) AddDurable(s DurableSink) {
	e.durable = append(e.durable, s)
}

// AddLive registers a sink that runs after commit
func (e *Emitter) AddLive(s LiveSink) {
	e.live = append(e.live, s)
}

// Durable publishes ev to every durable sink, stopping at the first error
func (e *Emitter) Durable(ctx context.Context, ev Event) error {
	if e == nil {
		return nil
	}
	for _, s := range e.durable {
		if err := s.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Live hands ev to every live sink. Panics in a sink are logged and swallowed.
func (e *Emitter) Live(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	for _, s := range e.live {
		e.handle(ctx, s, ev)
	}
}

func (e *Emitter) handle(ctx context.Context, s LiveSink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("live event sink panicked", zap.String("event", ev.Type), zap.Any("panic", r))
		}
	}()
	s.Handle(ctx, ev)
}
