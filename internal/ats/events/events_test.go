package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type durableFunc func(ctx context.Context, ev Event) error

func (f durableFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

func TestValid(t *testing.T) {
	assert.True(t, Valid(ApplicationStageChanged))
	assert.False(t, Valid("application.deleted"))
	assert.Len(t, Catalogue(), 5)
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	assert.NoError(t, e.Durable(context.Background(), New(BulkCompleted, uuid.New(), nil)))
	e.Live(context.Background(), New(BulkCompleted, uuid.New(), nil))
}

func TestEmitter_DurableStopsAtFirstError(t *testing.T) {
	e := NewEmitter(nil)
	boom := errors.New("enqueue failed")
	calls := 0
	e.AddDurable(durableFunc(func(ctx context.Context, ev Event) error { calls++; return boom }))
	e.AddDurable(durableFunc(func(ctx context.Context, ev Event) error { calls++; return nil }))

	err := e.Durable(context.Background(), New(DocumentReviewed, uuid.New(), nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEmitter_LiveSwallowsPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	e := NewEmitter(zap.New(core))

	var got []string
	e.AddLive(LiveFunc(func(ctx context.Context, ev Event) { panic("boom") }))
	e.AddLive(LiveFunc(func(ctx context.Context, ev Event) { got = append(got, ev.Type) }))

	tenant := uuid.New()
	ev := New(ApplicationCreated, tenant, map[string]string{"id": "a1"})
	e.Live(context.Background(), ev)

	require.Equal(t, []string{ApplicationCreated}, got)
	assert.Equal(t, 1, logs.FilterMessage("live event sink panicked").Len())
	assert.Equal(t, tenant, ev.TenantID)
	assert.False(t, ev.OccurredAt.IsZero())
}
