package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, job *Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func TestScheduler_AddValidates(t *testing.T) {
	s := NewScheduler(&recordingEnqueuer{}, time.Second, nil)

	tests := []struct {
		name     string
		schedule Schedule
	}{
		{"missing name", Schedule{Queue: "q", Type: "t", Interval: time.Second}},
		{"zero interval", Schedule{Name: "n", Queue: "q", Type: "t"}},
		{"missing queue", Schedule{Name: "n", Type: "t", Interval: time.Second}},
		{"missing type", Schedule{Name: "n", Queue: "q", Interval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := tt.schedule
			assert.Error(t, s.Add(&sched))
		})
	}

	require.NoError(t, s.Add(&Schedule{Name: "n", Queue: "q", Type: "t", Interval: time.Second}))
	assert.Error(t, s.Add(&Schedule{Name: "n", Queue: "q", Type: "t", Interval: time.Second}))
}

func TestScheduler_RunDue(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := NewScheduler(enq, time.Second, zaptest.NewLogger(t))
	now := fixedNow
	s.now = func() time.Time { return now }

	require.NoError(t, s.Add(&Schedule{Name: "purge", Queue: "default", Type: "jobs.purge_completed", Interval: time.Hour}))
	require.NoError(t, s.Add(&Schedule{Name: "stale", Queue: "default", Type: "jobs.requeue_stale", Interval: time.Minute}))

	assert.Equal(t, 0, s.RunDue(context.Background()))

	now = fixedNow.Add(2 * time.Minute)
	assert.Equal(t, 1, s.RunDue(context.Background()))
	assert.Equal(t, "jobs.requeue_stale", enq.jobs[0].Type)
	assert.Equal(t, 0, s.RunDue(context.Background()))

	now = fixedNow.Add(time.Hour)
	assert.Equal(t, 2, s.RunDue(context.Background()))
}

func TestScheduler_RunDueKeepsScheduleOnEnqueueError(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("db down")}
	s := NewScheduler(enq, time.Second, nil)
	s.now = func() time.Time { return fixedNow }

	require.NoError(t, s.Add(&Schedule{Name: "a", Queue: "q", Type: "t", Interval: time.Minute, NextRun: fixedNow}))
	assert.Equal(t, 0, s.RunDue(context.Background()))

	enq.err = nil
	assert.Equal(t, 1, s.RunDue(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := NewScheduler(enq, 5*time.Millisecond, nil)
	require.NoError(t, s.Add(&Schedule{Name: "a", Queue: "q", Type: "t", Interval: time.Millisecond}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return enq.count() > 0 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestRegisterMaintenance(t *testing.T) {
	q, _, mock := newMockQueue(t)
	registry := NewHandlerRegistry()
	s := NewScheduler(&recordingEnqueuer{}, time.Second, nil)

	err := RegisterMaintenance(q, registry, s, MaintenanceConfig{
		Queue:       "default",
		PurgeAfter:  24 * time.Hour,
		LockTimeout: 10 * time.Minute,
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TypePurgeCompleted, TypeRequeueStale}, registry.Types())

	purge, ok := registry.Get(TypePurgeCompleted)
	require.True(t, ok)
	mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, purge(context.Background(), &Job{}))

	requeue, ok := registry.Get(TypeRequeueStale)
	require.True(t, ok)
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE jobs").
		WithArgs(JobStatusPending, JobStatusRunning, fixedNow.Add(-10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, requeue(context.Background(), &Job{}))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, s.schedules, 2)
	assert.Equal(t, 5*time.Minute, s.schedules[TypeRequeueStale].Interval)
}
