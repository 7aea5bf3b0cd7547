package bulk

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type sink struct{ events []events.Event }

func (s *sink) Publish(ctx context.Context, ev events.Event) error {
	s.events = append(s.events, ev)
	return nil
}

type recordingEnqueuer struct{ jobs []*jobs.Job }

func (r *recordingEnqueuer) Enqueue(ctx context.Context, job *jobs.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

type opsFixture struct {
	svc   *Service
	mock  sqlmock.Sqlmock
	mover *fakeMover
	queue *recordingEnqueuer
	sink  *sink
	live  []events.Event
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &opsFixture{mock: mock, mover: &fakeMover{}, queue: &recordingEnqueuer{}, sink: &sink{}}
	emitter := events.NewEmitter(nil)
	emitter.AddDurable(f.sink)
	emitter.AddLive(events.LiveFunc(func(ctx context.Context, ev events.Event) { f.live = append(f.live, ev) }))

	runner := NewRunner(db, f.mover, &fakeTagger{}, &fakeNotifier{}, 2, nil)
	f.svc = NewService(db, store.NewTxManager(db, nil), runner, f.queue, emitter, nil)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *opsFixture) expectComplete(succeeded int) {
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE bulk_operations SET status = \\$1, total").
		WithArgs(StatusCompleted, sqlmock.AnyArg(), succeeded, 0, 0, sqlmock.AnyArg(), fixedNow, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
}

func TestSubmit_Inline(t *testing.T) {
	f := newOpsFixture(t)
	tenant, actor := uuid.New(), uuid.New()
	ids := newIDs(3)

	f.mock.ExpectExec("INSERT INTO bulk_operations").
		WithArgs(sqlmock.AnyArg(), tenant, actor, ActionMove, StatusPending, 3, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows, _ := ownerRows(ids...)
	expectOwners(f.mock, tenant, rows)
	f.expectComplete(3)

	op, err := f.svc.Submit(context.Background(), tenant, actor, Request{
		Action: ActionMove, ApplicationIDs: ids, Params: Params{Stage: pipeline.StageScreening},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, 3, op.Succeeded)
	require.NotNil(t, op.CompletedAt)
	assert.Len(t, op.Results, 3)
	assert.Empty(t, f.queue.jobs)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, events.BulkCompleted, f.sink.events[0].Type)
	assert.Equal(t, Summary{OperationID: op.ID, Action: ActionMove, Total: 3, Succeeded: 3}, f.sink.events[0].Payload)
	assert.Len(t, f.live, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_LargeRequestRunsAsJob(t *testing.T) {
	f := newOpsFixture(t)
	tenant, actor := uuid.New(), uuid.New()
	ids := newIDs(InlineLimit + 1)

	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO bulk_operations").
		WithArgs(sqlmock.AnyArg(), tenant, actor, ActionTag, StatusPending, InlineLimit+1, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	op, err := f.svc.Submit(context.Background(), tenant, actor, Request{
		Action: ActionTag, ApplicationIDs: ids, Params: Params{Tag: "backlog"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, TypeRun, job.Type)
	assert.Equal(t, jobs.DefaultQueue, job.Queue)
	assert.Equal(t, 1, job.MaxAttempts)

	var payload runPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, op.ID, payload.OperationID)
	assert.Len(t, payload.Request.ApplicationIDs, InlineLimit+1)
	assert.Empty(t, f.sink.events)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

var operationColumns = []string{"id", "tenant_id", "actor_id", "action", "status", "total", "succeeded",
	"failed", "skipped", "results", "created_at", "completed_at"}

func TestRunJob(t *testing.T) {
	f := newOpsFixture(t)
	tenant, actor, opID := uuid.New(), uuid.New(), uuid.New()
	ids := newIDs(2)

	job, err := jobs.NewJob(jobs.DefaultQueue, TypeRun, runPayload{
		OperationID: opID, TenantID: tenant, ActorID: actor,
		Request: Request{Action: ActionMove, ApplicationIDs: ids, Params: Params{Stage: pipeline.StageScreening}},
	})
	require.NoError(t, err)

	f.mock.ExpectQuery("FROM bulk_operations WHERE tenant_id").
		WithArgs(tenant, opID).
		WillReturnRows(sqlmock.NewRows(operationColumns).
			AddRow(opID.String(), tenant.String(), actor.String(), "move", "pending", 2, 0, 0, 0, []byte("[]"), fixedNow, nil))
	f.mock.ExpectExec("UPDATE bulk_operations SET status = \\$1 WHERE id").
		WithArgs(StatusRunning, opID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows, _ := ownerRows(ids...)
	expectOwners(f.mock, tenant, rows)
	f.expectComplete(2)

	require.NoError(t, f.svc.RunJob(context.Background(), job))
	assert.Len(t, f.mover.calls, 2)
	assert.Len(t, f.sink.events, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunJob_AlreadyCompleted(t *testing.T) {
	f := newOpsFixture(t)
	tenant, opID := uuid.New(), uuid.New()
	job, err := jobs.NewJob(jobs.DefaultQueue, TypeRun, runPayload{OperationID: opID, TenantID: tenant})
	require.NoError(t, err)

	f.mock.ExpectQuery("FROM bulk_operations").
		WillReturnRows(sqlmock.NewRows(operationColumns).
			AddRow(opID.String(), tenant.String(), nil, "tag", "completed", 1, 1, 0, 0,
				[]byte(`[{"application_id":"`+uuid.NewString()+`","status":"ok"}]`), fixedNow, fixedNow))

	require.NoError(t, f.svc.RunJob(context.Background(), job))
	assert.Empty(t, f.mover.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	f := newOpsFixture(t)
	tenant, opID, app := uuid.New(), uuid.New(), uuid.New()

	f.mock.ExpectQuery("FROM bulk_operations").
		WithArgs(tenant, opID).
		WillReturnRows(sqlmock.NewRows(operationColumns).
			AddRow(opID.String(), tenant.String(), nil, "reject", "completed", 1, 0, 1, 0,
				[]byte(`[{"application_id":"`+app.String()+`","status":"error","error":"application not found"}]`), fixedNow, fixedNow))

	op, err := f.svc.Get(context.Background(), tenant, opID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, op.ActorID)
	assert.Equal(t, []ItemResult{{ApplicationID: app, Status: ItemError, Error: "application not found"}}, op.Results)
	require.NotNil(t, op.CompletedAt)

	f.mock.ExpectQuery("FROM bulk_operations").WillReturnRows(sqlmock.NewRows(nil))
	_, err = f.svc.Get(context.Background(), tenant, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
