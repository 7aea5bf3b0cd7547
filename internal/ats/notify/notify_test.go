package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/ats/documents"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingEnqueuer struct{ jobs []*jobs.Job }

func (r *recordingEnqueuer) Enqueue(ctx context.Context, job *jobs.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestNotifier(t *testing.T) (*Notifier, sqlmock.Sqlmock, *recordingEnqueuer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := &recordingEnqueuer{}
	n := NewNotifier(db, store.NewTxManager(db, nil), q, nil, nil)
	n.now = func() time.Time { return fixedNow }
	return n, mock, q
}

var stageData = map[string]interface{}{"FirstName": "Ada", "PostingTitle": "Backend Engineer", "Stage": "offer"}

func TestSend(t *testing.T) {
	n, mock, q := newTestNotifier(t)
	tenant := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), tenant, ChannelSMS, "+14155550100", TemplateStageChanged, sqlmock.AnyArg(), StatusQueued, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := n.Send(context.Background(), tenant, Notification{
		Channel:   ChannelSMS,
		Recipient: "+1 415 555 0100",
		Template:  TemplateStageChanged,
		Data:      stageData,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, rec.Status)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, Queue, q.jobs[0].Queue)
	assert.Equal(t, TypeDeliver, q.jobs[0].Type)
	var payload deliverPayload
	require.NoError(t, json.Unmarshal(q.jobs[0].Payload, &payload))
	assert.Equal(t, rec.ID, payload.NotificationID)
	assert.Equal(t, tenant, payload.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_Validation(t *testing.T) {
	n, _, q := newTestNotifier(t)

	tests := []struct {
		name  string
		n     Notification
		field string
	}{
		{"channel", Notification{Channel: "pigeon", Recipient: "a@b.io", Template: TemplateStageChanged, Data: stageData}, "channel"},
		{"email", Notification{Channel: ChannelEmail, Recipient: "nope", Template: TemplateStageChanged, Data: stageData}, "recipient"},
		{"phone", Notification{Channel: ChannelSMS, Recipient: "555", Template: TemplateStageChanged, Data: stageData}, "recipient"},
		{"template", Notification{Channel: ChannelEmail, Recipient: "a@b.io", Template: "welcome", Data: stageData}, "template"},
		{"data", Notification{Channel: ChannelEmail, Recipient: "a@b.io", Template: TemplateDocumentRejected, Data: stageData}, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Send(context.Background(), uuid.New(), tt.n)
			verrs, ok := validation.As(err)
			require.True(t, ok)
			assert.Contains(t, verrs.Fields, tt.field)
		})
	}
	assert.Empty(t, q.jobs)
}

func TestSend_SMSTooLong(t *testing.T) {
	n, _, _ := newTestNotifier(t)
	long := make([]rune, MaxSMSLength)
	for i := range long {
		long[i] = 'x'
	}

	_, err := n.Send(context.Background(), uuid.New(), Notification{
		Channel:   ChannelSMS,
		Recipient: "+14155550100",
		Template:  TemplateStageChanged,
		Data:      map[string]interface{}{"FirstName": "Ada", "PostingTitle": string(long), "Stage": "offer"},
	})
	verrs, ok := validation.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{ErrMessageTooLong.Error()}, verrs.Fields["data"])
}

func notificationRows(id, tenant uuid.UUID, channel Channel, status Status) *sqlmock.Rows {
	data, _ := json.Marshal(stageData)
	return sqlmock.NewRows([]string{"id", "tenant_id", "channel", "recipient", "template", "data", "status", "error", "created_at", "sent_at"}).
		AddRow(id.String(), tenant.String(), string(channel), "ada@example.com", TemplateStageChanged, data, string(status), "", fixedNow, nil)
}

func deliverJob(t *testing.T, id, tenant uuid.UUID, attempts int) *jobs.Job {
	job, err := jobs.NewJob(Queue, TypeDeliver, deliverPayload{NotificationID: id, TenantID: tenant})
	require.NoError(t, err)
	job.Attempts = attempts
	return job
}

func TestDeliver(t *testing.T) {
	n, mock, _ := newTestNotifier(t)
	sender := &fakeSender{}
	n.Register(ChannelEmail, sender)
	id, tenant := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM notifications WHERE tenant_id").
		WithArgs(tenant, id).
		WillReturnRows(notificationRows(id, tenant, ChannelEmail, StatusQueued))
	mock.ExpectExec("UPDATE notifications SET status").
		WithArgs(StatusSent, "", fixedNow, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, n.Deliver(context.Background(), deliverJob(t, id, tenant, 1)))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].To)
	assert.Equal(t, "Update on your application for Backend Engineer", sender.sent[0].Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_AlreadySent(t *testing.T) {
	n, mock, _ := newTestNotifier(t)
	sender := &fakeSender{}
	n.Register(ChannelEmail, sender)
	id, tenant := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRows(id, tenant, ChannelEmail, StatusSent))

	require.NoError(t, n.Deliver(context.Background(), deliverJob(t, id, tenant, 2)))
	assert.Empty(t, sender.sent)
}

func TestDeliver_TemporaryErrorRetries(t *testing.T) {
	n, mock, _ := newTestNotifier(t)
	n.Register(ChannelEmail, &fakeSender{err: &StatusError{Code: 503}})
	id, tenant := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRows(id, tenant, ChannelEmail, StatusQueued))

	err := n.Deliver(context.Background(), deliverJob(t, id, tenant, 1))
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_LastAttemptMarksFailed(t *testing.T) {
	n, mock, _ := newTestNotifier(t)
	n.Register(ChannelEmail, &fakeSender{err: errors.New("connection refused")})
	id, tenant := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRows(id, tenant, ChannelEmail, StatusQueued))
	mock.ExpectExec("UPDATE notifications SET status").
		WithArgs(StatusFailed, "connection refused", nil, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := n.Deliver(context.Background(), deliverJob(t, id, tenant, jobs.DefaultMaxAttempts))
	assert.True(t, jobs.IsPermanent(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_PermanentFailures(t *testing.T) {
	tests := []struct {
		name   string
		sender Sender
	}{
		{"client error", &fakeSender{err: &StatusError{Code: 400}}},
		{"too long", &fakeSender{err: ErrMessageTooLong}},
		{"no sender", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, mock, _ := newTestNotifier(t)
			if tt.sender != nil {
				n.Register(ChannelEmail, tt.sender)
			}
			id, tenant := uuid.New(), uuid.New()

			mock.ExpectQuery("FROM notifications").WillReturnRows(notificationRows(id, tenant, ChannelEmail, StatusQueued))
			mock.ExpectExec("UPDATE notifications SET status").
				WithArgs(StatusFailed, sqlmock.AnyArg(), nil, id).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := n.Deliver(context.Background(), deliverJob(t, id, tenant, 1))
			assert.True(t, jobs.IsPermanent(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeliver_MissingNotification(t *testing.T) {
	n, mock, _ := newTestNotifier(t)
	mock.ExpectQuery("FROM notifications").WillReturnRows(sqlmock.NewRows(nil))

	err := n.Deliver(context.Background(), deliverJob(t, uuid.New(), uuid.New(), 1))
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func expectContact(mock sqlmock.Sqlmock, tenant, app uuid.UUID) {
	mock.ExpectQuery("JOIN candidates c ON c.id = a.candidate_id").
		WithArgs(tenant, app).
		WillReturnRows(sqlmock.NewRows([]string{"first_name", "email", "phone", "title"}).
			AddRow("Ada", "ada@example.com", "", "Backend Engineer"))
}

func TestSubscriber(t *testing.T) {
	n, mock, q := newTestNotifier(t)
	sub := NewSubscriber(n, ChannelEmail)
	tenant, app := uuid.New(), uuid.New()

	expectContact(mock, tenant, app)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), tenant, ChannelEmail, "ada@example.com", TemplateStageChanged, sqlmock.AnyArg(), StatusQueued, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := sub.Publish(context.Background(), events.New(events.ApplicationStageChanged, tenant, pipeline.StageChange{
		ApplicationID: app, From: pipeline.StageScreening, To: pipeline.StageInterview,
	}))
	require.NoError(t, err)
	assert.Len(t, q.jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriber_DocumentRejected(t *testing.T) {
	n, mock, q := newTestNotifier(t)
	sub := NewSubscriber(n, ChannelEmail)
	tenant, app := uuid.New(), uuid.New()

	expectContact(mock, tenant, app)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), tenant, ChannelEmail, "ada@example.com", TemplateDocumentRejected, sqlmock.AnyArg(), StatusQueued, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, sub.Publish(context.Background(), events.New(events.DocumentReviewed, tenant, documents.ReviewResult{
		ApplicationID: app, Type: "resume", Status: documents.StatusRejected, Note: "blurry scan",
	})))
	assert.Len(t, q.jobs, 1)
}

func TestSubscriber_Ignores(t *testing.T) {
	n, mock, q := newTestNotifier(t)
	sub := NewSubscriber(n, ChannelEmail)

	ignored := []events.Event{
		events.New(events.DocumentReviewed, uuid.New(), documents.ReviewResult{Status: documents.StatusApproved}),
		events.New(events.ApplicationStageChanged, uuid.New(), pipeline.StageChange{To: pipeline.StageWithdrawn}),
		events.New(events.BulkCompleted, uuid.New(), map[string]int{"total": 3}),
	}
	for _, ev := range ignored {
		require.NoError(t, sub.Publish(context.Background(), ev))
	}
	assert.Empty(t, q.jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriber_SMSWithoutPhoneIsSkipped(t *testing.T) {
	n, mock, q := newTestNotifier(t)
	sub := NewSubscriber(n, ChannelSMS)
	tenant, app := uuid.New(), uuid.New()

	expectContact(mock, tenant, app)

	require.NoError(t, sub.Publish(context.Background(), events.New(events.ApplicationCreated, tenant, pipeline.StageChange{
		ApplicationID: app, To: pipeline.StageApplied,
	})))
	assert.Empty(t, q.jobs)
}
