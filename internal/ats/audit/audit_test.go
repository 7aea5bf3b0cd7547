package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/store"
)

func TestDiff(t *testing.T) {
	before := json.RawMessage(`{"title":"Engineer","status":"draft","tags":["a"],"meta":{"level":2,"remote":true},"gone":1}`)
	after := json.RawMessage(`{"title":"Engineer","status":"open","tags":["a","b"],"meta":{"level":3,"remote":true,"team":"core"},"new":"x"}`)

	changes, err := Diff(before, after)
	require.NoError(t, err)

	fields := make([]string, len(changes))
	for i, c := range changes {
		fields[i] = c.Field
	}
	assert.Equal(t, []string{"gone", "meta.level", "meta.team", "new", "status", "tags"}, fields)

	byField := map[string]Change{}
	for _, c := range changes {
		byField[c.Field] = c
	}
	assert.Equal(t, ChangeRemoved, byField["gone"].Kind)
	assert.Equal(t, ChangeAdded, byField["meta.team"].Kind)
	assert.Equal(t, ChangeChanged, byField["status"].Kind)
	assert.Equal(t, "draft", byField["status"].Before)
	assert.Equal(t, "open", byField["status"].After)
	assert.Empty(t, byField["status"].Patch)
}

func TestDiff_CreateAndDelete(t *testing.T) {
	changes, err := Diff(nil, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, []Change{{Field: "a", Kind: ChangeAdded, After: float64(1)}}, changes)

	changes, err = Diff(json.RawMessage(`{"a":1}`), json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, ChangeRemoved, changes[0].Kind)

	changes, err = Diff(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiff_LongTextCarriesPatch(t *testing.T) {
	old := strings.Repeat("We are hiring a backend engineer. ", 4)
	updated := strings.Replace(old, "backend", "platform", 1)

	b, _ := json.Marshal(map[string]string{"description": old})
	a, _ := json.Marshal(map[string]string{"description": updated})

	changes, err := Diff(b, a)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, strings.HasPrefix(changes[0].Patch, "@@ -"))
	assert.Contains(t, changes[0].Patch, "platform")
	assert.Equal(t, old, changes[0].Before)
}

func TestDiff_InvalidSnapshot(t *testing.T) {
	_, err := Diff(json.RawMessage(`[1,2]`), nil)
	assert.Error(t, err)
}

func newMockLog(t *testing.T) (*Log, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l := NewLog(db)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return l, db, mock
}

func TestLog_RecordJoinsTransaction(t *testing.T) {
	l, db, mock := newMockLog(t)
	tenant, entity := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), tenant, uuid.NullUUID{}, EntityPosting, entity, "create", []byte(nil), []byte(`{"title":"x"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.NewTxManager(db, nil).WithTx(context.Background(), func(ctx context.Context) error {
		return l.Record(ctx, Record{
			TenantID:   tenant,
			EntityType: EntityPosting,
			EntityID:   entity,
			Action:     ActionCreate,
			After:      map[string]string{"title": "x"},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_DiffEntry(t *testing.T) {
	l, _, mock := newMockLog(t)
	tenant, id := uuid.New(), uuid.New()

	mock.ExpectQuery("FROM audit_log WHERE tenant_id").
		WithArgs(tenant, id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "actor_id", "entity_type", "entity_id", "action", "before", "after", "created_at"}).
			AddRow(id.String(), tenant.String(), nil, EntityApplication, uuid.NewString(), "move",
				[]byte(`{"stage":"applied"}`), []byte(`{"stage":"screening"}`), time.Now()))

	changes, err := l.DiffEntry(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.Equal(t, []Change{{Field: "stage", Kind: ChangeChanged, Before: "applied", After: "screening"}}, changes)
}

func TestLog_GetNotFound(t *testing.T) {
	l, _, mock := newMockLog(t)
	mock.ExpectQuery("FROM audit_log").WillReturnError(sql.ErrNoRows)

	_, err := l.Get(context.Background(), uuid.New(), uuid.New())
	assert.True(t, store.IsNotFound(err))
}

func TestLog_ListForEntity(t *testing.T) {
	l, _, mock := newMockLog(t)
	tenant, entity := uuid.New(), uuid.New()
	actor := uuid.New()

	mock.ExpectQuery("FROM audit_log").
		WithArgs(tenant, EntityCandidate, entity).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "actor_id", "entity_type", "entity_id", "action", "before", "after", "created_at"}).
			AddRow(uuid.NewString(), tenant.String(), actor.String(), EntityCandidate, entity.String(), "create", nil, []byte(`{}`), time.Now()))

	entries, err := l.ListForEntity(context.Background(), tenant, EntityCandidate, entity)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionCreate, entries[0].Action)
	assert.True(t, entries[0].ActorID.Valid)
	assert.Equal(t, actor, entries[0].ActorID.UUID)
}
