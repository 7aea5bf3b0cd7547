package candidates

import (
	"context"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/query"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct{ records []audit.Record }

func (r *recorder) Record(ctx context.Context, rec audit.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &recorder{}
	svc := NewService(db, store.NewTxManager(db, nil), rec, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, mock, rec
}

func candidateRows(c *Candidate, tags string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "first_name", "last_name", "email", "phone", "source", "tags", "notes", "created_at", "updated_at"}).
		AddRow(c.ID.String(), c.TenantID.String(), c.FirstName, c.LastName, c.Email, c.Phone, string(c.Source), tags, c.Notes, c.CreatedAt, c.UpdatedAt)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"", "", false},
		{"+1 (415) 555-0100", "+14155550100", false},
		{"0044 20 7946 0958", "+442079460958", false},
		{"+49.30.123456", "+4930123456", false},
		{"415 555 0100", "", true},
		{"+1 555", "", true},
		{"+1 415 555 0100 ext 2", "", true},
		{"+0123456789", "", true},
		{"+1234567890123456", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreate(t *testing.T) {
	svc, mock, rec := newTestService(t)
	tenant, actor := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candidates").
		WithArgs(sqlmock.AnyArg(), tenant, "Ada", "Lovelace", "ada@example.com", "+442079460958",
			SourceReferral, sqlmock.AnyArg(), "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := svc.Create(context.Background(), tenant, actor, Input{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ADA@Example.com",
		Phone:     "+44 20 7946 0958",
		Source:    SourceReferral,
		Tags:      []string{"Senior", "senior", "remote"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, []string{"senior", "remote"}, c.Tags)
	require.Len(t, rec.records, 1)
	assert.Equal(t, audit.EntityCandidate, rec.records[0].EntityType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DefaultsSource(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candidates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := svc.Create(context.Background(), uuid.New(), uuid.Nil, Input{FirstName: "A", LastName: "B", Email: "a@b.io"})
	require.NoError(t, err)
	assert.Equal(t, SourceOther, c.Source)
	assert.Equal(t, "", c.Phone)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), uuid.New(), uuid.Nil, Input{
		Email:  "not-an-email",
		Phone:  "555-0100",
		Source: "linkedin",
		Tags:   []string{"has space"},
	})
	verrs, ok := validation.As(err)
	require.True(t, ok)
	for _, field := range []string{"first_name", "last_name", "email", "phone", "source", "tags"} {
		assert.Contains(t, verrs.Fields, field)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	svc, mock, rec := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO candidates").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "candidates_tenant_email_key"})
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), uuid.New(), uuid.Nil, Input{FirstName: "A", LastName: "B", Email: "a@b.io"})
	verrs, ok := validation.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"is already in use by another candidate"}, verrs.Fields["email"])
	assert.Empty(t, rec.records)
}

func TestUpdate(t *testing.T) {
	svc, mock, rec := newTestService(t)
	existing := &Candidate{ID: uuid.New(), TenantID: uuid.New(), FirstName: "Ada", LastName: "Byron", Email: "ada@example.com", Source: SourceOther}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidates WHERE tenant_id = \\$1 AND id = \\$2 FOR UPDATE").
		WithArgs(existing.TenantID, existing.ID).
		WillReturnRows(candidateRows(existing, "{}"))
	mock.ExpectExec("UPDATE candidates SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := svc.Update(context.Background(), existing.TenantID, uuid.New(), existing.ID,
		Input{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", c.LastName)

	changes, err := audit.Diff(mustJSON(t, rec.records[0].Before), mustJSON(t, rec.records[0].After))
	require.NoError(t, err)
	fields := []string{}
	for _, ch := range changes {
		fields = append(fields, ch.Field)
	}
	assert.Equal(t, []string{"last_name", "updated_at"}, fields)
}

func TestAddTag(t *testing.T) {
	svc, mock, rec := newTestService(t)
	existing := &Candidate{ID: uuid.New(), TenantID: uuid.New(), FirstName: "A", LastName: "B", Email: "a@b.io", Source: SourceOther}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(candidateRows(existing, "{senior}"))
	mock.ExpectExec("UPDATE candidates SET tags").
		WithArgs(sqlmock.AnyArg(), fixedNow, existing.TenantID, existing.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := svc.AddTag(context.Background(), existing.TenantID, uuid.Nil, existing.ID, " Remote ")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"senior", "remote"}, rec.records[0].After.(*Candidate).Tags)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(candidateRows(existing, "{senior}"))
	mock.ExpectCommit()

	changed, err = svc.AddTag(context.Background(), existing.TenantID, uuid.Nil, existing.ID, "senior")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_NotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), uuid.New(), uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_SearchAndTag(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := uuid.New()
	params, err := query.Parse(httptest.NewRequest("GET", "/candidates?q=ada&filter[tag]=Remote", nil), ListOptions)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM candidates WHERE tenant_id = $1 AND $2 = ANY(tags) AND (first_name || ' ' || last_name ILIKE $3 OR email ILIKE $4)")).
		WithArgs(tenant, "remote", "%ada%", "%ada%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id ASC LIMIT $5 OFFSET $6")).
		WithArgs(tenant, "remote", "%ada%", "%ada%", 25, 0).
		WillReturnRows(sqlmock.NewRows(nil))

	list, total, err := svc.List(context.Background(), tenant, params)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
