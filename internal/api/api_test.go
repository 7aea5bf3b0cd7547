package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/ats/analytics"
	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/bulk"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/ats/postings"
	"github.com/hireflow/hireflow/internal/ats/users"
	"github.com/hireflow/hireflow/internal/ats/webhooks"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/jobs"
	"github.com/hireflow/hireflow/internal/web/query"
	"github.com/hireflow/hireflow/internal/web/router"
)

type fixture struct {
	tokens  *auth.AuthService
	tenant  uuid.UUID
	user    uuid.UUID
	handler http.Handler
}

func newFixture(t *testing.T, svc Services) *fixture {
	t.Helper()
	f := &fixture{
		tokens: auth.NewAuthService("test-secret", time.Hour),
		tenant: uuid.New(),
		user:   uuid.New(),
	}
	f.handler = NewRouter(Config{Tokens: f.tokens}, svc)
	return f
}

func (f *fixture) token(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := f.tokens.GenerateToken(auth.Identity{UserID: f.user, TenantID: f.tenant, Roles: roles})
	require.NoError(t, err)
	return token
}

// do sends the request as a user holding roles; no roles sends it anonymously
func (f *fixture) do(t *testing.T, method, path, body string, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, BasePath+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(roles) > 0 {
		req.Header.Set("Authorization", "Bearer "+f.token(t, roles...))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

type fakeUsers struct {
	UserService
	slug string
}

func (f *fakeUsers) Login(ctx context.Context, tenantSlug, email, password string) (*users.LoginResult, error) {
	f.slug = tenantSlug
	if password != "correct horse" {
		return nil, users.ErrInvalidCredentials
	}
	return &users.LoginResult{Token: "signed", User: &users.User{Email: email}}, nil
}

type fakePostings struct {
	PostingService
	tenant, actor uuid.UUID
	input         postings.Input
	version       int
	params        query.Params
	err           error
}

func (f *fakePostings) List(ctx context.Context, tenantID uuid.UUID, p query.Params) ([]*postings.Posting, int, error) {
	f.tenant, f.params = tenantID, p
	return []*postings.Posting{{ID: uuid.New(), Title: "Backend Engineer"}}, 41, nil
}

func (f *fakePostings) Create(ctx context.Context, tenantID, actorID uuid.UUID, in postings.Input) (*postings.Posting, error) {
	f.tenant, f.actor, f.input = tenantID, actorID, in
	return &postings.Posting{ID: uuid.New(), TenantID: tenantID, Title: in.Title, Status: postings.StatusDraft, Version: 1}, nil
}

func (f *fakePostings) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, in postings.Input, expectedVersion int) (*postings.Posting, error) {
	f.input, f.version = in, expectedVersion
	if f.err != nil {
		return nil, f.err
	}
	return &postings.Posting{ID: id, Title: in.Title, Version: expectedVersion + 1}, nil
}

type fakeApplications struct {
	ApplicationService
	move pipeline.MoveRequest
	err  error
}

func (f *fakeApplications) Move(ctx context.Context, tenantID, actorID, appID uuid.UUID, req pipeline.MoveRequest) (*pipeline.Application, error) {
	f.move = req
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Application{ID: appID, Stage: req.To}, nil
}

func (f *fakeApplications) Reorder(ctx context.Context, tenantID, actorID, appID uuid.UUID, position int) ([]*pipeline.Application, error) {
	return []*pipeline.Application{{ID: uuid.New(), Position: 0}, {ID: appID, Position: position}}, nil
}

type fakeBulk struct {
	BulkService
	req bulk.Request
}

func (f *fakeBulk) Submit(ctx context.Context, tenantID, actorID uuid.UUID, req bulk.Request) (*bulk.Operation, error) {
	f.req = req
	op := &bulk.Operation{ID: uuid.New(), TenantID: tenantID, Action: req.Action, Total: len(req.ApplicationIDs), Status: bulk.StatusCompleted}
	if len(req.ApplicationIDs) > 1 {
		op.Status = bulk.StatusPending
	}
	return op, nil
}

type fakeWebhooks struct {
	WebhookService
	limit int
}

func (f *fakeWebhooks) List(ctx context.Context, tenantID uuid.UUID) ([]*webhooks.Endpoint, error) {
	return []*webhooks.Endpoint{{ID: uuid.New(), URL: "https://example.com/hook", Secret: "whsec_abc", Active: true}}, nil
}

func (f *fakeWebhooks) Create(ctx context.Context, tenantID uuid.UUID, in webhooks.Input) (*webhooks.Endpoint, error) {
	return &webhooks.Endpoint{ID: uuid.New(), URL: in.URL, Events: in.Events, Secret: "whsec_abc", Active: true}, nil
}

func (f *fakeWebhooks) Deliveries(ctx context.Context, tenantID, endpointID uuid.UUID, limit int) ([]*webhooks.Delivery, error) {
	f.limit = limit
	return nil, nil
}

type fakeAudit struct {
	AuditService
	entityType string
	entityID   uuid.UUID
}

func (f *fakeAudit) ListForEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]*audit.Entry, error) {
	f.entityType, f.entityID = entityType, entityID
	return []*audit.Entry{}, nil
}

type fakeAnalytics struct {
	posting *uuid.UUID
	called  bool
}

func (f *fakeAnalytics) Dashboard(ctx context.Context, tenantID uuid.UUID, postingID *uuid.UUID) (*analytics.Dashboard, error) {
	f.posting, f.called = postingID, true
	return &analytics.Dashboard{PostingID: postingID, OpenPostings: 2}, nil
}

type fakeStats struct{}

func (fakeStats) Stats(ctx context.Context) ([]jobs.QueueStats, error) {
	return []jobs.QueueStats{{Queue: "webhooks", Pending: 3}}, nil
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Services{})
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	f = newFixture(t, Services{Health: pingerFunc(func(ctx context.Context) error { return errors.New("down") })})
	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "down")
}

func TestLogin(t *testing.T) {
	fu := &fakeUsers{}
	f := newFixture(t, Services{Users: fu})

	rec := f.do(t, http.MethodPost, "/auth/login", `{"tenant":"acme","email":"a@acme.io","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signed", decodeBody(t, rec)["token"])
	assert.Equal(t, "acme", fu.slug)

	rec = f.do(t, http.MethodPost, "/auth/login", `{"tenant":"acme","email":"a@acme.io","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_RequireAuthAndPermission(t *testing.T) {
	f := newFixture(t, Services{Postings: &fakePostings{}})

	rec := f.do(t, http.MethodGet, "/postings", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/postings", `{"title":"x"}`, auth.RoleViewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(auth.PostingsWrite))

	rec = f.do(t, http.MethodGet, "/postings", "", auth.RoleViewer)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePosting(t *testing.T) {
	fp := &fakePostings{}
	f := newFixture(t, Services{Postings: fp})

	rec := f.do(t, http.MethodPost, "/postings",
		`{"title":"Backend Engineer","department":"Platform","required_documents":["resume"]}`, auth.RoleRecruiter)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Backend Engineer", decodeBody(t, rec)["title"])
	assert.Equal(t, f.tenant, fp.tenant)
	assert.Equal(t, f.user, fp.actor)
	assert.Equal(t, []string{"resume"}, fp.input.RequiredDocuments)
}

func TestCreatePosting_RejectsBadBodies(t *testing.T) {
	f := newFixture(t, Services{Postings: &fakePostings{}})

	for name, body := range map[string]string{
		"unknown field": `{"title":"x","salary":100}`,
		"malformed":     `{"title":`,
		"empty":         ``,
		"two objects":   `{"title":"a"}{"title":"b"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/postings", body, auth.RoleRecruiter)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListPostings(t *testing.T) {
	fp := &fakePostings{}
	f := newFixture(t, Services{Postings: fp})

	rec := f.do(t, http.MethodGet, "/postings?page=2&per_page=20&status=open", "", auth.RoleViewer)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(20), body["per_page"])
	assert.Equal(t, float64(41), body["total"])
	assert.Len(t, body["data"], 1)
	assert.Equal(t, "open", fp.params.Filters["status"])

	rec = f.do(t, http.MethodGet, "/postings?per_page=500", "", auth.RoleViewer)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["fields"], "per_page")
}

func TestUpdatePosting_PassesVersion(t *testing.T) {
	fp := &fakePostings{}
	f := newFixture(t, Services{Postings: fp})
	id := uuid.New()

	rec := f.do(t, http.MethodPut, "/postings/"+id.String(), `{"title":"Staff Engineer","version":3}`, auth.RoleRecruiter)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, fp.version)
	assert.Equal(t, "Staff Engineer", fp.input.Title)

	fp.err = store.ErrOptimisticLock
	rec = f.do(t, http.MethodPut, "/postings/"+id.String(), `{"title":"Staff Engineer","version":2}`, auth.RoleRecruiter)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/postings/not-a-uuid", `{"title":"x"}`, auth.RoleRecruiter)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveApplication(t *testing.T) {
	fa := &fakeApplications{}
	f := newFixture(t, Services{Applications: fa})
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/applications/"+id.String()+"/move",
		`{"to":"interview","reason":"strong screen","expected_version":4}`, auth.RoleHiringManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, pipeline.MoveRequest{To: pipeline.StageInterview, Reason: "strong screen", ExpectedVersion: 4}, fa.move)

	fa.err = &pipeline.TransitionError{From: pipeline.StageApplied, To: pipeline.StageOffer, Reason: "stages cannot be skipped"}
	rec = f.do(t, http.MethodPost, "/applications/"+id.String()+"/move", `{"to":"offer"}`, auth.RoleHiringManager)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "stages cannot be skipped")

	rec = f.do(t, http.MethodPost, "/applications/"+id.String()+"/move", `{"to":"offer"}`, auth.RoleViewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReorderApplication(t *testing.T) {
	f := newFixture(t, Services{Applications: &fakeApplications{}})
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/applications/"+id.String()+"/reorder", `{"position":1}`, auth.RoleRecruiter)
	require.Equal(t, http.StatusOK, rec.Code)
	column := decodeBody(t, rec)["column"].([]interface{})
	require.Len(t, column, 2)
	assert.Equal(t, id.String(), column[1].(map[string]interface{})["id"])
}

func TestApply_RequiresIDs(t *testing.T) {
	f := newFixture(t, Services{Applications: &fakeApplications{}})

	rec := f.do(t, http.MethodPost, "/applications", `{}`, auth.RoleRecruiter)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]interface{})
	assert.Contains(t, fields, "posting_id")
	assert.Contains(t, fields, "candidate_id")
}

func TestSubmitBulk(t *testing.T) {
	fb := &fakeBulk{}
	f := newFixture(t, Services{Bulk: fb})
	a, b := uuid.New(), uuid.New()

	rec := f.do(t, http.MethodPost, "/bulk",
		`{"action":"tag","application_ids":["`+a.String()+`"],"params":{"tag":"senior"}}`, auth.RoleRecruiter)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "senior", fb.req.Params.Tag)

	rec = f.do(t, http.MethodPost, "/bulk",
		`{"action":"tag","application_ids":["`+a.String()+`","`+b.String()+`"],"params":{"tag":"senior"}}`, auth.RoleRecruiter)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/bulk", `{"action":"tag"}`, auth.RoleHiringManager)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhooks_SecretShownOnlyOnCreate(t *testing.T) {
	fw := &fakeWebhooks{}
	f := newFixture(t, Services{Webhooks: fw})

	rec := f.do(t, http.MethodPost, "/webhooks",
		`{"url":"https://example.com/hook","events":["application.stage_changed"]}`, auth.RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "whsec_abc", decodeBody(t, rec)["secret"])

	rec = f.do(t, http.MethodGet, "/webhooks", "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "whsec_abc")

	rec = f.do(t, http.MethodGet, "/webhooks", "", auth.RoleRecruiter)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookDeliveries_Limit(t *testing.T) {
	fw := &fakeWebhooks{}
	f := newFixture(t, Services{Webhooks: fw})
	path := "/webhooks/" + uuid.NewString() + "/deliveries"

	rec := f.do(t, http.MethodGet, path, "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultDeliveryLimit, fw.limit)

	rec = f.do(t, http.MethodGet, path+"?limit=10", "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, fw.limit)

	rec = f.do(t, http.MethodGet, path+"?limit=0", "", auth.RoleAdmin)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = f.do(t, http.MethodGet, path+"?limit=many", "", auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAudit(t *testing.T) {
	fa := &fakeAudit{}
	f := newFixture(t, Services{Audit: fa})

	rec := f.do(t, http.MethodGet, "/audit", "", auth.RoleRecruiter)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]interface{})
	assert.Contains(t, fields, "entity_type")
	assert.Contains(t, fields, "entity_id")

	id := uuid.New()
	rec = f.do(t, http.MethodGet, "/audit?entity_type=posting&entity_id="+id.String(), "", auth.RoleRecruiter)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "posting", fa.entityType)
	assert.Equal(t, id, fa.entityID)
}

func TestDashboard(t *testing.T) {
	fa := &fakeAnalytics{}
	f := newFixture(t, Services{Analytics: fa})

	rec := f.do(t, http.MethodGet, "/analytics/dashboard", "", auth.RoleHiringManager)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, fa.posting)

	posting := uuid.New()
	rec = f.do(t, http.MethodGet, "/analytics/dashboard?posting_id="+posting.String(), "", auth.RoleHiringManager)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fa.posting)
	assert.Equal(t, posting, *fa.posting)

	fa.called = false
	rec = f.do(t, http.MethodGet, "/analytics/dashboard?posting_id=nope", "", auth.RoleHiringManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, fa.called)
}

func TestJobStats_AdminOnly(t *testing.T) {
	f := newFixture(t, Services{Jobs: fakeStats{}})

	rec := f.do(t, http.MethodGet, "/jobs/stats", "", auth.RoleRecruiter)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/jobs/stats", "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queue":"webhooks"`)
}

func TestNewRouter_RegistersRoutes(t *testing.T) {
	h := NewRouter(Config{Tokens: auth.NewAuthService("s", time.Hour)}, Services{
		Users:        &fakeUsers{},
		Postings:     &fakePostings{},
		Applications: &fakeApplications{},
		Webhooks:     &fakeWebhooks{},
	})
	routes, err := router.Routes(h.(chi.Routes))
	require.NoError(t, err)

	registered := make(map[string]bool, len(routes))
	for _, rt := range routes {
		registered[rt.Method+" "+rt.Pattern] = true
	}
	for _, want := range []string{
		"POST /api/v1/auth/login",
		"GET /api/v1/healthz",
		"POST /api/v1/postings/{id}/status",
		"GET /api/v1/postings/{id}/board",
		"POST /api/v1/applications/{id}/move",
		"GET /api/v1/webhooks/{id}/deliveries",
	} {
		assert.True(t, registered[want], want)
	}
	assert.False(t, registered["GET /api/v1/candidates"])
}

func TestUnknownRouteIsJSON(t *testing.T) {
	f := newFixture(t, Services{})
	rec := f.do(t, http.MethodGet, "/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}
