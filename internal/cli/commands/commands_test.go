package commands

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/cli/config"
)

const testConfig = `
auth:
  jwt_secret: test-secret
database:
  url: postgres://localhost/hireflow_test
log:
  level: error
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hireflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

// stubDB points openDB at a sqlmock database for the duration of the test
func stubDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	orig := openDB
	openDB = func(context.Context, *config.Config) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = orig })
	return mock
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "hireflow", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "serve", "worker", "migrate", "tenant", "user", "jobs", "analytics"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.3-test"
	defer func() { Version = "dev" }()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3-test")
	assert.Contains(t, out, "Go version:")
}

func TestConfigError_IsReported(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "jobs", "stats")
	require.Error(t, err)

	var re *reportError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.report, "CONFIGURATION ERROR")
}

func TestJobsStats(t *testing.T) {
	mock := stubDB(t)
	mock.ExpectQuery("SELECT queue").WillReturnRows(
		sqlmock.NewRows([]string{"queue", "pending", "running", "completed", "failed", "cancelled"}).
			AddRow("default", 2, 0, 10, 1, 0).
			AddRow("webhooks", 0, 1, 4, 0, 0))

	out, err := run(t, "--config", writeConfig(t), "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue")
	assert.Contains(t, out, "webhooks")
	assert.Contains(t, out, "1 job(s) failed permanently")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStatus(t *testing.T) {
	mock := stubDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), time.Now()))

	out, err := run(t, "--config", writeConfig(t), "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "init")
	assert.Contains(t, out, "applied")
	assert.NotContains(t, out, "pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantCreate(t *testing.T) {
	mock := stubDB(t)
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(sqlmock.AnyArg(), "acme", "Acme Corp", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := run(t, "--config", writeConfig(t), "tenant", "create", "--slug", "acme", "--name", "Acme Corp")
	require.NoError(t, err)
	assert.Contains(t, out, "Tenant created")
	assert.Contains(t, out, "Slug: acme")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_UnknownRoleSuggests(t *testing.T) {
	_, err := run(t, "user", "create", "--tenant", "acme", "--role", "recrutier")
	require.Error(t, err)

	var re *reportError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.report, "UNKNOWN ROLE: recrutier")
	assert.Contains(t, re.report, "Did you mean: recruiter?")
}

func TestPromptUser_AsksOnlyForMissing(t *testing.T) {
	userTenant, userEmail, userName, userPassword, userRoles = "acme", "ada@acme.test", "", "", nil
	defer func() { userTenant, userEmail, userName, userPassword, userRoles = "", "", "", "", nil }()

	var asked []string
	orig := askOne
	askOne = func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error {
		switch p := p.(type) {
		case *survey.Input:
			asked = append(asked, p.Message)
			*(response.(*string)) = "Ada"
		case *survey.Password:
			asked = append(asked, p.Message)
			*(response.(*string)) = "s3cret-pass"
		case *survey.MultiSelect:
			asked = append(asked, p.Message)
			*(response.(*[]string)) = []string{"viewer"}
		}
		return nil
	}
	defer func() { askOne = orig }()

	require.NoError(t, promptUser())
	assert.Equal(t, []string{"Name:", "Password:", "Roles:"}, asked)
	assert.Equal(t, "Ada", userName)
	assert.Equal(t, "s3cret-pass", userPassword)
	assert.Equal(t, []string{"viewer"}, userRoles)
}
