package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "Queue", "Pending", "Failed")
	table.AddRow("default", "3", "0")
	table.AddRow("webhooks", "120", "2", "ignored")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Queue     Pending  Failed", lines[0])
	assert.Equal(t, "────────  ───────  ──────", lines[1])
	assert.Equal(t, "default   3        0", lines[2])
	assert.Equal(t, "webhooks  120      2", lines[3])
	assert.NotContains(t, buf.String(), "ignored")
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValues_Render(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValues(&buf, true)
	kv.Add("ID", "42")
	kv.Add("Email", "ada@example.com")
	kv.Render()

	assert.Equal(t, "ID:    42\nEmail: ada@example.com\n", buf.String())
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Jobs", true)
	assert.Equal(t, "Jobs\n────\n", buf.String())
}

func TestFormat(t *testing.T) {
	out := UnknownRoleError("recrutier", []string{"recruiter"}, true)
	assert.Contains(t, out, "✗ UNKNOWN ROLE: recrutier")
	assert.Contains(t, out, "Did you mean: recruiter?")
	assert.Contains(t, out, "→ List roles: hireflow user create --help")

	out = MigrationError(errors.New("syntax error at or near \"TABL\""), true)
	assert.Contains(t, out, "MIGRATION FAILED")
	assert.Contains(t, out, "hireflow migrate status")

	out = Warning("redis not configured", true)
	assert.Equal(t, "! redis not configured\n", out)
}

func TestWithSpinner(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	err := WithSpinner(&buf, "applying migrations", true, func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ applying migrations")

	buf.Reset()
	boom := errors.New("boom")
	err = WithSpinner(&buf, "rolling back", true, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "✗ rolling back failed")
}

func TestSpinner_StopTwice(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "working", time.Millisecond, true)
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()
	assert.Contains(t, buf.String(), "working")
}
