package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplates(t *testing.T) {
	tmpl := DefaultTemplates()
	assert.Equal(t, []string{
		TemplateApplicationReceived,
		TemplateDocumentRejected,
		TemplateInterviewInvite,
		TemplateStageChanged,
	}, tmpl.Names())
}

func TestRender(t *testing.T) {
	tmpl := DefaultTemplates()

	subject, body, err := tmpl.Render(TemplateStageChanged, map[string]interface{}{
		"FirstName":    "Ada",
		"PostingTitle": "Backend Engineer",
		"Stage":        "interview",
	})
	require.NoError(t, err)
	assert.Equal(t, "Update on your application for Backend Engineer", subject)
	assert.Equal(t, "Hi Ada,\n\nYour application for Backend Engineer has moved to interview.", body)

	_, body, err = tmpl.Render(TemplateInterviewInvite, map[string]interface{}{
		"FirstName":    "Ada",
		"PostingTitle": "Backend Engineer",
		"When":         "Monday 10:00",
		"Location":     "Berlin office",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Location: Berlin office")
}

func TestRender_MissingData(t *testing.T) {
	tmpl := DefaultTemplates()
	_, _, err := tmpl.Render(TemplateDocumentRejected, map[string]interface{}{"FirstName": "Ada"})
	assert.Error(t, err)

	_, _, err = tmpl.Render("nope", nil)
	assert.EqualError(t, err, `unknown template "nope"`)
}

func TestParseTemplate(t *testing.T) {
	_, err := ParseTemplate("broken", "{{.X", "body")
	assert.Error(t, err)

	custom, err := ParseTemplate("welcome", "Hi {{.Name}}", "Welcome aboard")
	require.NoError(t, err)
	tmpl := DefaultTemplates()
	tmpl.Add(custom)
	assert.True(t, tmpl.Has("welcome"))

	subject, _, err := tmpl.Render("welcome", map[string]interface{}{"Name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", subject)
}
