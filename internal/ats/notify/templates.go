package notify

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Template names
const (
	TemplateApplicationReceived = "application_received"
	TemplateStageChanged        = "stage_changed"
	TemplateDocumentRejected    = "document_rejected"
	TemplateInterviewInvite     = "interview_invite"
)

var builtin = map[string]struct{ subject, body string }{
	TemplateApplicationReceived: {
		subject: `We received your application for {{.PostingTitle}}`,
		body: `Hi {{.FirstName}},

Thanks for applying for {{.PostingTitle}}. We will be in touch once the team has reviewed your application.`,
	},
	TemplateStageChanged: {
		subject: `Update on your application for {{.PostingTitle}}`,
		body: `Hi {{.FirstName}},

Your application for {{.PostingTitle}} has moved to {{.Stage}}.{{with index . "Reason"}}
{{.}}{{end}}`,
	},
	TemplateDocumentRejected: {
		subject: `Please re-submit your {{.DocumentType}}`,
		body: `Hi {{.FirstName}},

We could not accept the {{.DocumentType}} you sent for {{.PostingTitle}}: {{.Note}}
Please upload a new one.`,
	},
	TemplateInterviewInvite: {
		subject: `Interview for {{.PostingTitle}}`,
		body: `Hi {{.FirstName}},

We would like to invite you to interview for {{.PostingTitle}} on {{.When}}.{{with index . "Location"}}
Location: {{.}}{{end}}`,
	},
}

// Template is a parsed subject and body pair
type Template struct {
	Name    string
	subject *template.Template
	body    *template.Template
}

// Templates holds the message templates by name
type Templates struct {
	byName map[string]*Template
}

// ParseTemplate parses a subject and body. Referencing data that is not
// supplied is an error at render time.
func ParseTemplate(name, subject, body string) (*Template, error) {
	s, err := template.New(name + ".subject").Option("missingkey=error").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("template %s subject: %w", name, err)
	}
	b, err := template.New(name + ".body").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("template %s body: %w", name, err)
	}
	return &Template{Name: name, subject: s, body: b}, nil
}

// DefaultTemplates returns the built-in templates
func DefaultTemplates() *Templates {
	t := &Templates{byName: make(map[string]*Template, len(builtin))}
	for name, src := range builtin {
		tmpl, err := ParseTemplate(name, src.subject, src.body)
		if err != nil {
			panic(err)
		}
		t.byName[name] = tmpl
	}
	return t
}

// Add registers or replaces a template
func (t *Templates) Add(tmpl *Template) {
	t.byName[tmpl.Name] = tmpl
}

// Has reports whether a template exists
func (t *Templates) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Names lists the template names, sorted
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data
func (t *Templates) Render(name string, data map[string]interface{}) (subject, body string, err error) {
	tmpl, ok := t.byName[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var sb, bb bytes.Buffer
	if err := tmpl.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(bb.String()), nil
}
