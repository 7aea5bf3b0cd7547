// Package ui renders terminal output for the hireflow command: colored
// messages, tables, spinners and suggestions.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a structured problem report
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Consequence string
	Suggestions []string
	// Hints are follow-up commands shown as arrows
	Hints   []string
	NoColor bool
}

func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// Format renders m
//
//	✗ UNKNOWN ROLE: recrutier
//	   Did you mean: recruiter?
//
//	   → List roles: hireflow user create --help
func Format(m Message) string {
	var header, body *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		header, body, symbol = paint(m.NoColor, color.FgYellow, color.Bold), paint(m.NoColor, color.FgYellow), "!"
	case LevelInfo:
		header, body, symbol = paint(m.NoColor, color.FgCyan, color.Bold), paint(m.NoColor, color.FgCyan), "i"
	default:
		header, body, symbol = paint(m.NoColor, color.FgRed, color.Bold), paint(m.NoColor, color.FgRed), "✗"
	}

	var b strings.Builder
	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if m.Consequence != "" {
		body.Fprintf(&b, "   %s\n", m.Consequence)
	}
	if len(m.Suggestions) > 0 {
		paint(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}
	if len(m.Hints) > 0 {
		b.WriteString("\n")
		hint := paint(m.NoColor, color.FgCyan)
		for _, h := range m.Hints {
			hint.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// Write renders m to w
func Write(w io.Writer, m Message) {
	fmt.Fprint(w, Format(m))
}

// Success renders a one-line success message
func Success(w io.Writer, message string, noColor bool) {
	paint(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// UnknownRoleError reports a role name that is not defined
func UnknownRoleError(role string, suggestions []string, noColor bool) string {
	return Format(Message{
		Context:     "unknown role",
		Problem:     role,
		Suggestions: suggestions,
		Hints:       []string{"List roles: hireflow user create --help"},
		NoColor:     noColor,
	})
}

// MigrationError reports a failed schema change
func MigrationError(err error, noColor bool) string {
	return Format(Message{
		Context:     "migration failed",
		Problem:     err.Error(),
		Consequence: "The failing migration was rolled back; earlier ones stay applied.",
		Hints: []string{
			"Check status: hireflow migrate status",
			"Roll back: hireflow migrate down",
		},
		NoColor: noColor,
	})
}

// ConfigError reports configuration that cannot be loaded
func ConfigError(err error, noColor bool) string {
	return Format(Message{
		Context: "configuration error",
		Problem: err.Error(),
		Hints: []string{
			"Pass a file: hireflow --config hireflow.yaml",
			"Or set variables such as HIREFLOW_DATABASE_URL",
		},
		NoColor: noColor,
	})
}

// Warning renders a warning
func Warning(message string, noColor bool) string {
	return Format(Message{Level: LevelWarning, Problem: message, NoColor: noColor})
}
