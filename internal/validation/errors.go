// Package validation collects field-level input errors.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"
)

// Errors contains validation errors keyed by field name
type Errors struct {
	Fields map[string][]string `json:"fields"`
}

// New creates an empty Errors
func New() *Errors {
	return &Errors{Fields: make(map[string][]string)}
}

// Add adds a validation error for a specific field
func (e *Errors) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors returns true if there are any validation errors
func (e *Errors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Count returns the total number of validation errors across all fields
func (e *Errors) Count() int {
	count := 0
	for _, messages := range e.Fields {
		count += len(messages)
	}
	return count
}

// Err returns e when it holds errors and nil otherwise
func (e *Errors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Error implements the error interface. Fields are listed in name order.
func (e *Errors) Error() string {
	if !e.HasErrors() {
		return "validation failed"
	}

	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var messages []string
	for _, field := range fields {
		for _, msg := range e.Fields[field] {
			messages = append(messages, fmt.Sprintf("%s: %s", field, msg))
		}
	}

	return "validation failed: " + strings.Join(messages, "; ")
}

// MarshalJSON renders the errors in the API error envelope
func (e *Errors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string              `json:"error"`
		Fields map[string][]string `json:"fields"`
	}{
		Error:  "validation_failed",
		Fields: e.Fields,
	})
}

// As extracts *Errors from err
func As(err error) (*Errors, bool) {
	var ve *Errors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Required adds an error when value is blank
func (e *Errors) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.Add(field, "is required")
	}
}

// MaxLength adds an error when value exceeds max runes
func (e *Errors) MaxLength(field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		e.Add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// OneOf adds an error when value is not one of allowed
func (e *Errors) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	e.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Email adds an error when value is not a bare email address
func (e *Errors) Email(field, value string) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		e.Add(field, "must be a valid email address")
	}
}
