// Package pipeline moves applications through hiring stages. Every move is
// checked by a Machine: structural rules first, then registered guards.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/apperr"
	"github.com/hireflow/hireflow/internal/ats/postings"
)

// TransitionError is a move refused by the machine
type TransitionError struct {
	From   Stage
	To     Stage
	Reason string
	// Guard names the guard that refused the move; empty for structural rules
	Guard string
}

func (e *TransitionError) Error() string {
	if e.Guard != "" {
		return fmt.Sprintf("cannot move from %s to %s: %s (%s)", e.From, e.To, e.Reason, e.Guard)
	}
	return fmt.Sprintf("cannot move from %s to %s: %s", e.From, e.To, e.Reason)
}

// Unwrap makes transition errors match apperr.ErrConflict
func (e *TransitionError) Unwrap() error {
	return apperr.ErrConflict
}

// Transition is a proposed move of one application
type Transition struct {
	Application *Application
	Posting     *postings.Posting
	To          Stage
	Reason      string
	ActorID     uuid.UUID
}

// From is the stage the application is leaving
func (t *Transition) From() Stage {
	return t.Application.Stage
}

// Deny builds the error a guard returns to refuse t
func (t *Transition) Deny(format string, args ...interface{}) error {
	return &TransitionError{From: t.From(), To: t.To, Reason: fmt.Sprintf(format, args...)}
}

// Guard is an extra precondition on moves. Guards return an error created
// with Transition.Deny to refuse a move; any other error aborts it as a
// failure of the guard itself.
type Guard interface {
	Name() string
	Check(ctx context.Context, t *Transition) error
}

// Machine validates moves between stages
type Machine struct {
	// AllowSkip permits applied -> interview for postings with fast-track enabled
	AllowSkip bool

	guards []Guard
}

// NewMachine creates a machine with the given guards, run in order
func NewMachine(guards ...Guard) *Machine {
	return &Machine{AllowSkip: true, guards: guards}
}

// Use appends a guard
func (m *Machine) Use(g Guard) {
	m.guards = append(m.guards, g)
}

// Validate checks t against the structural rules and then each guard. The
// first failure is returned.
func (m *Machine) Validate(ctx context.Context, t *Transition) error {
	if err := m.structural(t); err != nil {
		return err
	}

	for _, g := range m.guards {
		if err := g.Check(ctx, t); err != nil {
			if te, ok := err.(*TransitionError); ok {
				if te.Guard == "" {
					te.Guard = g.Name()
				}
				return te
			}
			return fmt.Errorf("guard %s: %w", g.Name(), err)
		}
	}
	return nil
}

func (m *Machine) structural(t *Transition) error {
	from, to := t.From(), t.To

	switch {
	case !to.Valid():
		return t.Deny("unknown stage %q", to)
	case from == to:
		return t.Deny("application is already in %s", to)
	case from.Terminal():
		return t.Deny("%s is a terminal stage", from)
	case to == StageWithdrawn:
		return nil
	case to == StageRejected:
		if strings.TrimSpace(t.Reason) == "" {
			return t.Deny("a reason is required to reject")
		}
		return nil
	}

	delta := to.index() - from.index()
	switch {
	case delta == 1:
		return nil
	case delta == 2 && from == StageApplied && m.skipAllowed(t):
		return nil
	case delta == -1:
		return nil
	case delta > 1:
		return t.Deny("stages cannot be skipped")
	default:
		return t.Deny("applications can only move back one stage")
	}
}

func (m *Machine) skipAllowed(t *Transition) bool {
	return m.AllowSkip && t.Posting != nil && t.Posting.AllowFastTrack
}

// Allowed returns the stages app could move to if no guard objected, in
// board order. Rejection is listed even though it needs a reason.
func (m *Machine) Allowed(app *Application, posting *postings.Posting) []Stage {
	var result []Stage
	for _, to := range Stages() {
		t := &Transition{Application: app, Posting: posting, To: to, Reason: "-"}
		if m.structural(t) == nil {
			result = append(result, to)
		}
	}
	return result
}
