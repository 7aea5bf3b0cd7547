package postings

import (
	"fmt"

	"github.com/hireflow/hireflow/internal/apperr"
)

// Status is the lifecycle state of a posting
type Status string

const (
	StatusDraft    Status = "draft"
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

// ErrInvalidTransition is returned for status changes the lifecycle forbids
var ErrInvalidTransition = fmt.Errorf("invalid posting status transition: %w", apperr.ErrConflict)

var transitions = map[Status][]Status{
	StatusDraft:  {StatusOpen, StatusArchived},
	StatusOpen:   {StatusClosed},
	StatusClosed: {StatusOpen, StatusArchived},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a posting may move from one status to another
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EmploymentType is the kind of contract offered
type EmploymentType string

const (
	FullTime   EmploymentType = "full_time"
	PartTime   EmploymentType = "part_time"
	Contract   EmploymentType = "contract"
	Internship EmploymentType = "internship"
)

var employmentTypes = []string{string(FullTime), string(PartTime), string(Contract), string(Internship)}
