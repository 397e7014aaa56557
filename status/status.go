// Package status owns the document processing-state machine.
//
// A document moves through queued → parsing → transform → ready. Failure is
// reachable from parsing and transform, is terminal for the pipeline, and is
// informational only — nothing retries a failed document automatically.
// failed → queued is the one backward edge, modelling explicit re-processing.
// Illegal transitions are rejected with ErrBadTransition.
package status

import (
	"errors"
	"fmt"
)

// Status is a document's processing state.
type Status string

const (
	Queued    Status = "queued"
	Parsing   Status = "parsing"
	Transform Status = "transform"
	Ready     Status = "ready"
	Failed    Status = "failed"
)

// ErrBadTransition is returned when a status change is not in the
// transition table.
var ErrBadTransition = errors.New("illegal status transition")

// ErrNotFound is returned when the document does not exist.
var ErrNotFound = errors.New("document not found")

// transitions lists the legal next states for each state.
var transitions = map[Status][]Status{
	Queued:    {Parsing},
	Parsing:   {Transform, Failed},
	Transform: {Ready, Failed},
	Ready:     {},
	Failed:    {Queued}, // explicit re-processing
}

// Parse validates a raw status string.
func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no pipeline transition leads out of s.
// Failed is terminal for the pipeline even though re-processing may
// explicitly requeue it.
func (s Status) Terminal() bool {
	return s == Ready || s == Failed
}
