// Package task provides the taskara domain model.
package task

import (
	"fmt"
	"strings"
)

// Status represents the current state of a task.
type Status string

const (
	StatusCreated    Status = "created"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"   // Terminal: output captured
	StatusFailed     Status = "failed"    // Terminal
	StatusCancelled  Status = "cancelled" // Terminal
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusCreated, StatusAssigned, StatusInProgress,
		StatusSuccess, StatusFailed, StatusCancelled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusAssigned, StatusInProgress,
		StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transition may leave the status.
func IsTerminal(s Status) bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// allowedTransitions lists every legal edge of the lifecycle.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusAssigned:   {},
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusAssigned: {
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusInProgress: {
		StatusSuccess:   {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// NextStatuses returns the statuses reachable in one step from s.
func NextStatuses(s Status) []Status {
	var out []Status
	for _, candidate := range ValidStatuses() {
		if CanTransition(s, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidStatus(st) {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
