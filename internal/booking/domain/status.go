package domain

import "fmt"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown booking status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Staying in the same status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return s.Valid()
	}
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	allowed, ok := allowedTransitions[s]
	return ok && len(allowed) == 0
}

// DriverAssigned reports whether s is accepted or a later state on the ride path.
func (s Status) DriverAssigned() bool {
	switch s {
	case StatusAccepted, StatusOngoing, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
