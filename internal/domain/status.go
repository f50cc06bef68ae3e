package domain

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusRefused   Status = "refused"
	StatusFailed    Status = "failed"
)

// Statuses lists every mission status.
var Statuses = []Status{
	StatusPending,
	StatusScheduled,
	StatusActive,
	StatusCompleted,
	StatusRefused,
	StatusFailed,
}

// transitions is the only place mission status edges are defined.
// Nothing leads to failed.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusRefused},
	StatusScheduled: {StatusActive, StatusRefused},
	StatusActive:    {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusActive, StatusCompleted, StatusRefused, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefused, StatusFailed:
		return true
	}
	return false
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return s, nil
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanSchedule reports whether a mission in status s may be (re)scheduled.
func CanSchedule(s Status) bool {
	return s == StatusPending || s == StatusScheduled
}
