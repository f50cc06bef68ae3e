package domain

import (
	"errors"
	"fmt"
)

// ErrInsufficientBalance is returned when a purchase exceeds the balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ValidationError rejects malformed input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateTransitionError reports an illegal status edge or an active-mission conflict.
type StateTransitionError struct {
	MissionID string
	From      Status
	To        Status
	Reason    string
}

func (e StateTransitionError) Error() string {
	msg := fmt.Sprintf("invalid mission status transition %s -> %s", e.From, e.To)
	if e.MissionID != "" {
		msg = fmt.Sprintf("mission %s: %s", e.MissionID, msg)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// GenerationFailedError aborts mission generation with nothing persisted.
type GenerationFailedError struct {
	Reason string
	Err    error
}

func (e GenerationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mission generation failed: %s: %v", e.Reason, e.Err)
	}
	return "mission generation failed: " + e.Reason
}

func (e GenerationFailedError) Unwrap() error { return e.Err }

// PersistenceError wraps store failures. Callers may retry these.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// RestingError is returned when a mission is requested inside the rest window.
type RestingError struct {
	Gate GateStatus
}

func (e RestingError) Error() string {
	if e.Gate.IsShortBreak {
		return fmt.Sprintf("short break: %d minutes of rest before the next mission", e.Gate.RemainingMinutes)
	}
	return fmt.Sprintf("resting: %d minutes before the next mission", e.Gate.RemainingMinutes)
}

// IsInsufficientBalance reports whether err is a balance shortfall.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}
