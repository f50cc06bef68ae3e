// Package rest computes when the next mission may be requested after a completion.
package rest

import (
	"time"

	"missionline/internal/domain"
)

// Chooser picks the long rest over the short one.
type Chooser interface {
	LongRest() bool
}

type Scheduler struct {
	ShortMinutes int
	LongMinutes  int
	Chooser      Chooser
}

// NextAllowedAt returns completedAt plus the chosen rest and the minutes chosen.
func (s Scheduler) NextAllowedAt(completedAt time.Time) (time.Time, int) {
	mins := s.ShortMinutes
	if s.Chooser != nil && s.Chooser.LongRest() {
		mins = s.LongMinutes
	}
	return completedAt.Add(time.Duration(mins) * time.Minute), mins
}

// CheckGate reports whether generation is allowed at now.
// A zero nextAllowedAt means no completion was recorded yet.
func CheckGate(now, nextAllowedAt time.Time, shortMinutes int) domain.GateStatus {
	if nextAllowedAt.IsZero() {
		return domain.GateStatus{Allowed: true}
	}
	next := nextAllowedAt
	st := domain.GateStatus{NextAllowedAt: &next}
	if !now.Before(nextAllowedAt) {
		st.Allowed = true
		return st
	}
	remaining := nextAllowedAt.Sub(now)
	st.RemainingMinutes = int((remaining + time.Minute - 1) / time.Minute)
	st.IsShortBreak = st.RemainingMinutes <= shortMinutes
	return st
}

func (s Scheduler) Check(now, nextAllowedAt time.Time) domain.GateStatus {
	return CheckGate(now, nextAllowedAt, s.ShortMinutes)
}
