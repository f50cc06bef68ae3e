package domain

import (
	"time"
)

type Label string

const (
	LabelReading     Label = "reading"
	LabelMovement    Label = "movement"
	LabelFocus       Label = "focus"
	LabelMentalBreak Label = "mental_break"
	LabelCreativity  Label = "creativity"
	LabelRoutine     Label = "routine"
	LabelSocial      Label = "social"
	LabelAdmin       Label = "admin"
)

// Labels lists every mission category in display order.
var Labels = []Label{
	LabelReading,
	LabelMovement,
	LabelFocus,
	LabelMentalBreak,
	LabelCreativity,
	LabelRoutine,
	LabelSocial,
	LabelAdmin,
}

func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// ParseLabel validates a raw label string.
func ParseLabel(raw string) (Label, error) {
	l := Label(raw)
	if !l.Valid() {
		return "", ValidationError{Field: "label", Reason: "unknown label " + raw}
	}
	return l, nil
}

type Source string

const (
	SourceAuto   Source = "auto"
	SourceCustom Source = "custom"
)

func (s Source) Valid() bool {
	return s == SourceAuto || s == SourceCustom
}

type TxType string

const (
	TxReward   TxType = "reward"
	TxPenalty  TxType = "penalty"
	TxPurchase TxType = "purchase"
)

func (t TxType) Valid() bool {
	return t == TxReward || t == TxPenalty || t == TxPurchase
}

// Effect marks the ledger side of a mission transition. A mission carries at
// most one transaction per effect.
type Effect string

const (
	EffectNone      Effect = ""
	EffectCompleted Effect = "completed"
	EffectRefused   Effect = "refused"
)

type Mission struct {
	ID              string     `json:"id"`
	Label           Label      `json:"label"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Feedback        *Feedback  `json:"feedback,omitempty"`
	Source          Source     `json:"source"`
	Visible         bool       `json:"visible"`
	Essential       bool       `json:"essential"`
	RewardAmount    *Points    `json:"reward_amount,omitempty"`
	PenaltyAmount   *Points    `json:"penalty_amount,omitempty"`
}

// Penalty returns the refusal penalty. It is only meaningful for essential missions.
func (m Mission) Penalty() (Points, bool) {
	if !m.Essential || m.PenaltyAmount == nil {
		return 0, false
	}
	return *m.PenaltyAmount, true
}

func (m Mission) Reward() (Points, bool) {
	if m.RewardAmount == nil {
		return 0, false
	}
	return *m.RewardAmount, true
}

// Draft is a mission proposal before it is persisted.
type Draft struct {
	Label           Label      `json:"label"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	Source          Source     `json:"source"`
	Visible         bool       `json:"visible,omitempty"`
	Essential       bool       `json:"essential,omitempty"`
	RewardAmount    *Points    `json:"reward_amount,omitempty"`
	PenaltyAmount   *Points    `json:"penalty_amount,omitempty"`
}

// Validate checks the fields a mission record cannot exist without.
func (d Draft) Validate() error {
	if !d.Label.Valid() {
		return ValidationError{Field: "label", Reason: "unknown label " + string(d.Label)}
	}
	if d.Title == "" {
		return ValidationError{Field: "title", Reason: "title is required"}
	}
	if d.DurationMinutes <= 0 {
		return ValidationError{Field: "duration_minutes", Reason: "must be greater than zero"}
	}
	if !d.Source.Valid() {
		return ValidationError{Field: "source", Reason: "must be auto or custom"}
	}
	if d.RewardAmount != nil && *d.RewardAmount < 0 {
		return ValidationError{Field: "reward_amount", Reason: "must not be negative"}
	}
	if d.PenaltyAmount != nil && *d.PenaltyAmount < 0 {
		return ValidationError{Field: "penalty_amount", Reason: "must not be negative"}
	}
	return nil
}

type Feedback struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Amount      Points    `json:"amount"`
	Description string    `json:"description"`
	MissionID   string    `json:"mission_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Type        TxType    `json:"type"`
	Effect      Effect    `json:"effect,omitempty"`
}

// LabelStat aggregates mission history for one label.
type LabelStat struct {
	Label          Label   `json:"label"`
	Count          int     `json:"count"`
	CompletedCount int     `json:"completed_count"`
	CompletionRate float64 `json:"completion_rate"`
	AverageRating  float64 `json:"average_rating"`
	TotalDuration  int     `json:"total_duration"`
}

type Preferences struct {
	ActiveTimeStart    string `json:"active_time_start"`
	ActiveTimeEnd      string `json:"active_time_end"`
	DailyBudgetMinutes int    `json:"daily_budget_minutes"`
}

// GenerationInput is everything the content generator gets to see.
type GenerationInput struct {
	RecentMissions []Mission   `json:"recent_missions"`
	LabelStats     []LabelStat `json:"label_stats"`
	Preferences    Preferences `json:"preferences"`
	CurrentTime    time.Time   `json:"current_time"`
}

// GateStatus is the result of checking the rest window before generating.
type GateStatus struct {
	Allowed          bool       `json:"allowed"`
	RemainingMinutes int        `json:"remaining_minutes"`
	IsShortBreak     bool       `json:"is_short_break"`
	NextAllowedAt    *time.Time `json:"next_allowed_at,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
