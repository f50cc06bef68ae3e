package server

import (
	"encoding/json"
	"errors"
	"time"

	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/ledger"
)

// Request payloads. Point amounts travel as decimal strings ("7.50").

type CreateMissionRequest struct {
	Label           string     `json:"label" enum:"reading,movement,focus,mental_break,creativity,routine,social,admin"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	Visible         bool       `json:"visible,omitempty"`
	Essential       bool       `json:"essential,omitempty"`
	RewardAmount    *string    `json:"reward_amount,omitempty" example:"7.50"`
	PenaltyAmount   *string    `json:"penalty_amount,omitempty" example:"3.00"`
}

type TransitionRequest struct {
	Status      string     `json:"status" enum:"pending,scheduled,active,completed,refused,failed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Visible     bool      `json:"visible,omitempty"`
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

type FeedbackRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment,omitempty"`
}

type CreditRequest struct {
	Amount      string  `json:"amount" example:"5.00"`
	Description string  `json:"description"`
	MissionID   *string `json:"mission_id,omitempty"`
}

type SpendRequest struct {
	Amount      string `json:"amount" example:"2.00"`
	Description string `json:"description"`
}

// Response payloads

type FeedbackResponse struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type MissionResponse struct {
	ID              string            `json:"id"`
	Label           string            `json:"label"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Feedback        *FeedbackResponse `json:"feedback,omitempty"`
	Source          string            `json:"source"`
	Visible         bool              `json:"visible"`
	Essential       bool              `json:"essential"`
	RewardAmount    *string           `json:"reward_amount,omitempty"`
	PenaltyAmount   *string           `json:"penalty_amount,omitempty"`
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	MissionID   string    `json:"mission_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Type        string    `json:"type"`
	Effect      string    `json:"effect,omitempty"`
}

type TransitionResponse struct {
	Mission     MissionResponse      `json:"mission"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
	Gate        *domain.GateStatus   `json:"gate,omitempty"`
}

type SettleResponse struct {
	Mission     MissionResponse      `json:"mission"`
	Applied     bool                 `json:"applied"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
}

type VisibilityResponse struct {
	Mission MissionResponse `json:"mission"`
	Charged string          `json:"charged"`
}

type BalanceResponse struct {
	Balance string `json:"balance"`
}

type CreditResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Balance     string              `json:"balance"`
}

type SpendResponse struct {
	OK      bool   `json:"ok"`
	Balance string `json:"balance"`
}

type VerifyResponse struct {
	Balance string `json:"balance"`
	Sum     string `json:"sum"`
	Count   int    `json:"count"`
	OK      bool   `json:"ok"`
}

type ClearResponse struct {
	Deleted int64 `json:"deleted"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type ConfigResponse struct {
	Economy     config.Economy     `json:"economy"`
	Rest        config.Rest        `json:"rest"`
	Preferences config.Preferences `json:"preferences"`
	Generator   struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	} `json:"generator"`
}

type paginatedMissions struct {
	Items []MissionResponse `json:"items"`
}

type paginatedTransactions struct {
	Items []TransactionResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type labelStats struct {
	Items []domain.LabelStat `json:"items"`
}

func missionResponse(m domain.Mission) MissionResponse {
	res := MissionResponse{
		ID:              m.ID,
		Label:           string(m.Label),
		Title:           m.Title,
		Description:     m.Description,
		DurationMinutes: m.DurationMinutes,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		ScheduledAt:     m.ScheduledAt,
		CompletedAt:     m.CompletedAt,
		Source:          string(m.Source),
		Visible:         m.Visible,
		Essential:       m.Essential,
		RewardAmount:    pointsPtr(m.RewardAmount),
		PenaltyAmount:   pointsPtr(m.PenaltyAmount),
	}
	if m.Feedback != nil {
		res.Feedback = feedbackResponse(*m.Feedback)
	}
	return res
}

func feedbackResponse(f domain.Feedback) *FeedbackResponse {
	return &FeedbackResponse{
		ID:        f.ID,
		MissionID: f.MissionID,
		Rating:    f.Rating,
		Comment:   f.Comment,
		CreatedAt: f.CreatedAt,
	}
}

func transactionResponse(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          t.ID,
		Amount:      t.Amount.String(),
		Description: t.Description,
		MissionID:   t.MissionID,
		CreatedAt:   t.CreatedAt,
		Type:        string(t.Type),
		Effect:      string(t.Effect),
	}
}

func transactionPtr(t *domain.Transaction) *TransactionResponse {
	if t == nil {
		return nil
	}
	res := transactionResponse(*t)
	return &res
}

func verifyResponse(v ledger.VerifyResult) VerifyResponse {
	return VerifyResponse{
		Balance: v.Balance.String(),
		Sum:     v.Sum.String(),
		Count:   v.Count,
		OK:      v.OK,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ConfigResponse {
	res := ConfigResponse{
		Economy:     cfg.Economy,
		Rest:        cfg.Rest,
		Preferences: cfg.Preferences,
	}
	res.Generator.Provider = cfg.Generator.Provider
	res.Generator.Model = cfg.Generator.Model
	return res
}

func mapMissions(items []domain.Mission) []MissionResponse {
	out := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		out = append(out, missionResponse(m))
	}
	return out
}

func mapTransactions(items []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, transactionResponse(t))
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func pointsPtr(p *domain.Points) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func parseAmount(field, raw string) (domain.Points, error) {
	p, err := domain.ParsePoints(raw)
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		verr.Field = field
		return 0, verr
	}
	return p, err
}

func parseOptionalAmount(field string, raw *string) (*domain.Points, error) {
	if raw == nil {
		return nil, nil
	}
	p, err := parseAmount(field, *raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
