package missionlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal missionline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Mission represents the API mission model. Amounts are decimal strings.
type Mission struct {
	ID              string     `json:"id"`
	Label           string     `json:"label"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Feedback        *Feedback  `json:"feedback,omitempty"`
	Source          string     `json:"source"`
	Visible         bool       `json:"visible"`
	Essential       bool       `json:"essential"`
	RewardAmount    *string    `json:"reward_amount,omitempty"`
	PenaltyAmount   *string    `json:"penalty_amount,omitempty"`
}

type Feedback struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMission is the body of CreateMission.
type NewMission struct {
	Label           string     `json:"label"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	Visible         bool       `json:"visible,omitempty"`
	Essential       bool       `json:"essential,omitempty"`
	RewardAmount    *string    `json:"reward_amount,omitempty"`
	PenaltyAmount   *string    `json:"penalty_amount,omitempty"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	MissionID   string    `json:"mission_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Type        string    `json:"type"`
	Effect      string    `json:"effect,omitempty"`
}

// Gate is the rest window status.
type Gate struct {
	Allowed          bool       `json:"allowed"`
	RemainingMinutes int        `json:"remaining_minutes"`
	IsShortBreak     bool       `json:"is_short_break"`
	NextAllowedAt    *time.Time `json:"next_allowed_at,omitempty"`
}

type TransitionResult struct {
	Mission     Mission      `json:"mission"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Gate        *Gate        `json:"gate,omitempty"`
}

type SettleResult struct {
	Mission     Mission      `json:"mission"`
	Applied     bool         `json:"applied"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

type VisibilityResult struct {
	Mission Mission `json:"mission"`
	Charged string  `json:"charged"`
}

type SpendResult struct {
	OK      bool   `json:"ok"`
	Balance string `json:"balance"`
}

type Verification struct {
	Balance string `json:"balance"`
	Sum     string `json:"sum"`
	Count   int    `json:"count"`
	OK      bool   `json:"ok"`
}

type LabelStat struct {
	Label          string  `json:"label"`
	Count          int     `json:"count"`
	CompletedCount int     `json:"completed_count"`
	CompletionRate float64 `json:"completion_rate"`
	AverageRating  float64 `json:"average_rating"`
	TotalDuration  int     `json:"total_duration"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMission creates a custom mission.
func (c *Client) CreateMission(ctx context.Context, m NewMission) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", m, &resp)
	return resp, err
}

// GenerateMission asks the server for the next mission.
func (c *Client) GenerateMission(ctx context.Context, activate bool) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions/generate?activate="+strconv.FormatBool(activate), nil, &resp)
	return resp, err
}

// ListMissions lists missions; empty filters are ignored.
func (c *Client) ListMissions(ctx context.Context, status, label string) ([]Mission, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if label != "" {
		q.Set("label", label)
	}
	endpoint := "missions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Mission `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ActiveMission(ctx context.Context) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/active", nil, &resp)
	return resp, err
}

// Transition moves a mission to status.
func (c *Client) Transition(ctx context.Context, id, status string) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, "missions/"+url.PathEscape(id)+"/transition", map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) Schedule(ctx context.Context, id string, at time.Time, visible bool) (Mission, error) {
	body := map[string]any{"scheduled_at": at.UTC().Format(time.RFC3339), "visible": visible}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions/"+url.PathEscape(id)+"/schedule", body, &resp)
	return resp, err
}

// SetVisibility reveals (paid) or hides a mission.
func (c *Client) SetVisibility(ctx context.Context, id string, visible bool) (VisibilityResult, error) {
	var resp VisibilityResult
	err := c.do(ctx, http.MethodPost, "missions/"+url.PathEscape(id)+"/visibility", map[string]any{"visible": visible}, &resp)
	return resp, err
}

func (c *Client) RecordFeedback(ctx context.Context, id string, rating int, comment string) (Feedback, error) {
	body := map[string]any{"rating": rating}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Feedback
	err := c.do(ctx, http.MethodPost, "missions/"+url.PathEscape(id)+"/feedback", body, &resp)
	return resp, err
}

func (c *Client) Settle(ctx context.Context, id string) (SettleResult, error) {
	var resp SettleResult
	err := c.do(ctx, http.MethodPost, "missions/"+url.PathEscape(id)+"/settle", nil, &resp)
	return resp, err
}

// ClearMissions deletes every mission and returns how many were removed.
func (c *Client) ClearMissions(ctx context.Context) (int64, error) {
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "missions", nil, &resp)
	return resp.Deleted, err
}

func (c *Client) LabelStats(ctx context.Context) ([]LabelStat, error) {
	var resp struct {
		Items []LabelStat `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "stats/labels", nil, &resp)
	return resp.Items, err
}

func (c *Client) Balance(ctx context.Context) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "wallet", nil, &resp)
	return resp.Balance, err
}

func (c *Client) Transactions(ctx context.Context, txType string) ([]Transaction, error) {
	endpoint := "wallet/transactions"
	if txType != "" {
		endpoint += "?type=" + url.QueryEscape(txType)
	}
	var resp struct {
		Items []Transaction `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Credit adds points. amount is a decimal string such as "5" or "2.50".
func (c *Client) Credit(ctx context.Context, amount, description string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "wallet/credit", map[string]any{"amount": amount, "description": description}, &resp)
	return resp.Balance, err
}

// Spend debits points. A short balance is reported in SpendResult.OK, not as an error.
func (c *Client) Spend(ctx context.Context, amount, description string) (SpendResult, error) {
	var resp SpendResult
	err := c.do(ctx, http.MethodPost, "wallet/spend", map[string]any{"amount": amount, "description": description}, &resp)
	return resp, err
}

func (c *Client) Verify(ctx context.Context) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, "wallet/verify", nil, &resp)
	return resp, err
}

func (c *Client) Gate(ctx context.Context) (Gate, error) {
	var resp Gate
	err := c.do(ctx, http.MethodGet, "gate", nil, &resp)
	return resp, err
}

// EventsPage returns events after cursor, oldest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
