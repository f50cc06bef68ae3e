package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"missionline/internal/domain"
)

const DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// Models maps a quality tier to an OpenRouter model id.
var Models = map[string]string{
	"low":    "google/gemini-flash-1.5",
	"medium": "deepseek/deepseek-chat-v3-0324",
	"high":   "google/gemini-2.5-pro-exp-03-25:free",
}

type OpenRouterClient struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

type OpenRouterOptions struct {
	APIKey   string
	Tier     string
	Endpoint string
	Timeout  time.Duration
	// RequestsPerMinute throttles outgoing calls. Zero disables the limit.
	RequestsPerMinute int
}

func NewOpenRouterClient(opts OpenRouterOptions) (*OpenRouterClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	tier := opts.Tier
	if tier == "" {
		tier = "medium"
	}
	model, ok := Models[tier]
	if !ok {
		return nil, fmt.Errorf("openrouter: unknown model tier %q", tier)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultOpenRouterEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &OpenRouterClient{
		apiKey:   opts.APIKey,
		model:    model,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// promptInput is the user message sent with every request.
type promptInput struct {
	RecentMissions []promptMission    `json:"recentMissions"`
	LabelStats     []domain.LabelStat `json:"labelStats"`
	CurrentTime    string             `json:"currentTime"`
}

type promptMission struct {
	Label           domain.Label    `json:"label"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          domain.Status   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	Feedback        *promptFeedback `json:"feedback"`
}

type promptFeedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openrouter: rate limit: %w", err)
		}
	}
	user, err := json.Marshal(buildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal prompt: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in.Preferences)},
			{Role: "user", Content: string(user)},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "missionline")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openrouter error: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openrouter: empty choices in response")
	}
	return ExtractJSON(out.Choices[0].Message.Content)
}

func buildPrompt(in domain.GenerationInput) promptInput {
	p := promptInput{LabelStats: in.LabelStats, CurrentTime: in.CurrentTime.UTC().Format(time.RFC3339)}
	for _, m := range in.RecentMissions {
		pm := promptMission{
			Label:           m.Label,
			Title:           m.Title,
			DurationMinutes: m.DurationMinutes,
			Status:          m.Status,
			CreatedAt:       m.CreatedAt,
		}
		if m.Feedback != nil {
			pm.Feedback = &promptFeedback{Rating: m.Feedback.Rating, Comment: m.Feedback.Comment}
		}
		p.RecentMissions = append(p.RecentMissions, pm)
	}
	return p
}

func systemPrompt(prefs domain.Preferences) string {
	labels := make([]string, 0, len(domain.Labels))
	for _, l := range domain.Labels {
		labels = append(labels, `"`+string(l)+`"`)
	}
	return fmt.Sprintf(`You generate short adaptive micro-missions for people with ADHD.
Propose missions that help keep focus, take breaks and build healthy habits.
Base the next mission on the context and the recent mission history.

Active hours: %s - %s
Daily time budget: %d minutes

Missions must be:
- short (2-30 minutes)
- clear and concrete
- easy to start and motivating
- varied, do not repeat the same label too often

Reply ONLY with a valid JSON object:
{
  "label": one of %s,
  "title": short clear mission title,
  "description": optional longer description,
  "duration_minutes": integer minutes,
  "scheduled_at": suggested ISO datetime,
  "source": "auto"
}`, prefs.ActiveTimeStart, prefs.ActiveTimeEnd, prefs.DailyBudgetMinutes, strings.Join(labels, ", "))
}
