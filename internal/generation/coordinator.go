// Package generation turns a generator reply into a persisted pending mission.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"missionline/internal/domain"
	"missionline/internal/economy"
	"missionline/internal/generator"
)

// DefaultRecentLimit is how many past missions the generator sees.
const DefaultRecentLimit = 5

type History interface {
	RecentMissions(ctx context.Context, n int) ([]domain.Mission, error)
	LabelStats(ctx context.Context) ([]domain.LabelStat, error)
}

type Creator interface {
	Create(ctx context.Context, d domain.Draft) (domain.Mission, error)
}

type Coordinator struct {
	Generator   generator.Generator
	History     History
	Missions    Creator
	Policy      economy.Policy
	Preferences domain.Preferences
	Timeout     time.Duration
	RecentLimit int
	Now         func() time.Time
	Logger      *slog.Logger
}

const draftSchemaURL = "https://missionline.local/schemas/draft.schema.json"

// draftSchema lists the fields a generated draft must carry.
var draftSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	labels := make([]string, 0, len(domain.Labels))
	for _, l := range domain.Labels {
		labels = append(labels, `"`+string(l)+`"`)
	}
	schema := fmt.Sprintf(`{
  "type": "object",
  "required": ["label", "title", "duration_minutes", "source"],
  "properties": {
    "label": {"enum": [%s]},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "duration_minutes": {"type": "integer", "minimum": 1},
    "scheduled_at": {"type": ["string", "null"]},
    "source": {"enum": ["auto", "custom"]}
  }
}`, strings.Join(labels, ","))
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(draftSchemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("draft schema load failed: %w", err)
	}
	return c.Compile(draftSchemaURL)
})

type wireDraft struct {
	Label           string  `json:"label"`
	Title           string  `json:"title"`
	Description     *string `json:"description"`
	DurationMinutes int     `json:"duration_minutes"`
}

// Generate asks the generator for a draft, enriches it and stores it as pending.
// Any failure before the write returns GenerationFailedError and stores nothing.
func (c *Coordinator) Generate(ctx context.Context) (domain.Mission, error) {
	logger := c.logger()
	limit := c.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	recent, err := c.History.RecentMissions(ctx, limit)
	if err != nil {
		return domain.Mission{}, err
	}
	stats, err := c.History.LabelStats(ctx)
	if err != nil {
		return domain.Mission{}, err
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	in := domain.GenerationInput{
		RecentMissions: recent,
		LabelStats:     stats,
		Preferences:    c.Preferences,
		CurrentTime:    now().UTC(),
	}

	d, err := c.draft(ctx, in)
	if err != nil {
		logger.Warn("mission generation failed", "error", err)
		return domain.Mission{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Mission{}, failed("cancelled before persisting", err)
	}
	m, err := c.Missions.Create(ctx, d)
	if err != nil {
		return domain.Mission{}, err
	}
	logger.Info("mission generated", "mission_id", m.ID, "label", m.Label, "essential", m.Essential)
	return m, nil
}

func (c *Coordinator) draft(ctx context.Context, in domain.GenerationInput) (domain.Draft, error) {
	gctx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	raw, err := c.Generator.Generate(gctx, in)
	if cerr := gctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return domain.Draft{}, failed("generator timed out", cerr)
		}
		return domain.Draft{}, failed("generation cancelled", cerr)
	}
	if err != nil {
		return domain.Draft{}, failed("generator error", err)
	}
	d, err := ParseDraft(raw)
	if err != nil {
		return domain.Draft{}, err
	}
	d = economy.Enrich(c.Policy, d)
	if err := d.Validate(); err != nil {
		return domain.Draft{}, failed("invalid draft", err)
	}
	return d, nil
}

// ParseDraft validates a generator payload against the draft schema.
// Suggested times and any economy fields in the payload are ignored.
func ParseDraft(raw json.RawMessage) (domain.Draft, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.Draft{}, failed("empty payload", nil)
	}
	schema, err := draftSchema()
	if err != nil {
		return domain.Draft{}, failed("draft schema unavailable", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.Draft{}, failed("unparsable payload", err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.Draft{}, failed("draft does not match schema", err)
	}
	var w wireDraft
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Draft{}, failed("unparsable payload", err)
	}
	d := domain.Draft{
		Label:           domain.Label(w.Label),
		Title:           strings.TrimSpace(w.Title),
		DurationMinutes: w.DurationMinutes,
		Source:          domain.SourceAuto,
	}
	if w.Description != nil {
		d.Description = strings.TrimSpace(*w.Description)
	}
	return d, nil
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func failed(reason string, err error) error {
	return domain.GenerationFailedError{Reason: reason, Err: err}
}
