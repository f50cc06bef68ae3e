package generator

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sort"
	"time"

	"missionline/internal/domain"
)

// focusFloor is the number of focus missions below which focus is always proposed.
const focusFloor = 3

type template struct {
	title       string
	description string
}

var defaultTemplates = map[domain.Label]template{
	domain.LabelFocus:       {"Focused work session", "Work on one important task for 25 minutes without distractions."},
	domain.LabelMentalBreak: {"Breathing break", "Take 5 minutes to breathe deeply and recenter."},
	domain.LabelMovement:    {"Quick exercise", "Move around a little to wake your body up."},
	domain.LabelReading:     {"Quick read", "Read a few pages of a book or an interesting article."},
	domain.LabelCreativity:  {"Creative moment", "Take a moment to draw, write or make something."},
}

var fallbackTemplate = template{"New mission", "A mission that fits your day."}

// Heuristic picks the next label from usage statistics without any remote call.
type Heuristic struct {
	// Coin returns true with probability one half. Nil uses math/rand.
	Coin func() bool
}

func (h Heuristic) Generate(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	label := h.nextLabel(in)
	tpl, ok := defaultTemplates[label]
	if !ok {
		tpl = fallbackTemplate
	}
	now := in.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}
	draft := map[string]any{
		"label":            label,
		"title":            tpl.title,
		"description":      tpl.description,
		"duration_minutes": durationFor(label),
		"scheduled_at":     now.UTC().Format(time.RFC3339),
		"source":           domain.SourceAuto,
	}
	return json.Marshal(draft)
}

func (h Heuristic) nextLabel(in domain.GenerationInput) domain.Label {
	label := domain.LabelFocus
	if len(in.LabelStats) == 0 {
		return label
	}
	stats := append([]domain.LabelStat(nil), in.LabelStats...)
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Count < stats[j].Count })
	label = stats[0].Label
	for _, s := range in.LabelStats {
		if s.Label == domain.LabelFocus && s.Count < focusFloor {
			label = domain.LabelFocus
		}
	}
	if n := len(in.RecentMissions); n > 0 && in.RecentMissions[n-1].Label == domain.LabelFocus {
		if h.coin() {
			label = domain.LabelMentalBreak
		} else {
			label = domain.LabelMovement
		}
	}
	return label
}

func (h Heuristic) coin() bool {
	if h.Coin != nil {
		return h.Coin()
	}
	return rand.IntN(2) == 0
}

func durationFor(label domain.Label) int {
	switch label {
	case domain.LabelFocus:
		return 25
	case domain.LabelMovement, domain.LabelMentalBreak:
		return 5
	default:
		return 15
	}
}
