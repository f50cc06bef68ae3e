package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/domain"
	"missionline/internal/economy"
	"missionline/internal/generator"
)

type fakeHistory struct {
	recent []domain.Mission
	asked  int
}

func (f *fakeHistory) RecentMissions(ctx context.Context, n int) ([]domain.Mission, error) {
	f.asked = n
	return f.recent, nil
}

func (f *fakeHistory) LabelStats(ctx context.Context) ([]domain.LabelStat, error) {
	return []domain.LabelStat{{Label: domain.LabelFocus, Count: 1}}, nil
}

type fakeCreator struct {
	created []domain.Draft
}

func (f *fakeCreator) Create(ctx context.Context, d domain.Draft) (domain.Mission, error) {
	f.created = append(f.created, d)
	return domain.Mission{
		ID:              "m1",
		Label:           d.Label,
		Title:           d.Title,
		DurationMinutes: d.DurationMinutes,
		Status:          domain.StatusPending,
		Source:          d.Source,
		Essential:       d.Essential,
		RewardAmount:    d.RewardAmount,
		PenaltyAmount:   d.PenaltyAmount,
	}, nil
}

func reply(payload string) generator.Func {
	return func(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func newCoordinator(g generator.Generator, policy economy.Policy) (*Coordinator, *fakeCreator, *fakeHistory) {
	creator := &fakeCreator{}
	history := &fakeHistory{}
	return &Coordinator{
		Generator: g,
		History:   history,
		Missions:  creator,
		Policy:    policy,
		Timeout:   time.Second,
		Now:       func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}, creator, history
}

func TestGenerateEnrichesEssentialDraft(t *testing.T) {
	c, creator, history := newCoordinator(
		reply(`{"label":"movement","title":" Stretch ","duration_minutes":5,"scheduled_at":"2026-03-01T09:00:00Z","source":"auto","reward_amount":99}`),
		economy.Fixed{IsEssential: true, RewardPoints: 742, PenaltyPoints: 310},
	)
	m, err := c.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultRecentLimit, history.asked)
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, "Stretch", m.Title)
	assert.True(t, m.Essential)
	assert.Equal(t, "7.42", m.RewardAmount.String())
	assert.Equal(t, "3.10", m.PenaltyAmount.String())
	require.Len(t, creator.created, 1)
	assert.Nil(t, creator.created[0].ScheduledAt)
	assert.False(t, creator.created[0].Visible)
}

func TestGenerateNonEssentialHasNoPenalty(t *testing.T) {
	c, _, _ := newCoordinator(reply(`{"label":"reading","title":"Read","duration_minutes":10,"source":"auto"}`), economy.Fixed{RewardPoints: 100, PenaltyPoints: 300})
	m, err := c.Generate(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Essential)
	assert.Nil(t, m.PenaltyAmount)
	assert.Equal(t, domain.SourceAuto, m.Source)
}

func TestGenerateFailuresPersistNothing(t *testing.T) {
	cases := map[string]generator.Generator{
		"missing field":   reply(`{"label":"reading","duration_minutes":10,"source":"auto"}`),
		"missing source":  reply(`{"label":"reading","title":"x","duration_minutes":10}`),
		"bad source":      reply(`{"label":"reading","title":"x","duration_minutes":10,"source":"manual"}`),
		"bad label":       reply(`{"label":"juggling","title":"x","duration_minutes":10}`),
		"zero duration":   reply(`{"label":"reading","title":"x","duration_minutes":0}`),
		"not json":        reply(`sure, here is a mission`),
		"empty":           reply(``),
		"generator error": generator.Func(func(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
			return nil, errors.New("upstream 500")
		}),
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			c, creator, _ := newCoordinator(g, economy.Fixed{})
			_, err := c.Generate(context.Background())
			var gerr domain.GenerationFailedError
			require.ErrorAs(t, err, &gerr)
			assert.Empty(t, creator.created)
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	slow := generator.Func(func(ctx context.Context, in domain.GenerationInput) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, creator, _ := newCoordinator(slow, economy.Fixed{})
	c.Timeout = 20 * time.Millisecond
	_, err := c.Generate(context.Background())
	var gerr domain.GenerationFailedError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "generator timed out", gerr.Reason)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, creator.created)
}

func TestGenerateIgnoresLateReplyAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	late := generator.Func(func(context.Context, domain.GenerationInput) (json.RawMessage, error) {
		cancel()
		return json.RawMessage(`{"label":"reading","title":"Read","duration_minutes":10,"source":"auto"}`), nil
	})
	c, creator, _ := newCoordinator(late, economy.Fixed{})
	_, err := c.Generate(ctx)
	var gerr domain.GenerationFailedError
	require.ErrorAs(t, err, &gerr)
	assert.Empty(t, creator.created)
}

func TestGenerateWithHeuristic(t *testing.T) {
	c, _, _ := newCoordinator(generator.Heuristic{}, economy.Fixed{RewardPoints: 500})
	m, err := c.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.LabelFocus, m.Label)
	assert.Equal(t, 25, m.DurationMinutes)
}
