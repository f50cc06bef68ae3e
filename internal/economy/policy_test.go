package economy

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"missionline/internal/config"
	"missionline/internal/domain"
)

func TestRandomPolicyBands(t *testing.T) {
	p := NewRandomPolicy(config.Default().Economy, rand.NewPCG(1, 2))
	essential := 0
	const n = 5000
	for i := 0; i < n; i++ {
		r := p.Reward()
		assert.GreaterOrEqual(t, r, domain.WholePoints(1))
		assert.Less(t, r, domain.WholePoints(11))
		pen := p.Penalty()
		assert.GreaterOrEqual(t, pen, domain.WholePoints(1))
		assert.Less(t, pen, domain.WholePoints(6))
		if p.Essential() {
			essential++
		}
	}
	ratio := float64(essential) / n
	assert.InDelta(t, 0.3, ratio, 0.05)
}

func TestEnrichOnlyPenalizesEssential(t *testing.T) {
	d := domain.Draft{Label: domain.LabelFocus, Title: "x", DurationMinutes: 25, Source: domain.SourceAuto, PenaltyAmount: domain.WholePoints(9).Ptr()}

	out := Enrich(Fixed{RewardPoints: 500, PenaltyPoints: 300}, d)
	assert.False(t, out.Essential)
	assert.Nil(t, out.PenaltyAmount)
	assert.Equal(t, domain.Points(500), *out.RewardAmount)

	out = Enrich(Fixed{IsEssential: true, RewardPoints: 500, PenaltyPoints: 300}, d)
	assert.True(t, out.Essential)
	assert.Equal(t, domain.Points(300), *out.PenaltyAmount)
}

func TestDrawNeverReachesUpperBound(t *testing.T) {
	p := NewRandomPolicy(config.Economy{Reward: config.Band{Min: 1, Max: 1.01}}, rand.NewPCG(3, 4))
	for i := 0; i < 100; i++ {
		assert.Equal(t, domain.Points(100), p.draw(p.RewardBand))
	}
}
