// Package economy holds every random choice of the points economy behind one interface.
package economy

import (
	"math/rand/v2"
	"sync"

	"missionline/internal/config"
	"missionline/internal/domain"
)

// Policy decides mission economics and the rest length after a completion.
type Policy interface {
	Essential() bool
	Reward() domain.Points
	Penalty() domain.Points
	LongRest() bool
}

// Band is a half-open [Min, Max) range of points.
type Band struct {
	Min float64
	Max float64
}

// RandomPolicy draws from the configured bands.
type RandomPolicy struct {
	EssentialProbability float64
	RewardBand           Band
	PenaltyBand          Band

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomPolicy builds a policy from the economy config section.
// A nil source seeds from the runtime.
func NewRandomPolicy(cfg config.Economy, src rand.Source) *RandomPolicy {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomPolicy{
		EssentialProbability: cfg.EssentialProbability,
		RewardBand:           Band{Min: cfg.Reward.Min, Max: cfg.Reward.Max},
		PenaltyBand:          Band{Min: cfg.Penalty.Min, Max: cfg.Penalty.Max},
		rnd:                  rand.New(src),
	}
}

func (p *RandomPolicy) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64()
}

func (p *RandomPolicy) Essential() bool {
	return p.float() < p.EssentialProbability
}

func (p *RandomPolicy) Reward() domain.Points {
	return p.draw(p.RewardBand)
}

func (p *RandomPolicy) Penalty() domain.Points {
	return p.draw(p.PenaltyBand)
}

func (p *RandomPolicy) LongRest() bool {
	return p.float() < 0.5
}

// draw rounds down to the hundredth so the result never reaches Max.
func (p *RandomPolicy) draw(b Band) domain.Points {
	v := b.Min + p.float()*(b.Max-b.Min)
	pts := domain.Points(int64(v * 100))
	if pts < domain.PointsFromFloat(b.Min) {
		pts = domain.PointsFromFloat(b.Min)
	}
	if upper := domain.PointsFromFloat(b.Max); pts >= upper {
		pts = upper - 1
	}
	return pts
}

// Fixed returns the same answers every time. Used by tests and scripted runs.
type Fixed struct {
	IsEssential   bool
	RewardPoints  domain.Points
	PenaltyPoints domain.Points
	Long          bool
}

func (f Fixed) Essential() bool        { return f.IsEssential }
func (f Fixed) Reward() domain.Points  { return f.RewardPoints }
func (f Fixed) Penalty() domain.Points { return f.PenaltyPoints }
func (f Fixed) LongRest() bool         { return f.Long }

// Enrich fills the economy fields of an auto draft.
// Penalty is only drawn for essential missions.
func Enrich(p Policy, d domain.Draft) domain.Draft {
	d.Essential = p.Essential()
	d.RewardAmount = p.Reward().Ptr()
	d.PenaltyAmount = nil
	if d.Essential {
		d.PenaltyAmount = p.Penalty().Ptr()
	}
	return d
}
