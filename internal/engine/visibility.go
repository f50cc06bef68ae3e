package engine

import (
	"context"
	"database/sql"

	"missionline/internal/domain"
)

// VisibilityResult tells whether the reveal was paid for.
type VisibilityResult struct {
	Mission domain.Mission `json:"mission"`
	Charged domain.Points  `json:"charged"`
}

func (e Engine) revealCost() domain.Points {
	return domain.PointsFromFloat(e.Config.Economy.RevealCost)
}

// SetVisibility reveals (paid) or hides (free) a mission.
func (e Engine) SetVisibility(ctx context.Context, id string, visible bool) (VisibilityResult, error) {
	if visible {
		return e.Reveal(ctx, id)
	}
	return e.Hide(ctx, id)
}

// Reveal charges the reveal cost and makes the mission visible. A visible
// mission is left alone. On ErrInsufficientBalance nothing changes.
func (e Engine) Reveal(ctx context.Context, id string) (VisibilityResult, error) {
	unlock := e.Missions.Lock(id)
	defer unlock()
	var res VisibilityResult
	err := e.Ledger.Update(ctx, func(tx *sql.Tx) error {
		m, err := e.Missions.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		res.Mission = m
		if m.Visible {
			return nil
		}
		cost := e.revealCost()
		if _, err := e.Ledger.DebitTx(ctx, tx, cost, "unlock mission: "+m.Title, m.ID, domain.TxPurchase); err != nil {
			return err
		}
		if err := e.Missions.SetVisibleTx(ctx, tx, id, true); err != nil {
			return err
		}
		res.Mission.Visible = true
		res.Charged = cost
		return nil
	})
	if err != nil {
		return VisibilityResult{}, err
	}
	return res, nil
}

func (e Engine) Hide(ctx context.Context, id string) (VisibilityResult, error) {
	m, err := e.Missions.SetVisible(ctx, id, false)
	if err != nil {
		return VisibilityResult{}, err
	}
	return VisibilityResult{Mission: m}, nil
}
