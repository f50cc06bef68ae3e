package repo

import (
	"context"
	"database/sql"
	"time"
)

// GateState is the last computed rest window.
type GateState struct {
	NextAllowedAt time.Time
	ChosenMinutes int
	UpdatedAt     time.Time
}

func (r Repo) GetGateState(ctx context.Context) (GateState, error) {
	var (
		st              GateState
		next, updatedAt string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT next_allowed_at,chosen_minutes,updated_at FROM gate_state WHERE id=1`).Scan(&next, &st.ChosenMinutes, &updatedAt)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	if st.NextAllowedAt, err = ParseTime(next); err != nil {
		return st, err
	}
	st.UpdatedAt, err = ParseTime(updatedAt)
	return st, err
}

func (r Repo) UpsertGateStateTx(ctx context.Context, tx *sql.Tx, st GateState) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO gate_state(id,next_allowed_at,chosen_minutes,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET next_allowed_at=excluded.next_allowed_at, chosen_minutes=excluded.chosen_minutes, updated_at=excluded.updated_at`,
		FormatTime(st.NextAllowedAt), st.ChosenMinutes, FormatTime(st.UpdatedAt))
	return err
}
