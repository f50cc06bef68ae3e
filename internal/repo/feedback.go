package repo

import (
	"context"
	"database/sql"

	"missionline/internal/domain"
)

func (r Repo) InsertFeedbackTx(ctx context.Context, tx *sql.Tx, f domain.Feedback) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO mission_feedback(id,mission_id,rating,comment,created_at) VALUES (?,?,?,?,?)`,
		f.ID, f.MissionID, f.Rating, nullable(f.Comment), FormatTime(f.CreatedAt))
	return err
}
