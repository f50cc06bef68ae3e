package repo

import (
	"context"
	"strings"

	"missionline/internal/domain"
)

// EventFilter selects events after a cursor id.
type EventFilter struct {
	AfterID int64
	Types   []string
	Limit   int
}

func (r Repo) ListEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{filter.AfterID}
	if len(filter.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Types)), ",")
		clauses = append(clauses, "type IN ("+placeholders+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LastEventID returns the newest event id, 0 for an empty log.
func (r Repo) LastEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
