package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	MissionCreated     = "mission.created"
	MissionTransition  = "mission.transitioned"
	MissionScheduled   = "mission.scheduled"
	MissionVisibility  = "mission.visibility"
	MissionFeedback    = "mission.feedback"
	MissionsCleared    = "missions.cleared"
	LedgerCredited     = "ledger.credited"
	LedgerDebited      = "ledger.debited"
	RestWindowStarted  = "rest.started"
	GenerationRejected = "generation.failed"
)

// Writer appends to the events table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

// AppendDB writes an event in its own transaction.
func (w Writer) AppendDB(ctx context.Context, db *sql.DB, evtType, entityKind, entityID string, payload EventPayload) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
