package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"missionline/internal/domain"
)

const missionColumns = `m.id,m.label,m.title,COALESCE(m.description,''),m.duration_minutes,m.status,m.created_at,m.scheduled_at,m.completed_at,m.source,m.visible,m.essential,m.reward_amount,m.penalty_amount,
f.id,f.rating,COALESCE(f.comment,''),f.created_at`

const missionFrom = ` FROM missions m LEFT JOIN mission_feedback f ON f.mission_id=m.id`

// MissionFilter narrows ListMissions. Zero values match everything.
type MissionFilter struct {
	Status domain.Status
	Label  domain.Label
	// Scheduled lists scheduled missions ordered by scheduled_at.
	Scheduled bool
	Limit     int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (domain.Mission, error) {
	var (
		m                          domain.Mission
		createdAt                  string
		scheduledAt, completedAt   sql.NullString
		reward, penalty            sql.NullInt64
		fbID, fbComment, fbCreated sql.NullString
		fbRating                   sql.NullInt64
		visible, essential         int
	)
	err := row.Scan(&m.ID, &m.Label, &m.Title, &m.Description, &m.DurationMinutes, &m.Status, &createdAt,
		&scheduledAt, &completedAt, &m.Source, &visible, &essential, &reward, &penalty,
		&fbID, &fbRating, &fbComment, &fbCreated)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if m.CreatedAt, err = ParseTime(createdAt); err != nil {
		return m, err
	}
	if m.ScheduledAt, err = parseNullTime(scheduledAt); err != nil {
		return m, err
	}
	if m.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return m, err
	}
	m.Visible = visible != 0
	m.Essential = essential != 0
	if reward.Valid {
		m.RewardAmount = domain.Points(reward.Int64).Ptr()
	}
	if penalty.Valid {
		m.PenaltyAmount = domain.Points(penalty.Int64).Ptr()
	}
	if fbID.Valid {
		fb := domain.Feedback{ID: fbID.String, MissionID: m.ID, Rating: int(fbRating.Int64), Comment: fbComment.String}
		if fbCreated.Valid {
			if fb.CreatedAt, err = ParseTime(fbCreated.String); err != nil {
				return m, err
			}
		}
		m.Feedback = &fb
	}
	return m, nil
}

func pointsArg(p *domain.Points) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func (r Repo) InsertMission(ctx context.Context, m domain.Mission) error {
	return r.InsertMissionTx(ctx, nil, m)
}

func (r Repo) InsertMissionTx(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO missions(id,label,title,description,duration_minutes,status,created_at,scheduled_at,completed_at,source,visible,essential,reward_amount,penalty_amount)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, string(m.Label), m.Title, nullable(m.Description), m.DurationMinutes, string(m.Status), FormatTime(m.CreatedAt),
		formatTimePtr(m.ScheduledAt), formatTimePtr(m.CompletedAt), string(m.Source), boolInt(m.Visible), boolInt(m.Essential),
		pointsArg(m.RewardAmount), pointsArg(m.PenaltyAmount))
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return r.GetMissionTx(ctx, nil, id)
}

func (r Repo) GetMissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	return scanMission(r.q(tx).QueryRowContext(ctx, `SELECT `+missionColumns+missionFrom+` WHERE m.id=?`, id))
}

// ActiveMissionTx returns the single active mission or ErrNotFound.
func (r Repo) ActiveMissionTx(ctx context.Context, tx *sql.Tx) (domain.Mission, error) {
	return scanMission(r.q(tx).QueryRowContext(ctx, `SELECT `+missionColumns+missionFrom+` WHERE m.status='active' LIMIT 1`))
}

func (r Repo) ListMissions(ctx context.Context, filter MissionFilter) ([]domain.Mission, error) {
	var (
		clauses []string
		args    []any
	)
	status := filter.Status
	if filter.Scheduled {
		status = domain.StatusScheduled
	}
	if status != "" {
		clauses = append(clauses, "m.status=?")
		args = append(args, string(status))
	}
	if filter.Label != "" {
		clauses = append(clauses, "m.label=?")
		args = append(args, string(filter.Label))
	}
	query := `SELECT ` + missionColumns + missionFrom
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if filter.Scheduled {
		query += " ORDER BY m.scheduled_at, m.rowid"
	} else {
		query += " ORDER BY m.created_at, m.rowid"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.queryMissions(ctx, query, args...)
}

// RecentMissions returns the last n missions by creation, oldest first.
func (r Repo) RecentMissions(ctx context.Context, n int) ([]domain.Mission, error) {
	if n <= 0 {
		return nil, nil
	}
	res, err := r.queryMissions(ctx, `SELECT `+missionColumns+missionFrom+` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r Repo) queryMissions(ctx context.Context, query string, args ...any) ([]domain.Mission, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateMissionStatusTx moves a mission from one status to another.
// It reports false when the stored status is no longer from.
func (r Repo) UpdateMissionStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.Status, completedAt *time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE missions SET status=?, completed_at=COALESCE(?, completed_at) WHERE id=? AND status=?`,
		string(to), formatTimePtr(completedAt), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ScheduleMissionTx sets the schedule fields if the mission still has status from.
func (r Repo) ScheduleMissionTx(ctx context.Context, tx *sql.Tx, id string, from domain.Status, at time.Time, visible bool) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE missions SET status='scheduled', scheduled_at=?, visible=? WHERE id=? AND status=?`,
		FormatTime(at), boolInt(visible), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) SetMissionVisibleTx(ctx context.Context, tx *sql.Tx, id string, visible bool) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE missions SET visible=? WHERE id=?`, boolInt(visible), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMissionsTx removes every mission and its feedback. The ledger is untouched.
func (r Repo) DeleteMissionsTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM missions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LabelStats aggregates history for every label, including unused ones.
func (r Repo) LabelStats(ctx context.Context) ([]domain.LabelStat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT m.label,
  COUNT(*),
  COALESCE(SUM(CASE WHEN m.status='completed' THEN 1 ELSE 0 END),0),
  COALESCE(AVG(f.rating),0),
  COALESCE(SUM(m.duration_minutes),0)
FROM missions m LEFT JOIN mission_feedback f ON f.mission_id=m.id
GROUP BY m.label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byLabel := map[domain.Label]domain.LabelStat{}
	for rows.Next() {
		var s domain.LabelStat
		if err := rows.Scan(&s.Label, &s.Count, &s.CompletedCount, &s.AverageRating, &s.TotalDuration); err != nil {
			return nil, err
		}
		if s.Count > 0 {
			s.CompletionRate = float64(s.CompletedCount) / float64(s.Count)
		}
		byLabel[s.Label] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.LabelStat, 0, len(domain.Labels))
	for _, l := range domain.Labels {
		s, ok := byLabel[l]
		if !ok {
			s = domain.LabelStat{Label: l}
		}
		res = append(res, s)
	}
	return res, nil
}
