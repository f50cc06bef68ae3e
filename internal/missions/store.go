// Package missions owns mission records and is the only writer of mission status.
package missions

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/repo"
)

// ErrFeedbackRecorded is returned when a mission already has feedback.
var ErrFeedbackRecorded = errors.New("feedback already recorded")

type Store struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger

	locks keyedMutex
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Now:    time.Now,
		NewID:  uuid.NewString,
		Logger: logger.With("component", "missions"),
	}
}

// Lock serializes mutations on one mission id. Call the returned func to release.
func (s *Store) Lock(id string) func() {
	return s.locks.Lock(id)
}

func (s *Store) Create(ctx context.Context, d domain.Draft) (domain.Mission, error) {
	var m domain.Mission
	err := s.update(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = s.CreateTx(ctx, tx, d)
		return err
	})
	return m, err
}

// CreateTx persists a draft as pending, or scheduled when it carries a time.
func (s *Store) CreateTx(ctx context.Context, tx *sql.Tx, d domain.Draft) (domain.Mission, error) {
	if err := d.Validate(); err != nil {
		return domain.Mission{}, err
	}
	m := domain.Mission{
		ID:              s.NewID(),
		Label:           d.Label,
		Title:           d.Title,
		Description:     d.Description,
		DurationMinutes: d.DurationMinutes,
		Status:          domain.StatusPending,
		CreatedAt:       s.Now().UTC(),
		ScheduledAt:     d.ScheduledAt,
		Source:          d.Source,
		Visible:         d.Visible,
		Essential:       d.Essential,
		RewardAmount:    d.RewardAmount,
		PenaltyAmount:   d.PenaltyAmount,
	}
	if m.ScheduledAt != nil {
		m.Status = domain.StatusScheduled
	}
	if err := s.Repo.InsertMissionTx(ctx, tx, m); err != nil {
		return m, domain.PersistenceError{Op: "insert mission", Err: err}
	}
	if err := s.appendEvent(ctx, tx, events.MissionCreated, m.ID, events.EventPayload{
		"label":     m.Label,
		"title":     m.Title,
		"status":    m.Status,
		"source":    m.Source,
		"essential": m.Essential,
	}); err != nil {
		return m, err
	}
	s.Logger.Info("mission created", "mission_id", m.ID, "label", m.Label, "status", m.Status, "essential", m.Essential)
	return m, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Mission, error) {
	m, err := s.Repo.GetMission(ctx, id)
	return m, persistErr("get mission", err)
}

func (s *Store) GetTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	m, err := s.Repo.GetMissionTx(ctx, tx, id)
	return m, persistErr("get mission", err)
}

func (s *Store) List(ctx context.Context, filter repo.MissionFilter) ([]domain.Mission, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ValidationError{Field: "status", Reason: "unknown status " + string(filter.Status)}
	}
	if filter.Label != "" && !filter.Label.Valid() {
		return nil, domain.ValidationError{Field: "label", Reason: "unknown label " + string(filter.Label)}
	}
	res, err := s.Repo.ListMissions(ctx, filter)
	return res, persistErr("list missions", err)
}

// Active returns the active mission or repo.ErrNotFound.
func (s *Store) Active(ctx context.Context) (domain.Mission, error) {
	m, err := s.Repo.ActiveMissionTx(ctx, nil)
	return m, persistErr("active mission", err)
}

func (s *Store) RecentMissions(ctx context.Context, n int) ([]domain.Mission, error) {
	res, err := s.Repo.RecentMissions(ctx, n)
	return res, persistErr("recent missions", err)
}

func (s *Store) LabelStats(ctx context.Context) ([]domain.LabelStat, error) {
	res, err := s.Repo.LabelStats(ctx)
	return res, persistErr("label stats", err)
}

// Transition applies one status edge in its own transaction.
func (s *Store) Transition(ctx context.Context, id string, to domain.Status, completedAt *time.Time) (domain.Mission, error) {
	unlock := s.Lock(id)
	defer unlock()
	var m domain.Mission
	err := s.update(ctx, func(tx *sql.Tx) error {
		var err error
		_, m, err = s.TransitionTx(ctx, tx, id, to, completedAt)
		return err
	})
	return m, err
}

// TransitionTx checks the edge, the single-active rule and swaps the status.
// It returns the mission before and after the change. The caller holds Lock(id).
func (s *Store) TransitionTx(ctx context.Context, tx *sql.Tx, id string, to domain.Status, completedAt *time.Time) (domain.Mission, domain.Mission, error) {
	if !to.Valid() {
		return domain.Mission{}, domain.Mission{}, domain.ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	before, err := s.GetTx(ctx, tx, id)
	if err != nil {
		return before, before, err
	}
	if !domain.CanTransition(before.Status, to) {
		return before, before, domain.StateTransitionError{MissionID: id, From: before.Status, To: to}
	}
	if to == domain.StatusActive {
		active, err := s.Repo.ActiveMissionTx(ctx, tx)
		switch {
		case err == nil && active.ID != id:
			return before, before, domain.StateTransitionError{MissionID: id, From: before.Status, To: to, Reason: "mission " + active.ID + " is already active"}
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return before, before, domain.PersistenceError{Op: "active mission", Err: err}
		}
	}
	if to == domain.StatusCompleted {
		if completedAt == nil {
			now := s.Now().UTC()
			completedAt = &now
		}
	} else {
		completedAt = nil
	}
	ok, err := s.Repo.UpdateMissionStatusTx(ctx, tx, id, before.Status, to, completedAt)
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return before, before, domain.StateTransitionError{MissionID: id, From: before.Status, To: to, Reason: "another mission is already active"}
		}
		return before, before, domain.PersistenceError{Op: "update mission status", Err: err}
	}
	if !ok {
		return before, before, domain.StateTransitionError{MissionID: id, From: before.Status, To: to, Reason: "status changed concurrently"}
	}
	after := before
	after.Status = to
	if completedAt != nil {
		at := completedAt.UTC()
		after.CompletedAt = &at
	}
	if err := s.appendEvent(ctx, tx, events.MissionTransition, id, events.EventPayload{
		"from":  before.Status,
		"to":    to,
		"label": before.Label,
	}); err != nil {
		return before, after, err
	}
	s.Logger.Info("mission transitioned", "mission_id", id, "from", before.Status, "to", to)
	return before, after, nil
}

func (s *Store) Schedule(ctx context.Context, id string, at time.Time, visible bool) (domain.Mission, error) {
	unlock := s.Lock(id)
	defer unlock()
	var m domain.Mission
	err := s.update(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = s.ScheduleTx(ctx, tx, id, at, visible)
		return err
	})
	return m, err
}

// ScheduleTx places a pending or scheduled mission at a time slot.
func (s *Store) ScheduleTx(ctx context.Context, tx *sql.Tx, id string, at time.Time, visible bool) (domain.Mission, error) {
	if at.IsZero() {
		return domain.Mission{}, domain.ValidationError{Field: "scheduled_at", Reason: "scheduled time is required"}
	}
	m, err := s.GetTx(ctx, tx, id)
	if err != nil {
		return m, err
	}
	if !domain.CanSchedule(m.Status) {
		return m, domain.StateTransitionError{MissionID: id, From: m.Status, To: domain.StatusScheduled}
	}
	ok, err := s.Repo.ScheduleMissionTx(ctx, tx, id, m.Status, at, visible)
	if err != nil {
		return m, domain.PersistenceError{Op: "schedule mission", Err: err}
	}
	if !ok {
		return m, domain.StateTransitionError{MissionID: id, From: m.Status, To: domain.StatusScheduled, Reason: "status changed concurrently"}
	}
	at = at.UTC()
	m.Status = domain.StatusScheduled
	m.ScheduledAt = &at
	m.Visible = visible
	if err := s.appendEvent(ctx, tx, events.MissionScheduled, id, events.EventPayload{
		"scheduled_at": repo.FormatTime(at),
		"visible":      visible,
	}); err != nil {
		return m, err
	}
	return m, nil
}

// SetVisible flips the visibility flag in its own transaction.
func (s *Store) SetVisible(ctx context.Context, id string, visible bool) (domain.Mission, error) {
	unlock := s.Lock(id)
	defer unlock()
	var m domain.Mission
	err := s.update(ctx, func(tx *sql.Tx) error {
		if err := s.SetVisibleTx(ctx, tx, id, visible); err != nil {
			return err
		}
		var err error
		m, err = s.GetTx(ctx, tx, id)
		return err
	})
	return m, err
}

// SetVisibleTx flips the visibility flag. Any cost is charged by the caller.
func (s *Store) SetVisibleTx(ctx context.Context, tx *sql.Tx, id string, visible bool) error {
	if err := s.Repo.SetMissionVisibleTx(ctx, tx, id, visible); err != nil {
		return persistErr("set visibility", err)
	}
	return s.appendEvent(ctx, tx, events.MissionVisibility, id, events.EventPayload{"visible": visible})
}

// RecordFeedback stores the single rating of a completed mission.
func (s *Store) RecordFeedback(ctx context.Context, missionID string, rating int, comment string) (domain.Feedback, error) {
	if rating < 1 || rating > 5 {
		return domain.Feedback{}, domain.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	unlock := s.Lock(missionID)
	defer unlock()
	fb := domain.Feedback{
		ID:        s.NewID(),
		MissionID: missionID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: s.Now().UTC(),
	}
	err := s.update(ctx, func(tx *sql.Tx) error {
		m, err := s.GetTx(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if m.Status != domain.StatusCompleted {
			return domain.ValidationError{Field: "mission", Reason: "feedback requires a completed mission, status is " + string(m.Status)}
		}
		if m.Feedback != nil {
			return ErrFeedbackRecorded
		}
		if err := s.Repo.InsertFeedbackTx(ctx, tx, fb); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrFeedbackRecorded
			}
			return domain.PersistenceError{Op: "insert feedback", Err: err}
		}
		return s.appendEvent(ctx, tx, events.MissionFeedback, missionID, events.EventPayload{"rating": rating})
	})
	if err != nil {
		return domain.Feedback{}, err
	}
	return fb, nil
}

// Clear deletes every mission. Transactions stay untouched.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := s.update(ctx, func(tx *sql.Tx) error {
		var err error
		if n, err = s.Repo.DeleteMissionsTx(ctx, tx); err != nil {
			return domain.PersistenceError{Op: "delete missions", Err: err}
		}
		return s.appendEvent(ctx, tx, events.MissionsCleared, "", events.EventPayload{"count": n})
	})
	if err == nil {
		s.Logger.Info("missions cleared", "count", n)
	}
	return n, err
}

func (s *Store) update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, evtType, id string, payload events.EventPayload) error {
	if err := s.Events.Append(ctx, tx, evtType, "mission", id, payload); err != nil {
		return domain.PersistenceError{Op: "append event", Err: err}
	}
	return nil
}

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return domain.PersistenceError{Op: op, Err: err}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
