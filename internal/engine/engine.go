package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/economy"
	"missionline/internal/events"
	"missionline/internal/generation"
	"missionline/internal/generator"
	"missionline/internal/ledger"
	"missionline/internal/missions"
	"missionline/internal/repo"
	"missionline/internal/rest"
)

// Engine owns the mission store, the ledger, the rest scheduler and the
// generation coordinator. Mission side effects on the ledger go through here.
type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Missions    *missions.Store
	Ledger      *ledger.Ledger
	Rest        rest.Scheduler
	Coordinator *generation.Coordinator
	Events      events.Writer
	Config      *config.Config
	Now         func() time.Time
	Logger      *slog.Logger
}

type Options struct {
	Config    *config.Config
	Generator generator.Generator
	Policy    economy.Policy
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, opts Options) Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Policy
	if policy == nil {
		policy = economy.NewRandomPolicy(cfg.Economy, nil)
	}
	gen := opts.Generator
	if gen == nil {
		gen = generator.Heuristic{}
	}

	store := missions.New(db, logger)
	store.Now = now
	store.Events = events.Writer{Now: now}
	l := ledger.New(db, logger)
	l.Now = now
	l.Events = events.Writer{Now: now}

	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Missions: store,
		Ledger:   l,
		Rest: rest.Scheduler{
			ShortMinutes: cfg.Rest.ShortMinutes,
			LongMinutes:  cfg.Rest.LongMinutes,
			Chooser:      policy,
		},
		Coordinator: &generation.Coordinator{
			Generator:   gen,
			History:     store,
			Missions:    store,
			Policy:      policy,
			Preferences: cfg.DomainPreferences(),
			Timeout:     cfg.GeneratorTimeout(),
			RecentLimit: cfg.Generator.RecentWindow,
			Now:         now,
			Logger:      logger.With("component", "generation"),
		},
		Events: events.Writer{Now: now},
		Config: cfg,
		Now:    now,
		Logger: logger.With("component", "engine"),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Open seeds the opening balance on first use.
func (e Engine) Open(ctx context.Context) error {
	opened, err := e.Ledger.Open(ctx, domain.PointsFromFloat(e.Config.Economy.InitialBalance))
	if err != nil {
		return err
	}
	if opened {
		e.Logger.Info("ledger opened", "balance", domain.PointsFromFloat(e.Config.Economy.InitialBalance).String())
	}
	return nil
}

// CreateMission stores a user-supplied draft. Drafts default to the custom source.
func (e Engine) CreateMission(ctx context.Context, d domain.Draft) (domain.Mission, error) {
	if d.Source == "" {
		d.Source = domain.SourceCustom
	}
	return e.Missions.Create(ctx, d)
}

func (e Engine) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return e.Missions.Get(ctx, id)
}

func (e Engine) ListMissions(ctx context.Context, filter repo.MissionFilter) ([]domain.Mission, error) {
	return e.Missions.List(ctx, filter)
}

func (e Engine) ActiveMission(ctx context.Context) (domain.Mission, error) {
	return e.Missions.Active(ctx)
}

func (e Engine) ClearMissions(ctx context.Context) (int64, error) {
	return e.Missions.Clear(ctx)
}

func (e Engine) LabelStats(ctx context.Context) ([]domain.LabelStat, error) {
	return e.Missions.LabelStats(ctx)
}

func (e Engine) RecordFeedback(ctx context.Context, missionID string, rating int, comment string) (domain.Feedback, error) {
	return e.Missions.RecordFeedback(ctx, missionID, rating, comment)
}

func (e Engine) ScheduleMission(ctx context.Context, id string, at time.Time, visible bool) (domain.Mission, error) {
	return e.Missions.Schedule(ctx, id, at, visible)
}

// TransitionResult reports what a status change caused.
type TransitionResult struct {
	Mission     domain.Mission      `json:"mission"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Gate        *domain.GateStatus  `json:"gate,omitempty"`
}

// TransitionMission applies a status edge and its ledger and rest side effects
// in one transaction.
func (e Engine) TransitionMission(ctx context.Context, id string, to domain.Status, completedAt *time.Time) (TransitionResult, error) {
	unlock := e.Missions.Lock(id)
	defer unlock()
	var res TransitionResult
	err := e.Ledger.Update(ctx, func(tx *sql.Tx) error {
		_, after, err := e.Missions.TransitionTx(ctx, tx, id, to, completedAt)
		if err != nil {
			return err
		}
		res.Mission = after
		if res.Transaction, _, err = e.settleTx(ctx, tx, after); err != nil {
			return err
		}
		if after.Status == domain.StatusCompleted {
			gate, err := e.startRestTx(ctx, tx, *after.CompletedAt)
			if err != nil {
				return err
			}
			res.Gate = &gate
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

// SettleResult reports whether re-observing a mission changed the ledger.
type SettleResult struct {
	Mission     domain.Mission      `json:"mission"`
	Applied     bool                `json:"applied"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// SettleMission applies the ledger effect of a terminal mission if it is missing.
// Repeated calls never credit or debit twice.
func (e Engine) SettleMission(ctx context.Context, id string) (SettleResult, error) {
	unlock := e.Missions.Lock(id)
	defer unlock()
	var res SettleResult
	err := e.Ledger.Update(ctx, func(tx *sql.Tx) error {
		m, err := e.Missions.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		res.Mission = m
		res.Transaction, res.Applied, err = e.settleTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return SettleResult{}, err
	}
	return res, nil
}

// settleTx credits the reward of a completed mission or debits the penalty of
// a refused essential one. The ledger keeps each effect at most once per mission.
func (e Engine) settleTx(ctx context.Context, tx *sql.Tx, m domain.Mission) (*domain.Transaction, bool, error) {
	switch m.Status {
	case domain.StatusCompleted:
		amount, ok := m.Reward()
		if !ok {
			return nil, false, nil
		}
		t, applied, err := e.Ledger.SettleTx(ctx, tx, domain.EffectCompleted, amount, "mission completed: "+m.Title, m.ID)
		if err != nil || !applied {
			return nil, false, err
		}
		return &t, true, nil
	case domain.StatusRefused:
		amount, ok := m.Penalty()
		if !ok {
			return nil, false, nil
		}
		t, applied, err := e.Ledger.SettleTx(ctx, tx, domain.EffectRefused, amount, "mission refused: "+m.Title, m.ID)
		if err != nil || !applied {
			return nil, false, err
		}
		return &t, true, nil
	}
	return nil, false, nil
}

func (e Engine) startRestTx(ctx context.Context, tx *sql.Tx, completedAt time.Time) (domain.GateStatus, error) {
	next, mins := e.Rest.NextAllowedAt(completedAt)
	st := repo.GateState{NextAllowedAt: next, ChosenMinutes: mins, UpdatedAt: e.now().UTC()}
	if err := e.Repo.UpsertGateStateTx(ctx, tx, st); err != nil {
		return domain.GateStatus{}, domain.PersistenceError{Op: "save rest window", Err: err}
	}
	if err := e.Events.Append(ctx, tx, events.RestWindowStarted, "gate", "", events.EventPayload{
		"next_allowed_at": repo.FormatTime(next),
		"minutes":         mins,
	}); err != nil {
		return domain.GateStatus{}, domain.PersistenceError{Op: "append event", Err: err}
	}
	e.Logger.Info("rest window started", "minutes", mins, "next_allowed_at", next)
	return e.Rest.Check(e.now(), next), nil
}

// CheckGenerationGate evaluates the stored rest window at now.
func (e Engine) CheckGenerationGate(ctx context.Context, now time.Time) (domain.GateStatus, error) {
	st, err := e.Repo.GetGateState(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return rest.CheckGate(now, time.Time{}, e.Rest.ShortMinutes), nil
	}
	if err != nil {
		return domain.GateStatus{}, domain.PersistenceError{Op: "read rest window", Err: err}
	}
	return e.Rest.Check(now, st.NextAllowedAt), nil
}

// GenerateMission asks the generator for the next mission unless the user is
// resting. With activate the new mission is started right away.
func (e Engine) GenerateMission(ctx context.Context, activate bool) (domain.Mission, error) {
	gate, err := e.CheckGenerationGate(ctx, e.now())
	if err != nil {
		return domain.Mission{}, err
	}
	if !gate.Allowed {
		return domain.Mission{}, domain.RestingError{Gate: gate}
	}
	m, err := e.Coordinator.Generate(ctx)
	if err != nil {
		var gerr domain.GenerationFailedError
		if errors.As(err, &gerr) {
			e.recordGenerationFailure(ctx, gerr)
		}
		return domain.Mission{}, err
	}
	if !activate {
		return m, nil
	}
	res, err := e.TransitionMission(ctx, m.ID, domain.StatusActive, nil)
	if err != nil {
		return m, err
	}
	return res.Mission, nil
}

func (e Engine) recordGenerationFailure(ctx context.Context, gerr domain.GenerationFailedError) {
	payload := events.EventPayload{"reason": gerr.Reason}
	if gerr.Err != nil {
		payload["error"] = gerr.Err.Error()
	}
	// Best effort: the caller already gets the generation error.
	if err := e.Events.AppendDB(context.WithoutCancel(ctx), e.DB, events.GenerationRejected, "generation", "", payload); err != nil {
		e.Logger.Warn("record generation failure", "error", err)
	}
}

func (e Engine) ListEvents(ctx context.Context, filter repo.EventFilter) ([]domain.Event, error) {
	res, err := e.Repo.ListEvents(ctx, filter)
	if err != nil {
		return nil, domain.PersistenceError{Op: "list events", Err: err}
	}
	return res, nil
}
