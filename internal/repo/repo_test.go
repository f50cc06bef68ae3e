package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/migrate"
)

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func insertMission(t *testing.T, r Repo, id string, label domain.Label, status domain.Status, offset time.Duration) domain.Mission {
	t.Helper()
	m := domain.Mission{
		ID:              id,
		Label:           label,
		Title:           "mission " + id,
		DurationMinutes: 15,
		Status:          status,
		CreatedAt:       base.Add(offset),
		Source:          domain.SourceAuto,
		RewardAmount:    domain.PointsFromFloat(4.5).Ptr(),
	}
	if err := r.InsertMission(context.Background(), m); err != nil {
		t.Fatalf("insert mission %s: %v", id, err)
	}
	return m
}

func TestMissionRoundTrip(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	sched := base.Add(2 * time.Hour)
	m := domain.Mission{
		ID:              "m1",
		Label:           domain.LabelFocus,
		Title:           "Deep work",
		Description:     "one block",
		DurationMinutes: 25,
		Status:          domain.StatusPending,
		CreatedAt:       base,
		ScheduledAt:     &sched,
		Source:          domain.SourceCustom,
		Visible:         true,
		Essential:       true,
		RewardAmount:    domain.WholePoints(5).Ptr(),
		PenaltyAmount:   domain.PointsFromFloat(2.25).Ptr(),
	}
	if err := r.InsertMission(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetMission(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != m.Title || got.Description != m.Description || !got.Essential || !got.Visible {
		t.Fatalf("unexpected mission %+v", got)
	}
	if !got.CreatedAt.Equal(base) || got.ScheduledAt == nil || !got.ScheduledAt.Equal(sched) {
		t.Fatalf("timestamps not preserved: %+v", got)
	}
	if *got.PenaltyAmount != 225 || *got.RewardAmount != 500 {
		t.Fatalf("amounts not preserved: %v %v", got.RewardAmount, got.PenaltyAmount)
	}
	if _, err := r.GetMission(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMissionStatusCompareAndSwap(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertMission(t, r, "m1", domain.LabelReading, domain.StatusPending, 0)

	ok, err := r.UpdateMissionStatusTx(ctx, nil, "m1", domain.StatusScheduled, domain.StatusActive, nil)
	if err != nil || ok {
		t.Fatalf("expected stale status to be rejected, ok=%v err=%v", ok, err)
	}
	ok, err = r.UpdateMissionStatusTx(ctx, nil, "m1", domain.StatusPending, domain.StatusActive, nil)
	if err != nil || !ok {
		t.Fatalf("expected update, ok=%v err=%v", ok, err)
	}
	done := base.Add(time.Hour)
	if _, err := r.UpdateMissionStatusTx(ctx, nil, "m1", domain.StatusActive, domain.StatusCompleted, &done); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := r.GetMission(ctx, "m1")
	if got.Status != domain.StatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("unexpected mission %+v", got)
	}
}

func TestListMissionsFilters(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertMission(t, r, "a", domain.LabelFocus, domain.StatusPending, 0)
	insertMission(t, r, "b", domain.LabelMovement, domain.StatusPending, time.Minute)
	insertMission(t, r, "c", domain.LabelFocus, domain.StatusRefused, 2*time.Minute)
	if _, err := r.ScheduleMissionTx(ctx, nil, "b", domain.StatusPending, base.Add(3*time.Hour), false); err != nil {
		t.Fatalf("schedule b: %v", err)
	}
	if _, err := r.ScheduleMissionTx(ctx, nil, "a", domain.StatusPending, base.Add(time.Hour), false); err != nil {
		t.Fatalf("schedule a: %v", err)
	}

	focus, err := r.ListMissions(ctx, MissionFilter{Label: domain.LabelFocus})
	if err != nil || len(focus) != 2 || focus[0].ID != "a" || focus[1].ID != "c" {
		t.Fatalf("label filter: %v %v", focus, err)
	}
	sched, err := r.ListMissions(ctx, MissionFilter{Scheduled: true})
	if err != nil || len(sched) != 2 || sched[0].ID != "a" || sched[1].ID != "b" {
		t.Fatalf("scheduled order: %v %v", sched, err)
	}
	refused, err := r.ListMissions(ctx, MissionFilter{Status: domain.StatusRefused})
	if err != nil || len(refused) != 1 {
		t.Fatalf("status filter: %v %v", refused, err)
	}
}

func TestRecentMissionsChronological(t *testing.T) {
	r := setupRepo(t)
	for i := 0; i < 7; i++ {
		insertMission(t, r, fmt.Sprintf("m%d", i), domain.LabelRoutine, domain.StatusPending, time.Duration(i)*time.Minute)
	}
	recent, err := r.RecentMissions(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 5 || recent[0].ID != "m2" || recent[4].ID != "m6" {
		t.Fatalf("unexpected recent window %v", recent)
	}
}

func TestLabelStatsCoversAllLabels(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertMission(t, r, "a", domain.LabelFocus, domain.StatusCompleted, 0)
	insertMission(t, r, "b", domain.LabelFocus, domain.StatusRefused, time.Minute)
	if err := r.InsertFeedbackTx(ctx, nil, domain.Feedback{ID: "f1", MissionID: "a", Rating: 4, CreatedAt: base}); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	stats, err := r.LabelStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != len(domain.Labels) {
		t.Fatalf("expected %d labels, got %d", len(domain.Labels), len(stats))
	}
	for _, s := range stats {
		if s.Label != domain.LabelFocus {
			if s.Count != 0 {
				t.Fatalf("unexpected count for %s", s.Label)
			}
			continue
		}
		if s.Count != 2 || s.CompletedCount != 1 || s.CompletionRate != 0.5 || s.AverageRating != 4 || s.TotalDuration != 30 {
			t.Fatalf("unexpected focus stats %+v", s)
		}
	}
}

func TestMissionEffectIsUniquePerMission(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	bonus := domain.Transaction{ID: "t0", Amount: 100, Description: "bonus", MissionID: "m1", CreatedAt: base, Type: domain.TxReward}
	for _, id := range []string{"t0", "t0b"} {
		bonus.ID = id
		if ok, err := r.InsertTransactionTx(ctx, nil, bonus); err != nil || !ok {
			t.Fatalf("plain reward %s ok=%v err=%v", id, ok, err)
		}
	}
	tx := domain.Transaction{ID: "t1", Amount: 500, Description: "reward", MissionID: "m1", CreatedAt: base, Type: domain.TxReward, Effect: domain.EffectCompleted}
	ok, err := r.InsertTransactionTx(ctx, nil, tx)
	if err != nil || !ok {
		t.Fatalf("first insert ok=%v err=%v", ok, err)
	}
	tx.ID = "t2"
	ok, err = r.InsertTransactionTx(ctx, nil, tx)
	if err != nil || ok {
		t.Fatalf("duplicate completion reward should be ignored ok=%v err=%v", ok, err)
	}
	purchase := domain.Transaction{ID: "t3", Amount: -200, Description: "unlock", MissionID: "m1", CreatedAt: base, Type: domain.TxPurchase}
	if ok, err := r.InsertTransactionTx(ctx, nil, purchase); err != nil || !ok {
		t.Fatalf("purchase insert ok=%v err=%v", ok, err)
	}
	sum, err := r.SumTransactions(ctx)
	if err != nil || sum != 500 {
		t.Fatalf("sum=%v err=%v", sum, err)
	}
	txs, err := r.ListTransactions(ctx, TxFilter{MissionID: "m1"})
	if err != nil || len(txs) != 4 {
		t.Fatalf("expected 4 transactions for m1, got %d err=%v", len(txs), err)
	}
	if txs[2].Effect != domain.EffectCompleted || txs[0].Effect != domain.EffectNone {
		t.Fatalf("unexpected effects %q %q", txs[0].Effect, txs[2].Effect)
	}
}

func TestDebitIfCovered(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	if err := r.AdjustBalanceTx(ctx, nil, 300); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if ok, err := r.DebitIfCoveredTx(ctx, nil, 400); err != nil || ok {
		t.Fatalf("expected uncovered debit to fail ok=%v err=%v", ok, err)
	}
	if ok, err := r.DebitIfCoveredTx(ctx, nil, 300); err != nil || !ok {
		t.Fatalf("expected covered debit ok=%v err=%v", ok, err)
	}
	if b, _ := r.Balance(ctx); b != 0 {
		t.Fatalf("expected zero balance, got %v", b)
	}
}

func TestGateStateUpsert(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	if _, err := r.GetGateState(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, mins := range []int{5, 30} {
		st := GateState{NextAllowedAt: base.Add(time.Duration(mins) * time.Minute), ChosenMinutes: mins, UpdatedAt: base}
		if err := r.UpsertGateStateTx(ctx, nil, st); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	st, err := r.GetGateState(ctx)
	if err != nil || st.ChosenMinutes != 30 || !st.NextAllowedAt.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("unexpected gate state %+v err=%v", st, err)
	}
}
