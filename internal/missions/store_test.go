package missions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/migrate"
	"missionline/internal/repo"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	s := New(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	s.NewID = func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
	s.Now = func() time.Time { return now }
	return s
}

func draft(label domain.Label) domain.Draft {
	return domain.Draft{Label: label, Title: "Walk", DurationMinutes: 5, Source: domain.SourceCustom}
}

func TestCreateValidates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	var verr domain.ValidationError

	_, err := s.Create(ctx, domain.Draft{Label: "juggling", Title: "x", DurationMinutes: 5, Source: domain.SourceAuto})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "label", verr.Field)

	_, err = s.Create(ctx, domain.Draft{Label: domain.LabelFocus, Title: "x", DurationMinutes: 0, Source: domain.SourceAuto})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration_minutes", verr.Field)

	list, err := s.List(ctx, repo.MissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateDefaults(t *testing.T) {
	s := newStore(t)
	m, err := s.Create(context.Background(), draft(domain.LabelMovement))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.False(t, m.Visible)
	assert.Equal(t, now, m.CreatedAt)

	at := now.Add(time.Hour)
	d := draft(domain.LabelReading)
	d.ScheduledAt = &at
	m, err = s.Create(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, m.Status)
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]domain.Status]bool{
		{domain.StatusPending, domain.StatusActive}:    true,
		{domain.StatusPending, domain.StatusRefused}:   true,
		{domain.StatusScheduled, domain.StatusActive}:  true,
		{domain.StatusScheduled, domain.StatusRefused}: true,
		{domain.StatusActive, domain.StatusCompleted}:  true,
	}
	for _, from := range domain.Statuses {
		for _, to := range domain.Statuses {
			assert.Equal(t, allowed[[2]domain.Status{from, to}], domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestDisallowedEdgeLeavesRecordUnchanged(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, err := s.Create(ctx, draft(domain.LabelFocus))
	require.NoError(t, err)

	_, err = s.Transition(ctx, m.ID, domain.StatusCompleted, nil)
	var terr domain.StateTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.StatusPending, terr.From)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCompleteSetsCompletedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, _ := s.Create(ctx, draft(domain.LabelFocus))
	_, err := s.Transition(ctx, m.ID, domain.StatusActive, nil)
	require.NoError(t, err)
	done := now.Add(25 * time.Minute)
	got, err := s.Transition(ctx, m.ID, domain.StatusCompleted, &done)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)

	_, err = s.Transition(ctx, m.ID, domain.StatusCompleted, nil)
	var terr domain.StateTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestSingleActiveMission(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, draft(domain.LabelFocus))
	b, _ := s.Create(ctx, draft(domain.LabelMovement))

	_, err := s.Transition(ctx, a.ID, domain.StatusActive, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, b.ID, domain.StatusActive, nil)
	var terr domain.StateTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, a.ID)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestConcurrentTransitionsOnSameMission(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, _ := s.Create(ctx, draft(domain.LabelFocus))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := domain.StatusActive
			if i%2 == 1 {
				to = domain.StatusRefused
			}
			_, err := s.Transition(ctx, m.ID, to, nil)
			mu.Lock()
			defer mu.Unlock()
			var terr domain.StateTransitionError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &terr):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, conflicts)
}

func TestScheduleOnlyFromPendingOrScheduled(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, _ := s.Create(ctx, draft(domain.LabelSocial))
	at := now.Add(2 * time.Hour)

	got, err := s.Schedule(ctx, m.ID, at, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, got.Status)
	later := at.Add(time.Hour)
	got, err = s.Schedule(ctx, m.ID, later, true)
	require.NoError(t, err)
	assert.True(t, got.Visible)
	assert.Equal(t, later, *got.ScheduledAt)

	_, err = s.Transition(ctx, m.ID, domain.StatusRefused, nil)
	require.NoError(t, err)
	_, err = s.Schedule(ctx, m.ID, at, false)
	var terr domain.StateTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestFeedbackOnceOnCompletedMission(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	m, _ := s.Create(ctx, draft(domain.LabelCreativity))

	var verr domain.ValidationError
	_, err := s.RecordFeedback(ctx, m.ID, 4, "nice")
	require.ErrorAs(t, err, &verr)
	_, err = s.RecordFeedback(ctx, m.ID, 6, "")
	require.ErrorAs(t, err, &verr)

	_, err = s.Transition(ctx, m.ID, domain.StatusActive, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, m.ID, domain.StatusCompleted, nil)
	require.NoError(t, err)

	fb, err := s.RecordFeedback(ctx, m.ID, 4, "nice")
	require.NoError(t, err)
	assert.Equal(t, 4, fb.Rating)
	_, err = s.RecordFeedback(ctx, m.ID, 5, "again")
	assert.ErrorIs(t, err, ErrFeedbackRecorded)

	got, _ := s.Get(ctx, m.ID)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, "nice", got.Feedback.Comment)
}

func TestClearKeepsNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, draft(domain.LabelAdmin))
		require.NoError(t, err)
	}
	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	list, _ := s.List(ctx, repo.MissionFilter{})
	assert.Empty(t, list)
	_, err = s.Get(ctx, "m1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
