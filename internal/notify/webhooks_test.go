package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/migrate"
	"missionline/internal/repo"
)

type sink struct {
	mu         sync.Mutex
	deliveries []Delivery
	bodies     [][]byte
	headers    []http.Header
	fail       bool
}

func (s *sink) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.deliveries = append(s.deliveries, d)
	s.bodies = append(s.bodies, body)
	s.headers = append(s.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.deliveries {
		out = append(out, d.Type)
	}
	return out
}

func setup(t *testing.T) (repo.Repo, func(string)) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	w := events.Writer{Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }}
	emit := func(evtType string) {
		require.NoError(t, w.AppendDB(context.Background(), conn, evtType, "mission", "m1", events.EventPayload{"k": "v"}))
	}
	return repo.Repo{DB: conn}, emit
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversNewEventsOnly(t *testing.T) {
	r, emit := setup(t)
	emit(events.MissionCreated)

	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := New(r, []config.Webhook{{URL: srv.URL, Secret: "shh"}}, quietLogger())
	ctx := context.Background()
	d.DispatchOnce(ctx)
	assert.Empty(t, s.types(), "events before the first poll are skipped")

	emit(events.MissionTransition)
	emit(events.LedgerCredited)
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	assert.Equal(t, []string{events.MissionTransition, events.LedgerCredited}, s.types())
	assert.JSONEq(t, `{"k":"v"}`, string(s.deliveries[0].Payload))
	assert.Equal(t, "m1", s.deliveries[0].EntityID)
}

func TestDeliveriesAreSignedWithoutLeakingSecret(t *testing.T) {
	const secret = "whsec-missionline-test-key"
	r, emit := setup(t)
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := New(r, []config.Webhook{{URL: srv.URL, Secret: secret}}, quietLogger())
	ctx := context.Background()
	d.DispatchOnce(ctx)
	emit(events.LedgerCredited)
	d.DispatchOnce(ctx)

	require.Len(t, s.headers, 1)
	h := s.headers[0]
	for name, values := range h {
		for _, v := range values {
			assert.NotContains(t, v, secret, "header %s carries the raw secret", name)
		}
	}
	auth := h.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Bearer "), "got %q", auth)
	token := strings.TrimPrefix(auth, "Bearer ")

	claims, err := VerifyDelivery(token, secret, s.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, s.deliveries[0].ID, claims.EventID)
	assert.Equal(t, events.LedgerCredited, claims.EventType)
	require.NotNil(t, claims.IssuedAt)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Minute)

	_, err = VerifyDelivery(token, "wrong", s.bodies[0])
	assert.Error(t, err)
	_, err = VerifyDelivery(token, secret, []byte(`{"id":999}`))
	assert.ErrorContains(t, err, "body does not match")
}

func TestUnsignedWithoutSecret(t *testing.T) {
	r, emit := setup(t)
	s := &sink{}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := New(r, []config.Webhook{{URL: srv.URL}}, quietLogger())
	ctx := context.Background()
	d.DispatchOnce(ctx)
	emit(events.MissionCreated)
	d.DispatchOnce(ctx)

	require.Len(t, s.headers, 1)
	assert.Empty(t, s.headers[0].Get("Authorization"))
}

func TestExpiredDeliveryTokenRejected(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	body := []byte(`{"id":1}`)
	token, err := SignDelivery("shh", domain.Event{ID: 1, Type: events.MissionCreated}, body, issued)
	require.NoError(t, err)
	_, err = VerifyDelivery(token, "shh", body)
	assert.Error(t, err)

	_, err = SignDelivery(" ", domain.Event{ID: 1}, body, time.Now())
	assert.Error(t, err)
}

func TestDispatcherFiltersAndRetries(t *testing.T) {
	r, emit := setup(t)
	s := &sink{fail: true}
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	defer srv.Close()

	d := New(r, []config.Webhook{{URL: srv.URL, Events: []string{"ledger.*"}}}, quietLogger())
	ctx := context.Background()
	d.DispatchOnce(ctx)

	emit(events.MissionCreated)
	emit(events.LedgerDebited)
	d.DispatchOnce(ctx)
	assert.Empty(t, s.types())

	s.mu.Lock()
	s.fail = false
	s.mu.Unlock()
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.LedgerDebited}, s.types())
}

func TestDisabledHooks(t *testing.T) {
	off := false
	d := New(repo.Repo{}, []config.Webhook{{URL: "http://example.invalid", Enabled: &off}, {URL: " "}}, quietLogger())
	assert.False(t, d.Enabled())
	d.DispatchOnce(context.Background())
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{" mission.created ", "ledger.*"})
	assert.True(t, f.match("mission.created"))
	assert.False(t, f.match("mission.transition"))
	assert.True(t, f.match("ledger.debited"))
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{""}).match("anything"))
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := setup(t)
	d := New(r, []config.Webhook{{URL: "http://127.0.0.1:1"}}, quietLogger())
	d.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
