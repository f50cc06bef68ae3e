// Package notify forwards event log entries to configured webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/repo"
)

const (
	DefaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Dispatcher polls the event log and posts new entries to each active hook.
// Every hook keeps its own cursor, starting at the newest event when the
// dispatcher first sees it.
type Dispatcher struct {
	Repo     repo.Repo
	Hooks    []config.Webhook
	Client   *http.Client
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time

	mu      sync.Mutex
	cursors map[int]int64
}

func New(r repo.Repo, hooks []config.Webhook, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Repo:     r,
		Hooks:    hooks,
		Client:   &http.Client{Timeout: defaultTimeout},
		Interval: DefaultInterval,
		Logger:   logger.With("component", "notify"),
		Now:      time.Now,
		cursors:  make(map[int]int64),
	}
}

// Enabled reports whether at least one hook would receive events.
func (d *Dispatcher) Enabled() bool {
	for _, h := range d.Hooks {
		if h.Active() && strings.TrimSpace(h.URL) != "" {
			return true
		}
	}
	return false
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch per hook. A failed delivery stops that
// hook's batch so the event is retried on the next round.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.Hooks {
		if !hook.Active() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatch(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, hook config.Webhook) {
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		d.Logger.Warn("init webhook cursor", "url", hook.URL, "error", err)
		return
	}
	evts, err := d.Repo.ListEvents(ctx, repo.EventFilter{AfterID: cursor, Limit: defaultBatch})
	if err != nil {
		d.Logger.Warn("fetch events", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			if err := d.post(ctx, hook, evt); err != nil {
				d.Logger.Warn("webhook delivery failed", "url", hook.URL, "event", evt.ID, "error", err)
				return
			}
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.Repo.LastEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(idx int, id int64) {
	d.mu.Lock()
	d.cursors[idx] = id
	d.mu.Unlock()
}

// Delivery is the JSON body posted to a webhook.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func newDelivery(evt domain.Event) Delivery {
	out := Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		TS:         evt.TS,
		Payload:    json.RawMessage(`{}`),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			out.Payload = json.RawMessage(evt.Payload)
		} else {
			out.PayloadRaw = evt.Payload
		}
	}
	return out
}

func (d *Dispatcher) post(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	data, err := json.Marshal(newDelivery(evt))
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			c := *client
			c.Timeout = timeout
			client = &c
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Missionline-Event", evt.Type)
	req.Header.Set("X-Missionline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		token, err := SignDelivery(hook.Secret, evt, data, now())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches exact types or a "prefix.*" wildcard.
func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evtType string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evtType]; ok {
		return true
	}
	if i := strings.IndexByte(evtType, '.'); i > 0 {
		_, ok := f.set[evtType[:i]+".*"]
		return ok
	}
	return false
}
