package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/domain"
	"secretsanta/internal/engine"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100
)

// eventSource is the part of the store the dispatcher reads.
type eventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// webhookTarget is one configured receiver. Its cursor is the last event ID it
// has acknowledged or skipped.
type webhookTarget struct {
	url    string
	secret string
	types  map[string]bool
	client *http.Client
	cursor int64
	primed bool
}

func (t *webhookTarget) wants(evtType string) bool {
	return len(t.types) == 0 || t.types[evtType]
}

// webhookDispatcher polls the audit log and posts new events to each target.
// It is driven by a single goroutine.
type webhookDispatcher struct {
	source   eventSource
	event    string
	targets  []*webhookTarget
	log      *slog.Logger
	interval time.Duration
}

// StartWebhookDispatcher posts audit events to the configured webhooks until ctx is done.
// Delivery starts after the newest event present at startup.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	d := newWebhookDispatcher(e, log)
	if len(d.targets) == 0 {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, log *slog.Logger) *webhookDispatcher {
	d := &webhookDispatcher{source: e.Repo, log: log, interval: webhookInterval}
	if e.Config == nil {
		return d
	}
	d.event = e.Config.Event.Name
	for _, hook := range e.Config.Webhooks {
		if t := newWebhookTarget(hook); t != nil {
			d.targets = append(d.targets, t)
		}
	}
	return d
}

func newWebhookTarget(hook config.WebhookConfig) *webhookTarget {
	if (hook.Enabled != nil && !*hook.Enabled) || strings.TrimSpace(hook.URL) == "" {
		return nil
	}
	timeout := webhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	t := &webhookTarget{
		url:    hook.URL,
		secret: strings.TrimSpace(hook.Secret),
		client: &http.Client{Timeout: timeout},
	}
	for _, evt := range hook.Events {
		if evt = strings.TrimSpace(evt); evt != "" {
			if t.types == nil {
				t.types = make(map[string]bool)
			}
			t.types[evt] = true
		}
	}
	return t
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, t := range d.targets {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, t)
	}
}

// dispatch delivers pending events in order. A failed delivery stops the batch;
// the same event is retried on the next tick.
func (d *webhookDispatcher) dispatch(ctx context.Context, t *webhookTarget) {
	if !t.primed {
		latest, err := d.source.LatestEventID(ctx)
		if err != nil {
			d.log.Warn("webhook: init cursor failed", "url", t.url, "err", err)
			return
		}
		t.cursor, t.primed = latest, true
	}
	events, err := d.source.EventsAfter(ctx, webhookBatch, t.cursor)
	if err != nil {
		d.log.Warn("webhook: fetch events failed", "err", err)
		return
	}
	for _, evt := range events {
		if t.wants(evt.Type) {
			if err := d.post(ctx, t, evt); err != nil {
				d.log.Warn("webhook: delivery failed", "url", t.url, "event_id", evt.ID, "err", err)
				return
			}
		}
		t.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, t *webhookTarget, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Event:      d.event,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Santa-Event", evt.Type)
	req.Header.Set("X-Santa-Delivery", strconv.FormatInt(evt.ID, 10))
	if t.secret != "" {
		req.Header.Set("X-Santa-Secret", t.secret)
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
