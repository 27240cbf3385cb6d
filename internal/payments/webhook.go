package payments

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
)

const maxWebhookBytes = 1 << 20

// Handler reacts to one webhook event. Returning an error makes the endpoint
// answer 500 so Stripe retries the delivery.
type Handler func(ctx context.Context, evt Event) error

// EventLog remembers processed event ids.
type EventLog struct {
	db    *sql.DB
	memMu sync.Mutex
	mem   map[string]string
}

var EventLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS stripe_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db, mem: make(map[string]string)}
}

func (l *EventLog) Seen(ctx context.Context, id string) (bool, error) {
	if l.db == nil {
		l.memMu.Lock()
		_, ok := l.mem[id]
		l.memMu.Unlock()
		return ok, nil
	}
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM stripe_events WHERE id = $1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (l *EventLog) Record(ctx context.Context, id, typ string) error {
	if l.db == nil {
		l.memMu.Lock()
		l.mem[id] = typ
		l.memMu.Unlock()
		return nil
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO stripe_events (id, type, processed_at) VALUES ($1,$2,$3) ON CONFLICT (id) DO NOTHING`, id, typ, time.Now().UTC())
	return err
}

// Webhooks is the Stripe webhook endpoint. Handlers registered for a type
// run in registration order.
type Webhooks struct {
	secret   string
	log      *EventLog
	handlers map[string][]Handler
}

func NewWebhooks(secret string, log *EventLog) *Webhooks {
	if log == nil {
		log = NewEventLog(nil)
	}
	return &Webhooks{secret: secret, log: log, handlers: make(map[string][]Handler)}
}

func (w *Webhooks) On(eventType string, h Handler) {
	w.handlers[eventType] = append(w.handlers[eventType], h)
}

// Dispatch runs the handlers for evt unless it was already processed.
func (w *Webhooks) Dispatch(ctx context.Context, evt Event) (duplicate bool, err error) {
	seen, err := w.log.Seen(ctx, evt.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return true, nil
	}
	for _, h := range w.handlers[evt.Type] {
		if err := h(ctx, evt); err != nil {
			return false, err
		}
	}
	return false, w.log.Record(ctx, evt.ID, evt.Type)
}

func (w *Webhooks) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.MethodNotAllowed(rw)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httpx.WriteJSON(rw, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	se, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), w.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.WarnContext(r.Context(), "stripe webhook rejected", "error", err.Error())
		httpx.WriteJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	evt := Event{ID: se.ID, Type: string(se.Type), Account: se.Account, Created: unix(se.Created)}
	if se.Data != nil {
		evt.Raw = se.Data.Raw
	}
	_, handled := w.handlers[evt.Type]

	duplicate, err := w.Dispatch(r.Context(), evt)
	if err != nil {
		slog.ErrorContext(r.Context(), "stripe webhook handler failed", "event_id", evt.ID, "type", evt.Type, "error", err.Error())
		httpx.WriteJSON(rw, http.StatusInternalServerError, map[string]string{"error": "handler failed"})
		return
	}
	slog.InfoContext(r.Context(), "stripe webhook", "event_id", evt.ID, "type", evt.Type, "handled", handled, "duplicate", duplicate)
	httpx.WriteJSON(rw, http.StatusOK, map[string]any{"received": true, "duplicate": duplicate})
}
