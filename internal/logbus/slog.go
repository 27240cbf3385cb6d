package logbus

import (
	"context"
	"log/slog"
	"strings"
)

// Handler tees slog records at or above Level into the bus while passing
// everything through to the wrapped handler.
type Handler struct {
	next   slog.Handler
	bus    *Bus
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func NewHandler(next slog.Handler, bus *Bus, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{next: next, bus: bus, level: level}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.bus != nil && r.Level >= h.level.Level() {
		fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
		prefix := strings.Join(h.groups, ".")
		add := func(a slog.Attr) {
			key := a.Key
			if prefix != "" {
				key = prefix + "." + key
			}
			fields[key] = a.Value.Resolve().Any()
		}
		for _, a := range h.attrs {
			add(a)
		}
		r.Attrs(func(a slog.Attr) bool {
			add(a)
			return true
		})
		if len(fields) == 0 {
			fields = nil
		}
		h.bus.Log(strings.ToLower(r.Level.String()), r.Message, fields)
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.next = h.next.WithAttrs(attrs)
	out.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	out := *h
	out.next = h.next.WithGroup(name)
	out.groups = append(append([]string{}, h.groups...), name)
	return &out
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
