package logring

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler, mirroring every record it handles into a
// Ring in addition to forwarding it to the wrapped handler.
type Handler struct {
	next slog.Handler
	ring *Ring
}

// NewHandler wraps nextHandler with a Ring-appending Handler.
func NewHandler(nextHandler slog.Handler, ring *Ring) *Handler {
	return &Handler{next: nextHandler, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	extra := make(map[string]any, record.NumAttrs())
	var module, function string
	var line int

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "module":
			module, _ = a.Value.Any().(string)
		case "function":
			function, _ = a.Value.Any().(string)
		case "line":
			if v, ok := a.Value.Any().(int); ok {
				line = v
			}
		default:
			extra[a.Key] = a.Value.Any()
		}
		return true
	})

	h.ring.Add(Record{
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Logger:    loggerName(ctx),
		Message:   record.Message,
		Module:    module,
		Function:  function,
		Line:      line,
		Extra:     extra,
	})

	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), ring: h.ring}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), ring: h.ring}
}

type loggerNameKey struct{}

// WithLoggerName attaches a logger name to ctx so Handle can tag the
// record with it; slog has no native concept of a logger name, so this
// context key substitutes for it.
func WithLoggerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, loggerNameKey{}, name)
}

func loggerName(ctx context.Context) string {
	name, _ := ctx.Value(loggerNameKey{}).(string)
	return name
}
