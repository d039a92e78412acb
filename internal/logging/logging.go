// Package logging wires the daemon's structured logging onto zerolog,
// exposed through log/slog so the rest of the daemon (internal/server,
// internal/watcher, internal/reconciler, internal/persistence) can log
// against the standard slog.Logger API without importing zerolog
// directly.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
)

// Init installs a slog.Logger backed by a zerolog console writer as the
// process-wide default, at the given minimum level.
func Init(level slog.Level) {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(toZerologLevel(level))

	slog.SetDefault(slog.New(&handler{logger: zl, level: level}))
}

// handler adapts slog.Handler to a zerolog.Logger, forwarding every
// record's level, message, and attributes as structured fields.
type handler struct {
	logger zerolog.Logger
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	event := h.eventFor(record.Level)
	if !record.Time.IsZero() {
		event = event.Time("time", record.Time)
	}

	for _, a := range h.attrs {
		addAttr(event, h.group, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		addAttr(event, h.group, a)
		return true
	})

	event.Msg(record.Message)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		next.group = next.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *handler) eventFor(level slog.Level) *zerolog.Event {
	switch {
	case level >= slog.LevelError:
		return h.logger.Error()
	case level >= slog.LevelWarn:
		return h.logger.Warn()
	case level >= slog.LevelInfo:
		return h.logger.Info()
	default:
		return h.logger.Debug()
	}
}

func addAttr(event *zerolog.Event, group string, a slog.Attr) {
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	event.Interface(key, a.Value.Any())
}

func toZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
