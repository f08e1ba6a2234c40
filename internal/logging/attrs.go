package logging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Fullname names the entity a line concerns when it is not the operation
// target carried in FieldEntity.
func Fullname(name string) Attr { return slog.String(FieldFullname, name) }

// Status records a stored or effective entity status.
func Status(status hierarchy.Status) Attr { return slog.String(FieldStatus, string(status)) }

// Transition records a status move as a {from, to} group.
func Transition(from, to hierarchy.Status) Attr {
	return slog.Group(FieldTransition, slog.String("from", string(from)), slog.String("to", string(to)))
}

func Error(err error) Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.Any(FieldError, err)
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component. A nil logger becomes a
// no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning carrying event_type, error_hint, and the
// error_kind of any attached error.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logClassified(logger, slog.LevelWarn, msg, eventType, "inspect the entity with print-tree", attrs)
}

// ErrorWithContext is WarnWithContext at error level.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logClassified(logger, slog.LevelError, msg, eventType, "check the cm log for details", attrs)
}

func logClassified(logger *slog.Logger, level slog.Level, msg, eventType, hint string, attrs []Attr) {
	if logger == nil {
		return
	}
	var kind string
	seen := map[string]bool{}
	for _, a := range attrs {
		seen[a.Key] = true
		if a.Key != FieldError {
			continue
		}
		if err, ok := a.Value.Any().(error); ok && !errors.Is(err, context.Canceled) {
			kind = services.Kind(err)
		}
	}
	if !seen[FieldEventType] {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !seen[FieldErrorHint] {
		attrs = append(attrs, String(FieldErrorHint, hint))
	}
	if kind != "" && !seen[FieldErrorKind] {
		attrs = append(attrs, String(FieldErrorKind, kind))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
