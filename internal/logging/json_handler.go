package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// jsonTimeFormat is UTC with millisecond precision so lines from the CLI and
// the daemon sort together.
const jsonTimeFormat = "2006-01-02T15:04:05.000Z"

// newJSONHandler writes one object per line with ts, level and msg keys.
// Status values are upper-cased to match the CLI, and empty entity or
// operation fields are dropped.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch attr.Key {
				case slog.TimeKey:
					if attr.Value.Kind() == slog.KindTime {
						return slog.String("ts", attr.Value.Time().UTC().Format(jsonTimeFormat))
					}
					attr.Key = "ts"
					return attr
				case slog.LevelKey:
					return slog.String("level", strings.ToLower(attr.Value.String()))
				case slog.MessageKey:
					attr.Key = "msg"
					return attr
				case slog.SourceKey:
					if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
						return slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
					}
					return attr
				case FieldEntity, FieldOperation:
					if attr.Value.String() == "" {
						return slog.Attr{}
					}
					return attr
				case FieldError:
					if err, ok := attr.Value.Any().(error); ok {
						return slog.String(FieldError, err.Error())
					}
					return attr
				}
			}
			if attr.Key == FieldStatus || (len(groups) > 0 && groups[len(groups)-1] == FieldTransition) {
				if attr.Value.Kind() == slog.KindString {
					attr.Value = slog.StringValue(strings.ToUpper(attr.Value.String()))
				}
			}
			return attr
		},
	})
}
