// Package logging is a small leveled diagnostic logger gated by a
// verbosity counter, writing exclusively to stderr. Git-facing protocol
// output never goes through this package: stdout is the remote-helper
// channel and must carry nothing but protocol lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Level is a verbosity threshold. Higher is more verbose.
type Level int

const (
	Quiet Level = iota - 1
	Normal
	Verbose
	Debug
)

// slog levels used by Debugf and Tracef: slogDebug is slog's own
// LevelDebug, and slogTrace is a custom level below it, so the two can
// be distinguished without inventing a parallel level type.
const (
	slogTrace = slog.LevelDebug - 4
	slogDebug = slog.LevelDebug
)

// slogLevel translates a verbosity threshold into the slog.Level at or
// above which a record is emitted.
func slogLevel(level Level) slog.Level {
	switch level {
	case Quiet:
		return slog.LevelWarn
	case Normal:
		return slog.LevelInfo
	case Verbose:
		return slogDebug
	default: // Debug
		return slogTrace
	}
}

var levelNames = map[slog.Level]string{slogTrace: "TRACE"}

// Logger writes leveled diagnostics to stderr via log/slog. Safe for
// concurrent use by transfer workers: slog.Logger handlers serialize
// their own writes.
type Logger struct {
	levelVar *slog.LevelVar
	slog     *slog.Logger
}

// New returns a Logger at Normal verbosity, writing to os.Stderr.
func New() *Logger { return newTo(os.Stderr) }

// newTo returns a Logger at Normal verbosity writing to w, for tests
// that need to inspect emitted records without touching stderr.
func newTo(w io.Writer) *Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(Normal))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					if name, ok := levelNames[lvl]; ok {
						a.Value = slog.StringValue(name)
					}
				}
			}
			return a
		},
	})
	return &Logger{levelVar: levelVar, slog: slog.New(handler)}
}

// SetLevel adjusts the verbosity threshold, e.g. in response to the
// remote-helper `option verbosity <n>` command.
func (l *Logger) SetLevel(level Level) {
	l.levelVar.Set(slogLevel(level))
}

// Infof logs at Normal verbosity: user-relevant progress and outcomes.
func (l *Logger) Infof(format string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Debugf logs at Verbose or above: internal detail useful when
// diagnosing a failed push or fetch.
func (l *Logger) Debugf(format string, args ...any) {
	l.slog.Log(context.Background(), slogDebug, fmt.Sprintf(format, args...))
}

// Tracef logs only at Debug, the highest verbosity.
func (l *Logger) Tracef(format string, args ...any) {
	l.slog.Log(context.Background(), slogTrace, fmt.Sprintf(format, args...))
}
