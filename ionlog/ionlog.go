// Package ionlog adapts github.com/joeycumines/logiface (backed by
// github.com/joeycumines/stumpy's JSON writer) to the platform.Logger shape
// ioncore components accept (the scheduler's IOJob and RepeatableIOJob take
// one), so their events are backed by a real structured-logging stack
// rather than a hand-rolled one.
package ionlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/ionforge/ioncore/platform"
)

// Logger wraps a logiface.Logger[*stumpy.Event], satisfying platform.Logger.
type Logger struct {
	l *logiface.Logger[*stumpy.Event]
}

// New builds a Logger writing newline-delimited JSON to w (os.Stderr if nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{l: stumpy.L.New(stumpy.WithStumpy(stumpy.WithWriter(w)))}
}

var _ platform.Logger = (*Logger)(nil)

// Event implements platform.Logger. fields are interpreted as alternating
// key/value pairs; a pair whose key is not a string is skipped, and an odd
// trailing value is logged under a synthetic "extra" field.
func (lg *Logger) Event(level string, msg string, fields ...any) {
	b := lg.builderFor(level)
	i := 0
	for ; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		b = b.Any(key, fields[i+1])
	}
	if i < len(fields) {
		b = b.Any("extra", fields[i])
	}
	b.Log(msg)
}

func (lg *Logger) builderFor(level string) *logiface.Builder[*stumpy.Event] {
	switch level {
	case "debug":
		return lg.l.Debug()
	case "warn", "warning":
		return lg.l.Warning()
	case "error", "err":
		return lg.l.Err()
	case "trace":
		return lg.l.Trace()
	default:
		return lg.l.Info()
	}
}
