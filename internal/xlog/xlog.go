// Package xlog provides leveled, object-tagged logging on top of
// log/slog, with severity levels between Info and Warn and above Error
// that the standard library doesn't define. The call convention — a subject
// value plus a printf-style format — matches the teacher's fs.Debugf
// family.
//
// Grounded on _examples/rclone-rclone/fs/log/slog_test.go (the
// remaining fragment of the teacher's fs/log package).
package xlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Severity levels slotted around the stdlib's own four, matching the
// teacher's fs.SlogLevelNotice/Critical/Alert/Emergency.
const (
	LevelNotice   = slog.Level(2)  // between Info (0) and Warn (4)
	LevelCritical = slog.Level(10) // above Error (8)
	LevelAlert    = slog.Level(12)
	LevelEmergency = slog.Level(14)
)

var base = slog.New(newHandler(os.Stderr))

// SetOutput redirects all subsequent log output, for tests and
// embedders that want their own sink.
func SetOutput(h slog.Handler) {
	base = slog.New(h)
}

func levelName(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case LevelNotice:
		return "NOTICE"
	case slog.LevelWarn:
		return "WARNING"
	case slog.LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	case LevelAlert:
		return "ALERT"
	case LevelEmergency:
		return "EMERGENCY"
	default:
		return l.String()
	}
}

// handler renders records as "LEVEL : subject: message", matching the
// teacher's plain-text OutputHandler style, minus its JSON/multi-sink
// machinery (this module has no need of either).
type handler struct {
	out    *os.File
	level  slog.Level
}

func newHandler(out *os.File) *handler {
	return &handler{out: out, level: slog.LevelInfo}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var subject string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "subject" {
			subject = a.Value.String()
		}
		return true
	})

	name := levelName(r.Level)
	if subject != "" {
		_, err := fmt.Fprintf(h.out, "%-7s: %s: %s\n", name, subject, r.Message)
		return err
	}
	_, err := fmt.Fprintf(h.out, "%-7s: %s\n", name, r.Message)
	return err
}

func (h *handler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(_ string) slog.Handler       { return h }

func logf(level slog.Level, subject any, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if subject == nil {
		base.Log(context.Background(), level, msg)
		return
	}
	base.Log(context.Background(), level, msg, slog.String("subject", fmt.Sprint(subject)))
}

func Debugf(subject any, format string, args ...any)    { logf(slog.LevelDebug, subject, format, args...) }
func Infof(subject any, format string, args ...any)     { logf(slog.LevelInfo, subject, format, args...) }
func Noticef(subject any, format string, args ...any)   { logf(LevelNotice, subject, format, args...) }
func Logf(subject any, format string, args ...any)      { logf(slog.LevelWarn, subject, format, args...) }
func Errorf(subject any, format string, args ...any)    { logf(slog.LevelError, subject, format, args...) }
func Criticalf(subject any, format string, args ...any) { logf(LevelCritical, subject, format, args...) }
func Alertf(subject any, format string, args ...any)    { logf(LevelAlert, subject, format, args...) }
func Emergencyf(subject any, format string, args ...any) {
	logf(LevelEmergency, subject, format, args...)
}
