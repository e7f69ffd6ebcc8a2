package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below debug for pion's trace output.
const LevelTrace = slog.LevelDebug - 4

// PionFactory hands pion a slog-backed logger per scope. Records below Level
// are discarded before formatting, whatever the root handler allows.
type PionFactory struct {
	log   *slog.Logger
	level slog.Leveler
}

// NewPionFactory returns a pion logger factory writing to root. A nil root uses slog.Default().
func NewPionFactory(root *slog.Logger) *PionFactory {
	if root == nil {
		root = slog.Default()
	}
	return &PionFactory{log: root.With("component", "pion"), level: Level}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return PionLog{log: f.log.With("mod", scope), level: f.level}
}

type PionLog struct {
	log   *slog.Logger
	level slog.Leveler
}

func (p PionLog) enabled(level slog.Level) bool {
	return level >= p.level.Level() && p.log.Enabled(context.Background(), level)
}

func (p PionLog) write(level slog.Level, msg string) {
	if p.enabled(level) {
		p.log.Log(context.Background(), level, msg)
	}
}

func (p PionLog) logf(level slog.Level, format string, args ...any) {
	if p.enabled(level) {
		p.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
	}
}

func (p PionLog) Trace(msg string)                  { p.write(LevelTrace, msg) }
func (p PionLog) Tracef(format string, args ...any) { p.logf(LevelTrace, format, args...) }
func (p PionLog) Debug(msg string)                  { p.write(slog.LevelDebug, msg) }
func (p PionLog) Debugf(format string, args ...any) { p.logf(slog.LevelDebug, format, args...) }
func (p PionLog) Info(msg string)                   { p.write(slog.LevelInfo, msg) }
func (p PionLog) Infof(format string, args ...any)  { p.logf(slog.LevelInfo, format, args...) }
func (p PionLog) Warn(msg string)                   { p.write(slog.LevelWarn, msg) }
func (p PionLog) Warnf(format string, args ...any)  { p.logf(slog.LevelWarn, format, args...) }
func (p PionLog) Error(msg string)                  { p.write(slog.LevelError, msg) }
func (p PionLog) Errorf(format string, args ...any) { p.logf(slog.LevelError, format, args...) }
