package cywctl

import (
	"context"
	"log/slog"
)

// levelTrace is below debug and logs every bus transaction.
const levelTrace slog.Level = slog.LevelDebug - 1

// slogger is embedded by the driver types so they share logging helpers. A nil
// logger disables logging.
type slogger struct {
	log *slog.Logger
}

func (l slogger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

func (l slogger) warn(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelWarn, msg, attrs...)
}

func (l slogger) info(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelInfo, msg, attrs...)
}

func (l slogger) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l slogger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(levelTrace, msg, attrs...)
}

func (l slogger) logenabled(level slog.Level) bool {
	return l.log != nil && l.log.Handler().Enabled(context.Background(), level)
}

func (l slogger) isTraceEnabled() bool { return l.logenabled(levelTrace) }

func (l slogger) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if l.logenabled(level) {
		l.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
