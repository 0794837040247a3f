package core

import (
	"fmt"
	"log/slog"
)

// SlogAdapter wraps a *slog.Logger to satisfy the Logger interface, the way
// LogrusAdapter wraps a *logrus.Logger. The scheduler logs through slog
// directly; Context.Logger (and anything built on the Logger interface,
// such as the job middleware chain) goes through this adapter instead.
type SlogAdapter struct {
	*slog.Logger
}

var _ Logger = (*SlogAdapter)(nil)

func (l *SlogAdapter) Criticalf(format string, args ...any) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Debugf(format string, args ...any) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Errorf(format string, args ...any) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Noticef(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l *SlogAdapter) Warningf(format string, args ...any) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}
