package core

import "fmt"

// TestLogger is a minimal Logger implementation for tests: it records each
// formatted message in Lines instead of printing it, keeping test logs quiet.
type TestLogger struct {
	Lines []string
}

func (l *TestLogger) Criticalf(format string, args ...any) { l.append(format, args...) }
func (l *TestLogger) Debugf(format string, args ...any)    { l.append(format, args...) }
func (l *TestLogger) Errorf(format string, args ...any)    { l.append(format, args...) }
func (l *TestLogger) Noticef(format string, args ...any)   { l.append(format, args...) }
func (l *TestLogger) Warningf(format string, args ...any)  { l.append(format, args...) }

func (l *TestLogger) append(format string, args ...any) {
	l.Lines = append(l.Lines, fmt.Sprintf(format, args...))
}
