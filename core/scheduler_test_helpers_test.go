package core

import (
	"io"
	"log/slog"
)

// newDiscardLogger returns a slog.Logger that discards all output, for tests
// that only care about scheduler behavior, not log content.
func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestJob is a minimal Job used across scheduler tests. It embeds BareJob so
// it carries the full ScheduleEntry surface (Trigger, Range, MaxRunning, ...)
// while letting tests set just the fields they care about.
type TestJob struct {
	BareJob
	RunOnStartup bool
}

func (j *TestJob) ShouldRunOnStartup() bool {
	return j.RunOnStartup
}

// TestMiddleware is a no-op Middleware used to exercise middleware ordering
// and merging in scheduler tests.
type TestMiddleware struct {
	ContinueOnStopVal bool
	RunCalled         bool
}

func (m *TestMiddleware) Run(ctx *Context) error {
	m.RunCalled = true
	return ctx.Next()
}

func (m *TestMiddleware) ContinueOnStop() bool {
	return m.ContinueOnStopVal
}
