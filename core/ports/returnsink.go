package ports

import (
	"context"

	"github.com/netresearch/fleetagent/core/domain"
)

// ReturnSink delivers a completed JobResult somewhere beyond the
// controller channel: a webhook, an email, a Slack notification, an
// on-disk history file. Per-sink failures are the caller's concern to log;
// a ReturnSink should not need to know about its siblings.
type ReturnSink interface {
	Name() string
	Send(ctx context.Context, result domain.JobResult) error
}

// LazySequence is returned by an Invocable whose result should be streamed
// as it becomes available rather than returned all at once. The dispatcher
// iterates it via Next, emitting each element as an intermediate progress
// event before folding it into the final accumulated return.
type LazySequence interface {
	Next() (value any, ok bool)
}
