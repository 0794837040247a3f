package core

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BackoffConfig bounds an exponential backoff sequence: used by the
// Connection Manager for DNS/handshake retries and by the Job Dispatcher
// for return-to-controller retries.
type BackoffConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// MetricsRecorder records retry attempts for observability.
type MetricsRecorder interface {
	RecordJobRetry(name string, attempt int, success bool)
}

// RetryExecutor runs an arbitrary operation with backoff between attempts.
// It carries no dependency on jobs or schedule entries — callers identify
// the operation by name for logging/metrics only.
type RetryExecutor struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
}

// NewRetryExecutor creates a retry executor using the real wall clock.
func NewRetryExecutor(logger Logger) *RetryExecutor {
	return &RetryExecutor{logger: logger, clock: GetDefaultClock()}
}

// NewRetryExecutorWithClock creates a retry executor driven by clock,
// for deterministic tests.
func NewRetryExecutorWithClock(logger Logger, clock Clock) *RetryExecutor {
	return &RetryExecutor{logger: logger, clock: clock}
}

// SetMetricsRecorder attaches a metrics recorder.
func (re *RetryExecutor) SetMetricsRecorder(metrics MetricsRecorder) {
	re.metrics = metrics
}

// Do runs op, retrying per cfg until it succeeds, ctx is cancelled, or
// retries are exhausted. name identifies the operation in logs/metrics.
func (re *RetryExecutor) Do(ctx context.Context, name string, cfg BackoffConfig, op func(context.Context) error) error {
	if cfg.MaxRetries <= 0 {
		return op(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 && re.logger != nil {
				re.logger.Noticef("%s succeeded after %d retries", name, attempt)
			}
			re.record(name, attempt, true)
			return nil
		}

		lastErr = err
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := re.calculateDelay(cfg, attempt)
		if re.logger != nil {
			re.logger.Warningf("%s failed (attempt %d/%d): %v. Retrying in %v",
				name, attempt+1, cfg.MaxRetries+1, err, delay)
		}
		re.record(name, attempt+1, false)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-re.clock.After(delay):
		}
	}

	if re.logger != nil {
		re.logger.Errorf("%s failed after %d attempts: %v", name, cfg.MaxRetries+1, lastErr)
	}
	re.record(name, cfg.MaxRetries+1, false)

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxRetries+1, lastErr)
}

func (re *RetryExecutor) record(name string, attempt int, success bool) {
	if re.metrics != nil {
		re.metrics.RecordJobRetry(name, attempt, success)
	}
}

func (re *RetryExecutor) calculateDelay(cfg BackoffConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay
	if cfg.Exponential {
		delay = time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return delay
}
