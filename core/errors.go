package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for job execution and transport failures.
var (
	ErrCommandNotFound   = errors.New("command not found")
	ErrCommandExecution  = errors.New("command execution failed")
	ErrInvalidInvocation = errors.New("invalid invocation")
	ErrWrongArity        = errors.New("wrong argument arity")
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrNoController      = errors.New("no controller reachable")
	ErrConfigFatal       = errors.New("fatal configuration error")
	ErrInternal          = errors.New("internal error")

	// Job ledger errors
	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrSchedulerTimeout is returned when the scheduler's graceful shutdown
	// deadline elapses before all running jobs finish.
	ErrSchedulerTimeout = errors.New("scheduler shutdown timed out")
)

// WrapCommandNotFoundError wraps ErrCommandNotFound with the missing
// function name.
func WrapCommandNotFoundError(fun string, err error) error {
	return wrap(ErrCommandNotFound, fun, err)
}

// WrapCommandExecutionError wraps ErrCommandExecution with the job id.
func WrapCommandExecutionError(jid string, err error) error {
	return wrap(ErrCommandExecution, jid, err)
}

// WrapInvalidInvocationError wraps ErrInvalidInvocation with the job id.
func WrapInvalidInvocationError(jid string, err error) error {
	return wrap(ErrInvalidInvocation, jid, err)
}

// WrapWrongArityError wraps ErrWrongArity, including the function's
// docstring (or signature) in the message per the error taxonomy.
func WrapWrongArityError(fun, docstring string, err error) error {
	if err == nil {
		err = ErrWrongArity
	}
	return fmt.Errorf("%s %q: %s: %w", "arity mismatch for", fun, docstring, err)
}

// WrapTransportTimeoutError wraps ErrTransportTimeout with the job id.
func WrapTransportTimeoutError(jid string, err error) error {
	return wrap(ErrTransportTimeout, jid, err)
}

// WrapNoControllerError wraps ErrNoController with the address list tried.
func WrapNoControllerError(addrs []string, err error) error {
	return wrap(ErrNoController, strings.Join(addrs, ","), err)
}

// WrapConfigFatalError wraps ErrConfigFatal with the offending key.
func WrapConfigFatalError(key string, err error) error {
	return wrap(ErrConfigFatal, key, err)
}

// WrapInternalError wraps ErrInternal with the job id, for uncaught panics
// recovered inside a worker.
func WrapInternalError(jid string, err error) error {
	return wrap(ErrInternal, jid, err)
}

// WrapJobError wraps a job-ledger-related error with context.
func WrapJobError(op string, jobName string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s job %q: %w", op, jobName, err)
}

func wrap(sentinel error, id string, err error) error {
	if err == nil {
		err = sentinel
	}
	return fmt.Errorf("%s (%s): %w", sentinel.Error(), id, err)
}

// IsRetryableError reports whether err represents a transient
// connection/DNS/transport failure worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportTimeout) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"no such host",
		"network unreachable",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// NonZeroExitError represents a worker exit with a non-zero return code.
type NonZeroExitError struct {
	ExitCode int
}

func (e NonZeroExitError) Error() string {
	return fmt.Sprintf("non-zero exit code: %d", e.ExitCode)
}

// IsNonZeroExitError checks if the error is a non-zero exit code error.
func IsNonZeroExitError(err error) bool {
	var exitErr NonZeroExitError
	return errors.As(err, &exitErr)
}
