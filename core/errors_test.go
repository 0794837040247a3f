package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapCommandNotFoundError(t *testing.T) {
	baseErr := errors.New("no such command")
	wrapped := WrapCommandNotFoundError("test.ping", baseErr)

	if !errors.Is(wrapped, ErrCommandNotFound) {
		t.Errorf("expected wrapped error to match ErrCommandNotFound, got %v", wrapped)
	}
}

func TestWrapCommandExecutionError(t *testing.T) {
	baseErr := errors.New("execution failed")
	wrapped := WrapCommandExecutionError("20260101-abc", baseErr)

	if !errors.Is(wrapped, ErrCommandExecution) {
		t.Errorf("expected wrapped error to match ErrCommandExecution, got %v", wrapped)
	}
}

func TestWrapWrongArityError(t *testing.T) {
	wrapped := WrapWrongArityError("test.echo", "test.echo(text)", nil)
	if !errors.Is(wrapped, ErrWrongArity) {
		t.Errorf("expected wrapped error to match ErrWrongArity, got %v", wrapped)
	}
	if !errorContains(wrapped, "test.echo(text)") {
		t.Errorf("expected docstring in message, got %q", wrapped.Error())
	}
}

func TestWrapJobError(t *testing.T) {
	baseErr := errors.New("execution failed")
	wrapped := WrapJobError("execute", "backup-job", baseErr)

	expectedMsg := `execute job "backup-job": execution failed`
	if wrapped.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, wrapped.Error())
	}

	if WrapJobError("execute", "backup-job", nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"transport timeout", ErrTransportTimeout, true},
		{"connection refused", errors.New("connection refused"), true},
		{"timeout error", errors.New("operation timeout"), true},
		{"network unreachable", errors.New("network unreachable"), true},
		{"no such host", errors.New("no such host"), true},
		{"non-retryable error", errors.New("invalid configuration"), false},
		{"wrapped retryable", fmt.Errorf("failed: %w", ErrTransportTimeout), true},
		{"mixed case", errors.New("Connection Refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestNonZeroExitError(t *testing.T) {
	err := NonZeroExitError{ExitCode: 127}

	expectedMsg := "non-zero exit code: 127"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}

	if !IsNonZeroExitError(err) {
		t.Error("expected IsNonZeroExitError to return true")
	}

	if IsNonZeroExitError(errors.New("other error")) {
		t.Error("expected IsNonZeroExitError to return false for other errors")
	}
}

func errorContains(err error, substr string) bool {
	return err != nil && strings.Contains(err.Error(), substr)
}
