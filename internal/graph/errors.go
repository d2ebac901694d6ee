package graph

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a graph that cannot be built or validated:
// an unrecognized method selection, a reference to an unregistered pool, a
// dependency on a task outside the graph, or a cycle. It is raised before
// any task executes and aborts the run for the affected dataset only.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "graph configuration: " + e.Reason
}

// ConfigErrorf builds a ConfigurationError with a formatted reason.
func ConfigErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError records a task body failure: the tool adapter reported a
// non-zero exit, malformed output, or a staging problem. It is never retried
// by the engine.
type ExecutionError struct {
	TaskID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// BlockedError is the synthetic failure attached to a task whose upstream
// failed. The task body never ran; Cause is the terminal error of the first
// failed upstream, so the chain always unwinds to the originating failure.
type BlockedError struct {
	TaskID string
	Cause  error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("task %s blocked by upstream failure: %v", e.TaskID, e.Cause)
}

func (e *BlockedError) Unwrap() error {
	return e.Cause
}

// RootCause walks a failure chain past any number of BlockedErrors and
// returns the originating task id and error. A ConfigurationError or an
// unrecognized error yields an empty task id.
func RootCause(err error) (string, error) {
	for {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			err = blocked.Cause
			continue
		}
		var exec *ExecutionError
		if errors.As(err, &exec) {
			return exec.TaskID, exec.Err
		}
		return "", err
	}
}
