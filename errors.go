package gravity

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by lifecycle operations
var (
	// ErrNotConfigured indicates a lifecycle operation was attempted before
	// any update wrote the instance's backend configuration
	ErrNotConfigured = errors.New("gravity: instance not configured, run update first")

	// ErrServiceNotFound indicates a service name is not present in the registry
	ErrServiceNotFound = errors.New("gravity: service not found")

	// ErrUnknownProcessManager indicates an unrecognized process manager kind
	ErrUnknownProcessManager = errors.New("gravity: unknown process manager")
)

// ConfigError represents an invalid or missing instance configuration.
// It is surfaced immediately and never retried.
type ConfigError struct {
	// Field is the configuration field or service the error refers to
	Field string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("gravity config: %v", e.Err)
	}
	return fmt.Sprintf("gravity config %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// WriteError represents a filesystem failure while writing generated
// artifacts or the runtime state record.
type WriteError struct {
	// Path is the file path involved in the failed write
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *WriteError) Error() string {
	return fmt.Sprintf("gravity write %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *WriteError) Unwrap() error {
	return e.Err
}

// CommandError represents a backend process manager command that was
// rejected or failed. It carries the backend's raw output so the failure
// can be diagnosed without re-running at higher verbosity.
type CommandError struct {
	// Cmd is the command line that failed
	Cmd string
	// Output is the combined stdout/stderr of the backend command
	Output string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("gravity command %q: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("gravity command %q: %v (output: %s)", e.Cmd, e.Err, e.Output)
}

// Unwrap returns the underlying error for error chain inspection
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ReadinessError indicates a service process started but never became
// ready within its deadline. The process is left running for inspection;
// Log carries the service's log output since its start.
type ReadinessError struct {
	// Service is the name of the service that never became ready
	Service string
	// Timeout is the deadline that elapsed
	Timeout time.Duration
	// Log is the service's log output since the start timestamp
	Log string
}

// Error returns a formatted error message
func (e *ReadinessError) Error() string {
	return fmt.Sprintf("gravity: service %q not ready after %s", e.Service, e.Timeout)
}

// MultiError aggregates multiple errors from fan-out operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
