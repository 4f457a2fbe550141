package resolve

import (
	"errors"
	"fmt"

	"github.com/sells-group/finq/internal/sandbox"
)

// ConfigurationError marks an invalid fact taxonomy or an unregistered
// fact id. Fatal for the request, never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "resolve: " + e.Msg
}

// NewConfigurationError formats a configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ExecutionError marks logic that raised or produced no result while
// computing a fact. The error-status instance is persisted before this is
// raised, so the caller decides whether to propagate or substitute.
type ExecutionError struct {
	FactID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("resolve: %s failed: %v", e.FactID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsExecution reports whether err is a logic execution failure.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsTimeout reports whether err is the timeout subtype of an execution
// failure.
func IsTimeout(err error) bool {
	return sandbox.IsTimeout(err)
}
