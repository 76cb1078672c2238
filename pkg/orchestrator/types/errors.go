package types

import (
	"errors"
	"fmt"
)

// ErrTaskInterrupted reports that a stop request cancelled the task.
var ErrTaskInterrupted = errors.New("task interrupted")

// PlaceholderError reports a {{stepN.path}} reference that could not be
// resolved against earlier step results.
type PlaceholderError struct {
	Placeholder string
	StepIndex   int
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("cannot resolve placeholder %s in step %d", e.Placeholder, e.StepIndex)
}

// ConfigError reports missing or invalid host configuration. Config errors
// terminate a plan immediately; no retry can fix them.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// NewConfigError builds a ConfigError.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// IsPlaceholderError reports whether err wraps a PlaceholderError.
func IsPlaceholderError(err error) bool {
	var pe *PlaceholderError
	return errors.As(err, &pe)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
