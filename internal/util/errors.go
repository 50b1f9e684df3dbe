package util

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCircuitOpen is returned by the network transport while the
	// backend breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrConfigInvalid matches every ConfigurationError.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrUnknownFilter means a filter or sub-filter id has no factory.
	ErrUnknownFilter = errors.New("unknown filter")
)

// ConfigurationError is a setting that cannot be used: a bad value, an
// unresolvable filter id or a filter that fails to build. Field is the
// path of the setting, e.g. "filters[text/html][0]".
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// Is matches ErrConfigInvalid, any *ConfigurationError and the cause.
func (e *ConfigurationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigurationError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigurationError returns a ConfigurationError without a cause.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// NewConfigurationErrorWithCause returns a ConfigurationError wrapping cause.
func NewConfigurationErrorWithCause(field, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message, Cause: cause}
}

// ConfigurationErrors lets validation report every problem at once
// instead of stopping at the first.
type ConfigurationErrors []*ConfigurationError

func (e ConfigurationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no configuration errors"
	case 1:
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d configuration errors: ", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e ConfigurationErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, err := range e {
		errs = append(errs, err)
	}
	return errs
}

// Add records a problem with field.
func (e *ConfigurationErrors) Add(field, message string, cause error) {
	*e = append(*e, NewConfigurationErrorWithCause(field, message, cause))
}

// HasErrors reports whether anything was recorded.
func (e ConfigurationErrors) HasErrors() bool {
	return len(e) > 0
}

// ErrorOrNil returns e as an error, or nil when it is empty. Returning
// an empty ConfigurationErrors directly would give a non-nil error.
func (e ConfigurationErrors) ErrorOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
