package meta

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrConfiguration is wrapped by every ConfigurationError
var ErrConfiguration = errors.New("invalid mapping configuration")

// ConfigurationError reports a mapping that can never work. It is raised while metadata
// or relationship handlers are built, before any data operation runs.
type ConfigurationError struct {
	Type     reflect.Type
	Property string
	Reason   string
	Err      error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	where := "<nil>"
	if e.Type != nil {
		where = e.Type.String()
	}
	if e.Property != "" {
		where += "." + e.Property
	}
	msg := fmt.Sprintf("invalid mapping for %s: %s", where, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrConfiguration and the underlying cause
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// IsConfiguration returns true if the error is a ConfigurationError
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func configErr(t reflect.Type, prop, reason string, err error) error {
	return &ConfigurationError{Type: t, Property: prop, Reason: reason, Err: err}
}
