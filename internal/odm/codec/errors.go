package codec

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrConversion is wrapped by every ConversionError
var ErrConversion = errors.New("value conversion failed")

// ConversionError reports a value that does not fit its declared type. Field holds the
// dot-joined document path when known.
type ConversionError struct {
	Field  string
	Value  interface{}
	Type   reflect.Type
	Reason string
}

// Error implements the error interface
func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %v (%T) to %v", e.Value, e.Value, e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Field != "" {
		msg = fmt.Sprintf("field %s: %s", e.Field, msg)
	}
	return msg
}

// Unwrap returns ErrConversion
func (e *ConversionError) Unwrap() error {
	return ErrConversion
}

// IsConversion returns true if the error is a ConversionError
func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

func convErr(v interface{}, t reflect.Type, reason string) error {
	return &ConversionError{Value: v, Type: t, Reason: reason}
}

// atField prefixes the path of a ConversionError with field
func atField(field string, err error) error {
	var ce *ConversionError
	if !errors.As(err, &ce) {
		return fmt.Errorf("field %s: %w", field, err)
	}
	out := *ce
	if out.Field == "" {
		out.Field = field
	} else {
		out.Field = field + "." + out.Field
	}
	return &out
}
