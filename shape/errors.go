package shape

import (
	"fmt"
	"strings"
)

// ShapeMismatchError is returned when operands of an elementwise op, a
// concatenation or a resampling step disagree in their dimensions.
type ShapeMismatchError struct {
	Op     string
	Shapes []Shape
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	msg := fmt.Sprintf("shape mismatch in %s: %s", e.Op, strings.Join(parts, " vs "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnknownLayerError is returned when a named layer is requested from a
// model that does not define it.
type UnknownLayerError struct {
	Model string
	Layer string
}

func (e *UnknownLayerError) Error() string {
	return fmt.Sprintf("%s has no layer named %q", e.Model, e.Layer)
}

// ConfigurationError is returned for invalid layer or model settings.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Mismatch builds a ShapeMismatchError.
func Mismatch(op, reason string, shapes ...Shape) error {
	return &ShapeMismatchError{Op: op, Shapes: shapes, Reason: reason}
}

// Positive returns a ConfigurationError unless v > 0.
func Positive(field string, v int) error {
	if v > 0 {
		return nil
	}
	return &ConfigurationError{Field: field, Value: v, Reason: "must be positive"}
}
