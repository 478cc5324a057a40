// Package errs provides structured error types and helpers shared across mmpolicy.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_input"
	// CodeCalibration indicates a failure while estimating model inputs.
	CodeCalibration Code = "calibration"
	// CodeIO indicates a file read/write failure.
	CodeIO Code = "io"
	// CodeStorage indicates a database persistence failure.
	CodeStorage Code = "storage"
	// CodeUnavailable indicates a temporarily unavailable resource.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the mmpolicy stack.
type E struct {
	Component string
	Code      Code
	Message   string
	Field     string
	Value     string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Field:     "",
		Value:     "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithField records the offending parameter name.
func WithField(field string) Option {
	trimmed := strings.TrimSpace(field)
	return func(e *E) {
		e.Field = trimmed
	}
}

// WithValue records the offending parameter value.
func WithValue(value string) Option {
	return func(e *E) {
		e.Value = strings.TrimSpace(value)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != "" {
		parts = append(parts, "value="+strconv.Quote(e.Value))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Invalid returns a standardized error for rejected caller input.
func Invalid(component, field, msg string) *E {
	return New(component, CodeInvalid, WithField(field), WithMessage(msg))
}
