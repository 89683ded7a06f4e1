package errors

import (
	"errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryTarget   Category = "target"
	CategoryPort     Category = "port"
	CategoryProcess  Category = "process"
	CategoryRegistry Category = "registry"
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
)

// BerthError is a structured error with a stable code, a suggestion,
// and enough context (port, pid, directory) to retry manually.
type BerthError struct {
	// Code is a unique error identifier (e.g. "E102").
	Code string

	// Category is the error type (target, port, process, ...).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Port, PID and Directory identify the instance the error
	// relates to; zero values mean "not applicable".
	Port      int
	PID       int
	Directory string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *BerthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *BerthError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *BerthError) WithDetail(d string) *BerthError {
	e.Detail = d
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *BerthError) WithSuggestion(s string) *BerthError {
	e.Suggestion = s
	return e
}

// WithPort attaches the port the error relates to.
func (e *BerthError) WithPort(port int) *BerthError {
	e.Port = port
	return e
}

// WithPID attaches the process id the error relates to.
func (e *BerthError) WithPID(pid int) *BerthError {
	e.PID = pid
	return e
}

// WithDirectory attaches the served directory the error relates to.
func (e *BerthError) WithDirectory(dir string) *BerthError {
	e.Directory = dir
	return e
}

// Wrap wraps another error.
func (e *BerthError) Wrap(err error) *BerthError {
	e.Wrapped = err
	return e
}

// New creates a BerthError from a registered error code.
func New(code string) *BerthError {
	template, ok := registry[code]
	if !ok {
		return &BerthError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &BerthError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new BerthError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *BerthError {
	return &BerthError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a BerthError.
func FromError(err error, code string) *BerthError {
	if err == nil {
		return nil
	}
	var be *BerthError
	if errors.As(err, &be) {
		return be
	}
	return New(code).Wrap(err)
}

// IsCode reports whether err (or anything it wraps) carries the given
// error code. Callers branch on taxonomy with this instead of matching
// message strings.
func IsCode(err error, code string) bool {
	var be *BerthError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// CodeOf returns the error code carried by err, or "" if err is not a
// BerthError.
func CodeOf(err error) string {
	var be *BerthError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
