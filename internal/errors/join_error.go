// Package errors provides the error taxonomy of the join engine.
// Every failure surfaced by the engine is a *JoinError carrying the operation,
// an optional column and a Kind that callers can test with errors.Is.
package errors

import (
	"fmt"
)

// Kind classifies a JoinError.
type Kind int

const (
	// KindInternal is an unexpected failure of a collaborator.
	KindInternal Kind = iota
	// KindConfiguration is raised before any row is read.
	KindConfiguration
	// KindIntegrity aborts a running join when intermediate state is inconsistent.
	KindIntegrity
	// KindCanceled reports cooperative cancellation.
	KindCanceled
	// KindIO wraps failures of table sources, sinks and spill files.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIntegrity:
		return "integrity"
	case KindCanceled:
		return "canceled"
	case KindIO:
		return "io"
	default:
		return "internal"
	}
}

// JoinError represents errors raised by join operations
type JoinError struct {
	Op      string // Operation name (e.g., "Configure", "Partition", "Reassemble")
	Column  string // Column name if applicable
	Kind    Kind
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *JoinError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Column != "" {
		return fmt.Sprintf("%s operation failed on column '%s': %s", e.Op, e.Column, msg)
	}
	return fmt.Sprintf("%s operation failed: %s", e.Op, msg)
}

// Unwrap returns the underlying cause for error wrapping support
func (e *JoinError) Unwrap() error {
	return e.Cause
}

// Is matches kind sentinels (a JoinError with only Kind set) as well as
// fully equal errors.
func (e *JoinError) Is(target error) bool {
	je, ok := target.(*JoinError)
	if !ok {
		return false
	}
	if je.Op == "" && je.Column == "" && je.Message == "" {
		return e.Kind == je.Kind
	}
	return e.Kind == je.Kind && e.Op == je.Op && e.Column == je.Column && e.Message == je.Message
}

// Kind sentinels for errors.Is.
var (
	ErrConfiguration = &JoinError{Kind: KindConfiguration}
	ErrIntegrity     = &JoinError{Kind: KindIntegrity}
	ErrCanceled      = &JoinError{Kind: KindCanceled}
	ErrIO            = &JoinError{Kind: KindIO}
)

// NewColumnNotFoundError creates a configuration error for a column that is
// not part of a table schema.
func NewColumnNotFoundError(op, column string) *JoinError {
	return &JoinError{
		Op:      op,
		Column:  column,
		Kind:    KindConfiguration,
		Message: "column does not exist",
	}
}

// NewConfigurationError creates an error for invalid settings.
func NewConfigurationError(op, message string) *JoinError {
	return &JoinError{
		Op:      op,
		Kind:    KindConfiguration,
		Message: message,
	}
}

// NewColumnConfigurationError is NewConfigurationError bound to a column.
func NewColumnConfigurationError(op, column, message string) *JoinError {
	return &JoinError{
		Op:      op,
		Column:  column,
		Kind:    KindConfiguration,
		Message: message,
	}
}

// NewIntegrityError creates an error for inconsistent intermediate state.
func NewIntegrityError(op, message string) *JoinError {
	return &JoinError{
		Op:      op,
		Kind:    KindIntegrity,
		Message: message,
	}
}

// NewCanceledError wraps the context error that stopped the join.
func NewCanceledError(op string, cause error) *JoinError {
	return &JoinError{
		Op:      op,
		Kind:    KindCanceled,
		Message: "execution canceled",
		Cause:   cause,
	}
}

// NewIOError wraps a failure of a table source or spill file.
func NewIOError(op string, cause error) *JoinError {
	return &JoinError{
		Op:      op,
		Kind:    KindIO,
		Message: "i/o failure",
		Cause:   cause,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *JoinError {
	return &JoinError{
		Op:      op,
		Kind:    KindInternal,
		Message: "internal error occurred",
		Cause:   cause,
	}
}
