package errors

import (
	"fmt"
)

// NexusError is the structured error type for NEXUS.
// It carries the kind used for dispatch at the HTTP edge plus
// context for logging and user presentation.
type NexusError struct {
	// Kind is the error classification (rate_limit, not_indexed, ...).
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable remediation for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *NexusError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NexusError) Unwrap() error {
	return e.Cause
}

// Is matches the target error by kind, enabling errors.Is().
func (e *NexusError) Is(target error) bool {
	if t, ok := target.(*NexusError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *NexusError) WithDetail(key, value string) *NexusError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable remediation for the operator.
func (e *NexusError) WithSuggestion(suggestion string) *NexusError {
	e.Suggestion = suggestion
	return e
}

// New creates a new NexusError with the given kind and message.
// The retryable flag is derived from the kind.
func New(kind Kind, message string, cause error) *NexusError {
	return &NexusError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Newf creates a new NexusError with a formatted message.
func Newf(kind Kind, format string, args ...any) *NexusError {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a NexusError from an existing error.
// The error's message becomes the NexusError message.
func Wrap(kind Kind, err error) *NexusError {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a NexusError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(*NexusError); ok {
		return ne.Retryable
	}
	return false
}

// KindOf extracts the kind from a NexusError.
// Returns KindInternal for any other error, empty for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ne, ok := err.(*NexusError); ok {
		return ne.Kind
	}
	return KindInternal
}
