package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Error is a classified delivery error.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	status    int // HTTP status, 0 if not applicable
	metadata  map[string]string
	retryable *bool // nil means use the category default
	timestamp time.Time
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the error category.
func (e *Error) Category() ErrorCategory { return e.category }

// Status returns the HTTP status that produced the error, or 0.
func (e *Error) Status() int { return e.status }

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time { return e.timestamp }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Option configures an Error.
type Option func(*Error)

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// WithStatus records the HTTP status code.
func WithStatus(status int) Option {
	return func(e *Error) { e.status = status }
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// FromStatus classifies a non-2xx HTTP response. Returns nil for 2xx.
func FromStatus(status int, message string) *Error {
	if status >= 200 && status < 300 {
		return nil
	}

	var code ErrorCode
	switch {
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimit
	case status == http.StatusRequestEntityTooLarge:
		code = ErrCodePayloadTooLarge
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = ErrCodeInvalidInput
	case status >= 500:
		code = ErrCodeUnavailable
	default:
		code = ErrCodeRejected
	}

	return New(code, fmt.Sprintf("%s: http %d", message, status), WithStatus(status))
}

// Wrap classifies err and wraps it with message. Returns nil for nil.
// An existing *Error keeps its code; context and network errors are
// recognised; anything else becomes a network error, since Wrap is used
// around transport calls.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		wrapped := &Error{
			code:      existing.code,
			category:  existing.category,
			message:   message,
			cause:     err,
			status:    existing.status,
			metadata:  existing.Metadata(),
			retryable: existing.retryable,
			timestamp: time.Now(),
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	opts = append([]Option{WithCause(err)}, opts...)

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, opts...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, opts...)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(ErrCodeTimeout, message, opts...)
	}

	return New(ErrCodeNetworkErr, message, opts...)
}

// WrapWithCode wraps err with a specific code. Returns nil for nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append([]Option{WithCause(err)}, opts...)...)
}

// Code extracts the error code, or "" if err is not classified.
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Category extracts the error category, or "" if err is not classified.
func Category(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.category
	}
	return ""
}

// IsRetryable checks if the error is retryable.
// Unclassified errors are treated as retryable network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return true
}

// Is reports whether any error in err's chain has the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}
