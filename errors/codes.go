package errors

// ErrorCategory classifies errors by their retry semantics.
type ErrorCategory string

// Error categories.
const (
	CategoryTransient ErrorCategory = "transient"
	CategoryPermanent ErrorCategory = "permanent"
	CategoryResource  ErrorCategory = "resource"
	CategoryInternal  ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies a specific failure.
type ErrorCode string

// Error codes.
const (
	// Transient
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// Resource
	ErrCodeRateLimit       ErrorCode = "RATE_LIMITED"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// Permanent
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeRejected     ErrorCode = "REJECTED"
	ErrCodeCanceled     ErrorCode = "CANCELED"

	// Internal
	ErrCodeEncoding ErrorCode = "ENCODING"
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNetworkErr, ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeRateLimit, ErrCodePayloadTooLarge:
		return CategoryResource
	case ErrCodeInvalidInput, ErrCodeRejected, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeNetworkErr:      "network error",
	ErrCodeTimeout:         "request timed out",
	ErrCodeUnavailable:     "endpoint unavailable",
	ErrCodeRateLimit:       "endpoint rate limited the request",
	ErrCodePayloadTooLarge: "payload too large",
	ErrCodeInvalidInput:    "invalid batch",
	ErrCodeRejected:        "endpoint rejected the request",
	ErrCodeCanceled:        "request canceled",
	ErrCodeEncoding:        "batch encoding failed",
	ErrCodeInternal:        "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
