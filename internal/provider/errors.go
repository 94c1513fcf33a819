package provider

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy shared by all
// adapters, so services never branch on provider-specific status codes.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the provider returned invalid or malformed data.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues.
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorOutage indicates the provider is unavailable.
	ErrorOutage ErrorCategory = "provider_outage"

	// ErrorRejected indicates the tax authority rejected the document.
	// Never retryable: resubmitting the same document yields the same answer.
	ErrorRejected ErrorCategory = "rejected"

	// ErrorNotFound indicates the requested record does not exist at the
	// provider.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests.
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates an unexpected internal error.
	ErrorInternal ErrorCategory = "internal"
)

// Error wraps adapter failures with normalized categorization.
type Error struct {
	Category   ErrorCategory
	Provider   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized provider error. Retryability follows the
// category: timeouts, outages and rate limits are worth retrying, everything
// else is not.
func NewError(category ErrorCategory, providerName, message string, underlying error) *Error {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited

	return &Error{
		Category:   category,
		Provider:   providerName,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf extracts the error category from an error chain.
func CategoryOf(err error) ErrorCategory {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

var (
	// ErrAdapterNotFound is returned by the registry for an unknown name.
	ErrAdapterNotFound = errors.New("provider adapter not found")
)
