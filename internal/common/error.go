package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNetworkError        = fmt.Errorf("network error")
	ErrTimeoutError        = fmt.Errorf("timeout")
	ErrAuthenticationError = fmt.Errorf("authentication failed")
	ErrInvalidTokenError   = fmt.Errorf("invalid token")
	ErrRateLimitedError    = fmt.Errorf("rate limited")
	ErrAPIError            = fmt.Errorf("api error")
	ErrValidationError     = fmt.Errorf("validation error")
	ErrFileSystemError     = fmt.Errorf("file system error")
	ErrConfigurationError  = fmt.Errorf("configuration error")
)

const (
	DefaultRetryAfter     = 60 * time.Second
	DefaultNetworkBackoff = 5 * time.Second
)

// RateLimitedError is returned for HTTP 429 responses.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimitedError
}

// APIError carries a non-success status code returned by the provider.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d (%s)", e.Code, http.StatusText(e.Code))
	}

	return fmt.Sprintf("api error: status %d: %s", e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPIError
}

// IsRetryable reports whether an operation that failed with err may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrTimeoutError),
		errors.Is(err, ErrRateLimitedError),
		errors.Is(err, ErrFileSystemError):
		return true
	}

	return false
}

// RetryAfter returns the provider-requested delay for a rate limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter, true
	}

	return 0, false
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationError, fmt.Sprintf(format, args...))
}

func Authentication(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthenticationError, fmt.Sprintf(format, args...))
}

func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigurationError, fmt.Sprintf(format, args...))
}

func FileSystem(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFileSystemError, op, err)
}
