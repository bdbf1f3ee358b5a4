package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetch client.
var (
	// ErrNotFound indicates the remote resource does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrAuthError indicates the server rejected the credentials.
	ErrAuthError = errors.New("remote authentication error")

	// ErrRateLimited indicates the server kept answering 429.
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error fetching payload")

	// ErrInvalidResponse indicates a body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response body")
)

// HTTPError is a non-success status that is not covered by a sentinel.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err means the resource was missing.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthError) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && (httpErr.StatusCode == 401 || httpErr.StatusCode == 403)
}

// IsRateLimited reports whether err is rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// retryable reports whether a failed attempt may succeed later.
func retryable(err error) bool {
	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 500
}
