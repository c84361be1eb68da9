package asana

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches a request that kept receiving 429 responses.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrTransient matches a request that kept failing with 5xx or network errors.
	ErrTransient = errors.New("transient failure")
	// ErrRejected matches a request refused with a non-retryable status.
	ErrRejected = errors.New("request rejected")
)

// RequestError is a non-retryable 4xx response.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Body    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrRejected
}

// RateLimitError is returned once the rate-limit retry budget is spent.
type RateLimitError struct {
	Method     string
	Path       string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s %s: rate limited after %d attempts (retry after %s)", e.Method, e.Path, e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// TransientError is returned once the server-error retry budget is spent.
// Status is zero when the last failure was a network error.
type TransientError struct {
	Method   string
	Path     string
	Attempts int
	Status   int
	Err      error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: failed after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s: failed after %d attempts: status %d", e.Method, e.Path, e.Attempts, e.Status)
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Status == 404
}
