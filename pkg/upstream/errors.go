package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// ErrUnexpectedStatus is wrapped by FetchError for statuses the client
// does not treat as success, not-modified or error (1xx, 3xx other than 304).
var ErrUnexpectedStatus = errors.New("unexpected status")

// FetchError is an upstream failure with its classification.
type FetchError struct {
	Resource   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d) for %q: %s: %v",
			e.Class, e.StatusCode, e.Resource, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d) for %q: %s",
		e.Class, e.StatusCode, e.Resource, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed.
func (e *FetchError) Retryable() bool {
	return shouldRetry(e.Class)
}

// Classify maps an HTTP status code to an error class.
// Returns "" for statuses below 400.
func Classify(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error class is worth retrying.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// 4xx won't change on repeat
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
