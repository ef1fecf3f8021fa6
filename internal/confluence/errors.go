package confluence

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an HTTP-level failure returned by the Confluence API after any
// retries were exhausted.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("confluence API error %d on %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("confluence API error %d on %s %s", e.StatusCode, e.Method, e.URL)
}

func apiErrorWithStatus(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	e, ok := apiErrorWithStatus(err)
	return ok && e.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err is an API 401 or 403.
func IsForbidden(err error) bool {
	e, ok := apiErrorWithStatus(err)
	return ok && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// IsRateLimited reports whether err is an API 429 that survived retries.
func IsRateLimited(err error) bool {
	e, ok := apiErrorWithStatus(err)
	return ok && e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports whether err is an API 5xx that survived retries.
func IsServerError(err error) bool {
	e, ok := apiErrorWithStatus(err)
	return ok && e.StatusCode >= 500
}
