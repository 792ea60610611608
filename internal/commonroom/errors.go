package commonroom

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMemberNotFound indicates the lookup did not resolve to a single member.
var ErrMemberNotFound = errors.New("member not found")

// StatusError is a non-2xx API response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// RateLimited reports whether the API throttled the request.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// TransportError is a failure to complete the HTTP exchange at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a remote-call failure worth retrying.
// Every HTTP status failure qualifies, including the 404s the API returns
// for a short while after a member is created.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the member does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrMemberNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
