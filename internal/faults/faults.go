// Package faults defines the closed error taxonomy for the sweep pipeline.
// External responses are classified exactly once, at the call boundary, into
// one of these kinds; everything downstream matches on the kind instead of
// inspecting status codes or message substrings.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind tags an error with its taxonomy class.
type Kind string

const (
	KindAuth              Kind = "auth"
	KindRateLimit         Kind = "rate_limit"
	KindFetch             Kind = "fetch"
	KindServiceResolution Kind = "service_resolution"
	KindPrecondition      Kind = "precondition"
)

// AuthError reports an invalid or expired credential. It is never retried by
// the lister or fetcher; the token manager performs exactly one
// refresh-and-retry before letting it fail the sweep.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (status %d): %s", e.Status, e.Detail)
}

// RateLimitError reports a provider throttling signal. Retried with
// exponential backoff up to a fixed attempt cap.
type RateLimitError struct {
	Status int
	Detail string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.Status, e.Detail)
}

// FetchError is any other non-success response from an external call.
type FetchError struct {
	Status int
	Detail string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error (status %d): %s", e.Status, e.Detail)
}

// ServiceResolutionError reports a failure reading or creating a canonical
// service record. Fatal to the sweep.
type ServiceResolutionError struct {
	Domain string
	Err    error
}

func (e *ServiceResolutionError) Error() string {
	return fmt.Sprintf("service resolution failed for %q: %v", e.Domain, e.Err)
}

func (e *ServiceResolutionError) Unwrap() error { return e.Err }

// PreconditionError reports missing user or mailbox state before any
// external work begins.
type PreconditionError struct {
	Detail string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Detail
}

// KindOf returns the taxonomy kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var authErr *AuthError
	var rateErr *RateLimitError
	var fetchErr *FetchError
	var resErr *ServiceResolutionError
	var preErr *PreconditionError
	switch {
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &rateErr):
		return KindRateLimit
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &resErr):
		return KindServiceResolution
	case errors.As(err, &preErr):
		return KindPrecondition
	}
	return ""
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// FromStatus classifies a non-2xx provider response body+status into the
// taxonomy. This is the only place status codes and body markers are
// inspected.
func FromStatus(status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Status: status, Detail: truncate(body)}
	case status == http.StatusForbidden &&
		(strings.Contains(lower, "invalid_grant") || strings.Contains(lower, "unauthenticated") ||
			strings.Contains(lower, "invalid credentials")):
		return &AuthError{Status: status, Detail: truncate(body)}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Status: status, Detail: truncate(body)}
	case status == http.StatusForbidden &&
		(strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit")):
		return &RateLimitError{Status: status, Detail: truncate(body)}
	default:
		return &FetchError{Status: status, Detail: truncate(body)}
	}
}

const maxDetail = 256

func truncate(s string) string {
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail] + "..."
}
