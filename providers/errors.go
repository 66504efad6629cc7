package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies routing and dispatch failures. Retry and blacklist
// decisions dispatch on the kind, never on error strings.
type ErrorKind string

// Error kind constants (spec'd surface statuses in parentheses).
const (
	KindTagNotFound               ErrorKind = "tag_not_found"              // 503
	KindParameterComparisonFailed ErrorKind = "parameter_comparison_failed" // 400/503
	KindNoCandidates              ErrorKind = "no_candidates"              // 503
	KindCapabilityMismatch        ErrorKind = "capability_mismatch"        // 503
	KindAuthInvalid               ErrorKind = "auth_invalid"               // swap, else 502
	KindRateLimited               ErrorKind = "rate_limited"               // swap, else 502
	KindUpstreamTimeout           ErrorKind = "upstream_timeout"           // swap
	KindUpstreamServerError       ErrorKind = "upstream_server_error"      // swap
	KindRequestMalformed          ErrorKind = "request_malformed"          // 400
	KindConfigError               ErrorKind = "config_error"               // refuse to start
)

// Retryable reports whether a failure of this kind should be retried against
// the next-ranked candidate.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAuthInvalid, KindRateLimited, KindUpstreamTimeout, KindUpstreamServerError:
		return true
	default:
		return false
	}
}

// RouteError is the tagged error value used across the routing data plane.
type RouteError struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *RouteError) Unwrap() error { return e.Cause }

// NewRouteError builds a RouteError with a formatted detail string.
func NewRouteError(kind ErrorKind, format string, args ...any) *RouteError {
	return &RouteError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapRouteError tags cause with kind, preserving it for errors.Is/As.
func WrapRouteError(kind ErrorKind, cause error, detail string) *RouteError {
	return &RouteError{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// ClassifyStatus maps an upstream HTTP status to an error kind. Adapters may
// refine this using the response body.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthInvalid
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest:
		return KindRequestMalformed
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindUpstreamTimeout
	case status >= 500:
		return KindUpstreamServerError
	default:
		return KindUpstreamServerError
	}
}

// HTTPStatus maps an error kind to the status surfaced to the caller when no
// candidate remains.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindTagNotFound, KindNoCandidates, KindCapabilityMismatch:
		return http.StatusServiceUnavailable
	case KindParameterComparisonFailed:
		return http.StatusBadRequest
	case KindRequestMalformed:
		return http.StatusBadRequest
	case KindAuthInvalid, KindRateLimited, KindUpstreamTimeout, KindUpstreamServerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Attempt records one dispatch attempt for exhaustion reporting.
type Attempt struct {
	ChannelID string    `json:"channel_id"`
	Model     string    `json:"model"`
	Kind      ErrorKind `json:"kind"`
}

// ExhaustedError reports that every ranked candidate failed.
func ExhaustedError(attempts []Attempt) *RouteError {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = fmt.Sprintf("%s/%s: %s", a.ChannelID, a.Model, a.Kind)
	}
	return &RouteError{
		Kind:   KindUpstreamServerError,
		Detail: "all upstream attempts exhausted [" + strings.Join(parts, "; ") + "]",
	}
}
