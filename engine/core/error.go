// Package core holds the types shared by every other package in the
// engine: the error taxonomy, ID generation and secret redaction helpers.
package core

import "fmt"

// ErrorKind enumerates the normalized failure categories every subsystem
// maps its own errors onto before they leave the engine (spec §7).
type ErrorKind string

const (
	KindInvalidConfig         ErrorKind = "INVALID_CONFIG"
	KindAuthenticationFailed  ErrorKind = "AUTHENTICATION_FAILED"
	KindAuthorizationFailed   ErrorKind = "AUTHORIZATION_FAILED"
	KindRateLimited           ErrorKind = "RATE_LIMITED"
	KindNetworkError          ErrorKind = "NETWORK_ERROR"
	KindTimeout               ErrorKind = "TIMEOUT"
	KindProviderNotFound      ErrorKind = "PROVIDER_NOT_FOUND"
	KindProviderConflict      ErrorKind = "PROVIDER_CONFLICT"
	KindUnsupportedCapability ErrorKind = "UNSUPPORTED_CAPABILITY"
	KindExpressionError       ErrorKind = "EXPRESSION_ERROR"
	KindCircuitOpen           ErrorKind = "CIRCUIT_OPEN"
	KindInternalError         ErrorKind = "INTERNAL_ERROR"
)

// retryableKinds are the kinds that are retryable independent of any
// per-call status code (spec §7 table).
var retryableKinds = map[ErrorKind]bool{
	KindRateLimited:  true,
	KindNetworkError: true,
	KindTimeout:      true,
	KindCircuitOpen:  true,
}

// Error is the normalized error every outbound call, expression
// evaluation and step dispatch eventually returns or wraps.
type Error struct {
	Kind       ErrorKind         `json:"kind"`
	Message    string            `json:"message,omitempty"`
	Service    string            `json:"service,omitempty"`
	Action     string            `json:"action,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	RetryAfter float64           `json:"retryAfter,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
	Headers    map[string]string `json:"-"`
	cause      error
}

// NewError builds a normalized Error. err may be nil for synthetic
// failures (e.g. a validation error with no underlying cause).
func NewError(err error, kind ErrorKind, details map[string]any) *Error {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Details: details,
		cause:   err,
	}
}

// Errorf builds a normalized Error from a format string, for call sites
// that have no underlying error to wrap.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Service != "" || e.Action != "" {
		return fmt.Sprintf("%s [%s%s%s]: %s", e.Kind, e.Service, sep(e.Service, e.Action), e.Action, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func sep(service, action string) string {
	if service != "" && action != "" {
		return "."
	}
	return ""
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Retryable reports whether this error kind is retryable on its own
// terms, ignoring any HTTP status code the reliability wrapper might
// also consult (spec §4.4 step 4: shouldRetry = statusCode in retryOn
// OR (no statusCode AND retryable)).
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return retryableKinds[e.Kind]
}

// WithService annotates the error with the originating service/action.
func (e *Error) WithService(service, action string) *Error {
	if e == nil {
		return nil
	}
	e.Service = service
	e.Action = action
	return e
}

// WithRetryAfter attaches a server-provided retry-after hint, in seconds.
func (e *Error) WithRetryAfter(seconds float64) *Error {
	if e == nil {
		return nil
	}
	e.RetryAfter = seconds
	return e
}

// WithStatusCode attaches the originating HTTP (or HTTP-like) status code.
func (e *Error) WithStatusCode(code int) *Error {
	if e == nil {
		return nil
	}
	e.StatusCode = code
	return e
}

// WithHeaders attaches the originating response headers, so the
// reliability wrapper can feed them to the rate limiter's header-sync
// path (spec §4.6 "header feedback") even on a failed attempt.
func (e *Error) WithHeaders(headers map[string]string) *Error {
	if e == nil {
		return nil
	}
	e.Headers = headers
	return e
}

// AsMap renders the error for inclusion in a StepResult.Error field or a
// structured log line; nil when the error carries no content.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	m := map[string]any{
		"kind":    e.Kind,
		"message": e.Message,
	}
	if e.Service != "" {
		m["service"] = e.Service
	}
	if e.Action != "" {
		m["action"] = e.Action
	}
	if e.StatusCode != 0 {
		m["statusCode"] = e.StatusCode
	}
	if e.RetryAfter != 0 {
		m["retryAfter"] = e.RetryAfter
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	return m
}

// AsCoreError extracts the first *Error met while unwrapping err's cause
// chain (the outermost one), so a caller can read the normalized kind
// beneath any plain wrapping errors (spec §7 "Propagation policy").
func AsCoreError(err error) (*Error, bool) {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}
