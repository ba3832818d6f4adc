package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy. Adapters only ever return errors matching one of these
// (checked with errors.Is), so callers can apply a uniform retry policy.
var (
	// ErrAuthorization means the provider rejected the credentials. Not retryable.
	ErrAuthorization = errors.New("authorization failed")

	// ErrUnknown means the provider answered with something unexpected.
	ErrUnknown = errors.New("unexpected provider response")

	// ErrRateLimit means the provider explicitly throttled the caller.
	ErrRateLimit = errors.New("rate limited")

	// ErrNotSupported means the adapter does not implement an optional operation.
	ErrNotSupported = errors.New("operation not supported by provider")
)

// Error is the concrete error returned by adapters
type Error struct {
	Provider string
	Kind     error
	Message  string
	cause    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	if e.cause != "" {
		msg += ": " + e.cause
	}
	return msg
}

// Unwrap exposes only the taxonomy sentinel, never the vendor error
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, provider, message string, cause error) *Error {
	e := &Error{Provider: provider, Kind: kind, Message: message}
	if cause != nil {
		e.cause = cause.Error()
	}
	return e
}

// Authorization builds an ErrAuthorization error
func Authorization(provider, message string, cause error) error {
	return newError(ErrAuthorization, provider, message, cause)
}

// Unknown builds an ErrUnknown error
func Unknown(provider, message string, cause error) error {
	return newError(ErrUnknown, provider, message, cause)
}

// RateLimit builds an ErrRateLimit error
func RateLimit(provider, message string, cause error) error {
	return newError(ErrRateLimit, provider, message, cause)
}

// NotSupported builds an ErrNotSupported error for op
func NotSupported(provider, op string) error {
	return newError(ErrNotSupported, provider, op, nil)
}

// FromStatus classifies a non-2xx HTTP status using the shared contract:
// 401 is an authorization failure, 429 a rate limit, anything else unknown.
// Adapters whose vendor answers rejected credentials with a 403 (Azure ARM,
// OVH, the Cloud Foundry login) classify that status before falling back here.
func FromStatus(provider string, status int, body []byte) error {
	detail := truncate(string(body), 512)
	switch status {
	case http.StatusUnauthorized:
		return Authorization(provider, "credentials rejected", errors.New(detail))
	case http.StatusTooManyRequests:
		return RateLimit(provider, "too many requests", errors.New(detail))
	default:
		return Unknown(provider, fmt.Sprintf("unexpected status %d", status), errors.New(detail))
	}
}

// IsAuthorization reports whether err is an authorization failure
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrAuthorization)
}

// IsRetryable reports whether the task layer may retry after err
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnknown)
}

// Ensure wraps any error that is not already part of the taxonomy as ErrUnknown
func Ensure(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return Unknown(provider, "request failed", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
