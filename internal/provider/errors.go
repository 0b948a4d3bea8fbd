package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the error taxonomy spec.md §7 requires the engine to
// pattern-match on. Adapters must tag every error they return with one of
// these kinds rather than relying on string inspection.
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindRateLimited
	KindAuthExpired
	KindInvalidDeltaToken
	KindTransient
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindInvalidDeltaToken:
		return "invalid_delta_token"
	case KindTransient:
		return "transient"
	case KindUnsupported:
		return "unsupported"
	default:
		return "permanent"
	}
}

// Error is the result-carrying error type adapters return, replacing
// exception-for-control-flow per spec.md §9.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited builds a KindRateLimited error, optionally carrying the
// provider's retry-after hint.
func RateLimited(providerName, message string, retryAfter *time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Provider: providerName, Message: message, RetryAfter: retryAfter}
}

// AuthExpired builds a KindAuthExpired error.
func AuthExpired(providerName, message string) *Error {
	return &Error{Kind: KindAuthExpired, Provider: providerName, Message: message}
}

// InvalidDeltaToken builds a KindInvalidDeltaToken error. This is the one
// legacy string-match boundary named in spec.md §9 ("Invalid sync token");
// callers outside the adapter never inspect text, only Kind().
func InvalidDeltaToken(providerName, message string) *Error {
	return &Error{Kind: KindInvalidDeltaToken, Provider: providerName, Message: message}
}

// Transient builds a KindTransient error (network failure or 5xx).
func Transient(providerName, message string, err error) *Error {
	return &Error{Kind: KindTransient, Provider: providerName, Message: message, Err: err}
}

// Unsupported builds a KindUnsupported error with a human-readable hint for
// the caller (e.g. "use OS calendar import instead").
func Unsupported(providerName, message string) *Error {
	return &Error{Kind: KindUnsupported, Provider: providerName, Message: message}
}

// Permanent builds a catch-all KindPermanent error (malformed payload, 4xx
// other than 401/429).
func Permanent(providerName, message string, err error) *Error {
	return &Error{Kind: KindPermanent, Provider: providerName, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindPermanent for
// errors not produced by this package.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindPermanent
}

// RetryAfterOf extracts the retry-after hint, if any.
func RetryAfterOf(err error) *time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return nil
}
