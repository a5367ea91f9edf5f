// Package errs classifies recognition failures so the transport can decide
// on retries and the orchestrator can decide on fallback.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the failure class of a provider call.
type Kind string

const (
	// KindUnavailable means the provider has no credentials configured. It is a skip, not a failure.
	KindUnavailable Kind = "unavailable"
	// KindAuth is HTTP 401/403. Never retried.
	KindAuth Kind = "auth"
	// KindRateLimited is HTTP 429. Retried within the provider budget.
	KindRateLimited Kind = "rate_limited"
	// KindServer is HTTP 5xx or an error event inside a stream. Retried.
	KindServer Kind = "server_error"
	// KindTimeout is a per-attempt deadline. Retried.
	KindTimeout Kind = "timeout"
	// KindConnection covers dial, TLS and reset errors. Retried.
	KindConnection Kind = "connection"
	// KindEmptyResult means the provider answered but found no text.
	KindEmptyResult Kind = "empty_result"
	// KindMalformed means the response had an unexpected shape.
	KindMalformed Kind = "malformed_response"
	// KindBadRequest is any other 4xx.
	KindBadRequest Kind = "bad_request"
	// KindInvalidInput is raised locally before any request is made.
	KindInvalidInput Kind = "invalid_input"
	// KindCanceled means the caller's context ended.
	KindCanceled Kind = "canceled"
	// KindUnknown is everything that did not match a class above.
	KindUnknown Kind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	Attempts   int
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt against the same provider may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServer, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

func New(provider string, kind Kind, msg string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: msg}
}

func Wrap(provider string, kind Kind, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Cause: cause}
}

// FromStatus classifies a non-2xx HTTP response. Body is kept short for logs.
func FromStatus(provider string, status int, body []byte) *Error {
	e := &Error{Provider: provider, StatusCode: status, Message: truncate(strings.TrimSpace(string(body)), 300)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindServer
	case status >= 400:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindMalformed
	}
	return e
}

// FromTransport classifies an error returned by an HTTP round trip.
// parent is the caller's context; a done parent always yields KindCanceled.
func FromTransport(parent context.Context, provider string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if parent != nil && parent.Err() != nil {
		return Wrap(provider, KindCanceled, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(provider, KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Wrap(provider, KindTimeout, err)
	}
	return Wrap(provider, KindConnection, err)
}

// KindOf returns the kind of err, KindCanceled for bare context errors
// and KindUnknown for anything unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// IsRetryable is Retryable for classified errors and false otherwise.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
